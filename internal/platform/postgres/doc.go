// Package postgres provides the PostgreSQL implementation of the task store
// interface defined in the internal/store package, along with the embedded
// schema migrations. It handles query execution, row locking for atomic
// lifecycle transitions, and data mapping between domain tasks and database
// records.
package postgres
