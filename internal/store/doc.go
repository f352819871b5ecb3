// Package store defines the persistence interfaces for the task lifecycle
// and the error taxonomy shared by their implementations. The interfaces
// abstract the underlying storage mechanism from the application's core
// logic, so the lifecycle rules stay independent of database specifics.
package store
