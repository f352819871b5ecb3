// Package redisqueue implements the dispatch queue on a Redis list. The
// queue carries task IDs only; the task rows in PostgreSQL stay the source
// of truth, so a lost or duplicated signal is recoverable and a stale one is
// harmless.
package redisqueue
