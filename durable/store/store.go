package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for a step key.
var ErrNotFound = errors.New("not found")

// ErrRecordCompleted is returned by Upsert when the stored record for the key
// is already COMPLETED. Completed records are read-only.
var ErrRecordCompleted = errors.New("record already completed")

// ErrClosed is returned by every operation on a store after Close.
var ErrClosed = errors.New("store is closed")

// Store persists one Record per step attempt, addressed by StepKey.
//
// The executor is the only writer. Both operations must be durable and atomic
// at the granularity of a single call: a crash never leaves a partially
// written record behind.
//
// Implementations:
//   - MemStore: in-process maps, for tests and single-process demos
//   - SQLiteStore: single-file database (modernc.org/sqlite)
//   - MySQLStore: MySQL/MariaDB for shared deployments
type Store interface {
	// Get returns the record stored under key.
	//
	// Returns ErrNotFound if nothing was ever written for key. Any other
	// error means the store could not answer and the caller must not assume
	// the record is absent.
	Get(ctx context.Context, key StepKey) (Record, error)

	// Upsert inserts rec or replaces the record with the same key.
	//
	// Upsert is a conditional write: replacing a COMPLETED record fails with
	// ErrRecordCompleted and leaves the stored record unchanged.
	Upsert(ctx context.Context, rec Record) error
}

// Lister is implemented by stores that can enumerate the records of one
// execution. The engine uses it for replay verification and History.
type Lister interface {
	// List returns every record for executionID ordered by sequence number.
	// An unknown execution yields an empty slice, not ErrNotFound.
	List(ctx context.Context, executionID string) ([]Record, error)
}
