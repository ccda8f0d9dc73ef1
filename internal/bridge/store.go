package bridge

import (
	"context"
	"errors"
)

// ErrConflict is returned by Store.Create when a job with the same
// idempotency key already exists, and by Store.Update when the caller
// tries to move a job out of a terminal state.
var ErrConflict = errors.New("bridge: conflicting job state")

// ErrNotFound is returned when a job id or idempotency key has no match.
var ErrNotFound = errors.New("bridge: job not found")

// Store is the Bridge Job Store (C9): durable, idempotency-key-unique
// persistence for Job records.
type Store interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Job, error)
	// Update persists job's current fields. Implementations must reject the
	// update with ErrConflict if the persisted row is already in a
	// terminal state and job.Status is any status different from it,
	// enforcing (I2)'s monotonic terminal transitions.
	Update(ctx context.Context, job *Job) error
	// ListStale returns pending/bridging jobs whose UpdatedAt is older than
	// the given threshold, for the worker's recovery scan.
	ListStale(ctx context.Context, olderThanSeconds int64) ([]*Job, error)
}
