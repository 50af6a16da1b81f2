package gbatch

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch is returned when a batch has no requests.
var ErrEmptyBatch = errors.New("batch has no requests")

// CapacityExceededError reports a request over a configured ceiling.
// Oversized inputs are rejected whole, never truncated.
type CapacityExceededError struct {
	What  string
	Limit int
	Got   int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s exceeds limit of %d (got %d)", e.What, e.Limit, e.Got)
}

// BatchRejectedError identifies the request that caused a batch to be rejected.
// No block from the batch was committed.
type BatchRejectedError struct {
	// Index of the offending request within the batch.
	Index int

	Err error
}

func (e *BatchRejectedError) Error() string {
	return fmt.Sprintf("batch rejected at request %d: %v", e.Index, e.Err)
}

func (e *BatchRejectedError) Unwrap() error {
	return e.Err
}
