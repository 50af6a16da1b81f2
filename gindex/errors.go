package gindex

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gledger/gblock"
)

// ErrShutdown is returned when scheduling on a coordinator
// that has been shut down and not reset.
var ErrShutdown = errors.New("indexing coordinator is shut down")

// ErrAbandoned is the cause of tasks that never ran, or were interrupted,
// because the coordinator was shut down immediately.
// Abandoned ranges are not guaranteed to be indexed
// and must be rescheduled to become searchable.
var ErrAbandoned = errors.New("indexing task abandoned by immediate shutdown")

// SubmitTimeoutError is returned when the task queue stayed full
// for the whole submit timeout.
type SubmitTimeoutError struct {
	Range     gblock.Range
	Timeout   time.Duration
	QueueSize int
}

func (e *SubmitTimeoutError) Error() string {
	return fmt.Sprintf(
		"timed out after %s scheduling indexing of %s: queue of %d tasks is full",
		e.Timeout, e.Range, e.QueueSize,
	)
}

// IndexingFailure records one block that could not be indexed.
// The block itself is unaffected; the range may be rescheduled.
type IndexingFailure struct {
	Range    gblock.Range
	Sequence uint64
	Strategy string
	Cause    error
}

func (e *IndexingFailure) Error() string {
	return fmt.Sprintf(
		"failed to index block %d (task range %s, strategy %s): %v",
		e.Sequence, e.Range, e.Strategy, e.Cause,
	)
}

func (e *IndexingFailure) Unwrap() error {
	return e.Cause
}

// IsIndexingFailure reports whether err is or wraps an [*IndexingFailure].
func IsIndexingFailure(err error) bool {
	var f *IndexingFailure
	return errors.As(err, &f)
}
