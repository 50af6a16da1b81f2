package gchainstore

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned from [Store.Tail] when no blocks are stored.
var ErrEmpty = errors.New("store is empty")

// ErrBlockNotFound matches every [BlockNotFoundError] with [errors.Is].
var ErrBlockNotFound = errors.New("block not found")

// BlockNotFoundError is returned when a requested sequence is not stored.
type BlockNotFoundError struct {
	Sequence uint64
}

func (e BlockNotFoundError) Error() string {
	return fmt.Sprintf("no block at sequence %d", e.Sequence)
}

func (e BlockNotFoundError) Is(target error) bool {
	return target == ErrBlockNotFound
}

// SequenceConflictError is returned from [Store.Append]
// when the blocks do not continue the stored chain.
type SequenceConflictError struct {
	Want, Got uint64
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict: expected block %d, got %d", e.Want, e.Got)
}

// StorageError wraps a backend I/O failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a [*StorageError].
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
