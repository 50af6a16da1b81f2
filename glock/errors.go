package glock

import (
	"errors"
	"fmt"
	"time"
)

// ErrConcurrencyTimeout matches every [*ConcurrencyTimeoutError] with [errors.Is].
var ErrConcurrencyTimeout = errors.New("concurrency timeout")

// ConcurrencyTimeoutError is returned when a lock acquisition
// did not succeed within the configured timeout.
// The condition is transient and the operation may be retried.
type ConcurrencyTimeoutError struct {
	Mode    Mode
	Timeout time.Duration
}

func (e *ConcurrencyTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s lock", e.Timeout, e.Mode)
}

func (e *ConcurrencyTimeoutError) Is(target error) bool {
	return target == ErrConcurrencyTimeout
}

// IsConcurrencyTimeout reports whether err is or wraps a [*ConcurrencyTimeoutError].
func IsConcurrencyTimeout(err error) bool {
	return errors.Is(err, ErrConcurrencyTimeout)
}
