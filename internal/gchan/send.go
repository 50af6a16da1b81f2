// Package gchan holds channel helpers that log consistently
// when a send is abandoned.
package gchan

import (
	"context"
	"log/slog"
	"time"
)

// SendResult is the outcome of [SendWithin].
type SendResult uint8

const (
	Sent SendResult = iota
	SendCanceled
	SendTimedOut
)

// SendWithin sends val to out, giving up when ctx is canceled or timeout elapses.
// Cancellation is logged at info level with the context cause.
// An immediately possible send always succeeds, even with a zero timeout.
//
// Timeouts are logged only at debug level;
// the caller reports the backpressure.
func SendWithin[T any](
	ctx context.Context, log *slog.Logger,
	out chan<- T, val T,
	timeout time.Duration,
	during string,
) SendResult {
	select {
	case out <- val:
		return Sent
	default:
	}

	if timeout <= 0 {
		log.Debug("Blocked on send with no timeout while "+during)
		return SendTimedOut
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+during, "cause", context.Cause(ctx))
		return SendCanceled
	case out <- val:
		return Sent
	case <-timer.C:
		log.Debug("Timed out sending while "+during, "timeout", timeout)
		return SendTimedOut
	}
}
