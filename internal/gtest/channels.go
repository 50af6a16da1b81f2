package gtest

import (
	"time"
)

// TestingFatalHelper is the part of [testing.TB] the channel helpers need.
// Tests of the helpers substitute their own implementation.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

const flakyHint = "if this is flaky on only one machine, set GLEDGER_TEST_TIME_FACTOR above its current value of %d"

// ReceiveSoon receives from ch, failing the test
// if nothing arrives within a short default timeout.
//
// Future completion channels are the common case:
//
//	gtest.ReceiveSoon(t, fut.Done())
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout is [ReceiveSoon] with an explicit timeout,
// for the few waits that legitimately take longer
// (graceful shutdowns, large synthetic chains).
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("refusing to receive from nil channel %T", ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case x := <-ch:
		return x
	case <-timer.C:
		tb.Fatalf("timed out after %s receiving from %T; "+flakyHint, time.Duration(timeout), ch, TimeFactor)
		// A real Fatalf stops the goroutine; the test double does not.
		panic("unreachable")
	}
}

// NotSending fails the test if a value is ready on ch right now.
func NotSending[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("nil channel %T can never send; the check is meaningless", ch)
		panic("unreachable")
	}

	select {
	case x := <-ch:
		tb.Fatalf("expected no value on %T, got %v", ch, x)
	default:
	}
}

// NotSendingSoon fails the test if a value arrives on ch within a short window.
// It always costs the full window, so prefer [NotSending]
// when another event already orders the check.
func NotSendingSoon[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("nil channel %T can never send; the check is meaningless", ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(ScaleMs(75)))
	defer timer.Stop()

	select {
	case <-timer.C:
	case x := <-ch:
		tb.Fatalf("expected no value on %T within the window, got %v", ch, x)
	}
}
