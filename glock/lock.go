package glock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gordian-engine/gledger/gmetrics"
	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent pessimistic readers.
// A writer acquires the entire weight.
const maxReaders = 1 << 30

// Lock is a non-reentrant reader/writer lock with optimistic reads.
// The zero value is not usable; use [New].
type Lock struct {
	sem *semaphore.Weighted

	// version is odd while a writer holds the lock
	// and increments on every exclusive acquire and release.
	version atomic.Uint64

	timeout time.Duration

	m *gmetrics.Metrics
}

// New returns a new Lock.
// Acquisitions give up after timeout with a [*ConcurrencyTimeoutError];
// a non-positive timeout means acquisitions wait until their context is done.
// The metrics value may be nil.
func New(timeout time.Duration, m *gmetrics.Metrics) *Lock {
	return &Lock{
		sem:     semaphore.NewWeighted(maxReaders),
		timeout: timeout,
		m:       m,
	}
}

// Timeout reports the acquisition timeout configured in [New].
func (l *Lock) Timeout() time.Duration {
	return l.timeout
}

// AcquireWrite blocks until the caller is the only holder of the lock,
// the configured timeout elapses, or ctx is done.
func (l *Lock) AcquireWrite(ctx context.Context) (*Exclusive, error) {
	if err := l.acquire(ctx, maxReaders, ModeWrite); err != nil {
		return nil, err
	}

	if l.version.Add(1)&1 != 1 {
		panic(fmt.Errorf("BUG: lock version even after exclusive acquire"))
	}

	return &Exclusive{l: l}, nil
}

// ReleaseWrite releases an exclusive hold.
// Releasing the same capability twice panics.
func (l *Lock) ReleaseWrite(x *Exclusive) {
	l.mustHold(x)
	x.released = true

	l.version.Add(1)
	l.sem.Release(maxReaders)
}

// AcquireRead blocks until no writer holds or is queued ahead of the caller,
// the configured timeout elapses, or ctx is done.
func (l *Lock) AcquireRead(ctx context.Context) (*Shared, error) {
	if err := l.acquire(ctx, 1, ModeRead); err != nil {
		return nil, err
	}
	return &Shared{l: l}, nil
}

// ReleaseRead releases a shared hold.
// Releasing the same capability twice panics.
func (l *Lock) ReleaseRead(s *Shared) {
	if s == nil || s.l != l {
		panic(fmt.Errorf("BUG: ReleaseRead called with a capability from a different lock"))
	}
	if s.released {
		panic(fmt.Errorf("BUG: shared capability released twice"))
	}
	s.released = true

	l.sem.Release(1)
}

func (l *Lock) acquire(ctx context.Context, weight int64, mode Mode) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}

	if l.sem.TryAcquire(weight) {
		l.m.ObserveLockWait(mode.String(), 0)
		return nil
	}

	start := time.Now()

	actx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := l.sem.Acquire(actx, weight); err != nil {
		if parentErr := context.Cause(ctx); parentErr != nil {
			return parentErr
		}

		l.m.LockTimedOut(mode.String())
		return &ConcurrencyTimeoutError{Mode: mode, Timeout: l.timeout}
	}

	l.m.ObserveLockWait(mode.String(), time.Since(start))
	return nil
}

// TryOptimisticRead returns a stamp for an optimistic read. It never blocks.
//
// If a writer currently holds the lock, the returned stamp will never validate,
// and callers should fall back to [*Lock.AcquireRead] immediately.
func (l *Lock) TryOptimisticRead() Stamp {
	return Stamp{v: l.version.Load()}
}

// Validate reports whether no writer has held the lock
// since s was obtained from [*Lock.TryOptimisticRead].
func (l *Lock) Validate(s Stamp) bool {
	return s.v&1 == 0 && l.version.Load() == s.v
}

// View runs fn as an optimistic read.
// If a writer interleaved, fn is run again under a shared hold,
// and the result of the second run is returned.
//
// fn must only read, and it must tolerate observing
// a state that a concurrent writer is in the middle of changing;
// such results are discarded.
func (l *Lock) View(ctx context.Context, fn func() error) error {
	if s := l.TryOptimisticRead(); s.Usable() {
		err := fn()
		if l.Validate(s) {
			l.m.OptimisticRead(true)
			return err
		}
	}
	l.m.OptimisticRead(false)

	sh, err := l.AcquireRead(ctx)
	if err != nil {
		return err
	}
	defer l.ReleaseRead(sh)

	return fn()
}

func (l *Lock) mustHold(x *Exclusive) {
	if x == nil || x.l != l {
		panic(fmt.Errorf("BUG: exclusive capability does not belong to this lock"))
	}
	if x.released {
		panic(fmt.Errorf("BUG: exclusive capability used after release"))
	}
}

// MustHold panics unless x is a live exclusive capability on l.
// Core functions call this to reject capabilities from other locks
// or capabilities that were already released.
func (l *Lock) MustHold(x *Exclusive) {
	l.mustHold(x)
}

// MustRead panics unless r is a live capability on l.
func (l *Lock) MustRead(r Reader) {
	switch c := r.(type) {
	case *Exclusive:
		l.mustHold(c)
	case *Shared:
		if c == nil || c.l != l || c.released {
			panic(fmt.Errorf("BUG: shared capability is not live on this lock"))
		}
	default:
		panic(fmt.Errorf("BUG: unknown reader capability %T", r))
	}
}
