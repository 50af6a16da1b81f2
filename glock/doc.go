// Package glock provides the single lock that guards a ledger.
//
// A [*Lock] has three modes.
// Exclusive acquisition ([*Lock.AcquireWrite]) returns an [*Exclusive] capability;
// pessimistic shared acquisition ([*Lock.AcquireRead]) returns a [*Shared] capability;
// and optimistic reads ([*Lock.TryOptimisticRead]) return a [Stamp]
// that must be checked with [*Lock.Validate] after the read completes.
//
// The lock is not reentrant.
// Code that already holds a capability must not call the acquiring methods again;
// instead, packages expose "core" functions that accept the capability as a parameter,
// alongside "entry" functions that acquire and release it.
// Because a capability value can only be obtained by acquiring the lock,
// a core function's signature is proof that the caller holds the lock.
//
// Waiters are served in arrival order.
// Once a writer is waiting, readers that arrive later wait behind it,
// so a steady stream of readers cannot starve writers.
package glock
