// Package gchain maintains the hash-linked block sequence.
//
// A [*Ledger] assigns sequence numbers, links each block to its predecessor,
// and verifies signatures and signer authorization.
// Mutations happen only inside a write session ([*Writer]),
// which can only be opened by a holder of the ledger's exclusive lock.
//
// Methods come in two forms. Entry forms (e.g. [*Ledger.Append], [*Ledger.TruncateAfter])
// acquire the lock themselves. Core forms (e.g. [*Ledger.Begin], [*Ledger.TruncateAfterLocked])
// take a lock capability and never touch the lock,
// so they can be composed inside an existing critical section.
package gchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/glock"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/gordian-engine/gledger/gstream"
	"github.com/gordian-engine/gledger/internal/glog"
)

// Limits bounds the work a ledger accepts.
type Limits struct {
	// MaxPayloadSize is the largest accepted [gblock.Payload.Size].
	// Zero means unlimited.
	MaxPayloadSize int

	// MaxReportedInvalid caps the invalid blocks listed in a [ValidationReport].
	// Zero means unlimited.
	MaxReportedInvalid int

	// ValidationChunkSize is the chunk size used when streaming
	// blocks for range validation.
	ValidationChunkSize int
}

type Config struct {
	Store      gchainstore.Store
	HashScheme gblock.HashScheme
	Directory  gauth.Directory
	Lock       *glock.Lock

	// Streamer is used for range validation.
	// If nil, one is created over Store and Lock.
	Streamer *gstream.Streamer

	Limits Limits

	// Now supplies timestamps for candidates that do not set one.
	// Defaults to time.Now.
	Now func() time.Time

	Metrics *gmetrics.Metrics
}

// Ledger is the chain of committed blocks.
type Ledger struct {
	log *slog.Logger

	store  gchainstore.Store
	hs     gblock.HashScheme
	dir    gauth.Directory
	lock   *glock.Lock
	stream *gstream.Streamer
	limits Limits
	now    func() time.Time
	m      *gmetrics.Metrics

	// tail is only written while holding the exclusive lock.
	// It is nil when the chain is empty.
	tail atomic.Pointer[gblock.Block]
}

// New returns a Ledger over the blocks already in cfg.Store.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Ledger, error) {
	if cfg.Store == nil || cfg.HashScheme == nil || cfg.Directory == nil || cfg.Lock == nil {
		panic(fmt.Errorf("BUG: gchain.Config requires Store, HashScheme, Directory, and Lock"))
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Limits.ValidationChunkSize <= 0 {
		cfg.Limits.ValidationChunkSize = 1000
	}
	if cfg.Streamer == nil {
		cfg.Streamer = gstream.New(log.With("sys", "stream"), gstream.Config{
			Source:  cfg.Store,
			Lock:    cfg.Lock,
			Metrics: cfg.Metrics,
		})
	}

	l := &Ledger{
		log: log,

		store:  cfg.Store,
		hs:     cfg.HashScheme,
		dir:    cfg.Directory,
		lock:   cfg.Lock,
		stream: cfg.Streamer,
		limits: cfg.Limits,
		now:    cfg.Now,
		m:      cfg.Metrics,
	}

	tail, err := cfg.Store.Tail(ctx)
	switch {
	case errors.Is(err, gchainstore.ErrEmpty):
		log.Info("Opened empty ledger")
	case err != nil:
		return nil, fmt.Errorf("failed to load ledger tail: %w", err)
	default:
		l.tail.Store(&tail)
		log.Info("Opened ledger", "tail_seq", tail.Sequence, "tail_hash", glog.ShortHex(tail.Hash))
	}

	return l, nil
}

// Lock returns the lock guarding the ledger.
func (l *Ledger) Lock() *glock.Lock {
	return l.lock
}

// Streamer returns the streamer used for bulk reads of the ledger.
func (l *Ledger) Streamer() *gstream.Streamer {
	return l.stream
}

// Tail returns the most recently committed block,
// or [gchainstore.ErrEmpty] if no block has been committed.
// It never blocks.
func (l *Ledger) Tail(context.Context) (gblock.Block, error) {
	t := l.tail.Load()
	if t == nil {
		return gblock.Block{}, gchainstore.ErrEmpty
	}
	return *t, nil
}

// Get returns the committed block at seq.
// The read is optimistic and retried under a shared hold if a writer interleaves,
// so it never observes blocks of an uncommitted write session.
func (l *Ledger) Get(ctx context.Context, seq uint64) (gblock.Block, error) {
	var b gblock.Block
	err := l.lock.View(ctx, func() error {
		var err error
		b, err = l.get(ctx, seq)
		return err
	})
	return b, err
}

// GetLocked is the core form of [*Ledger.Get].
func (l *Ledger) GetLocked(ctx context.Context, rd glock.Reader, seq uint64) (gblock.Block, error) {
	l.lock.MustRead(rd)
	return l.get(ctx, seq)
}

func (l *Ledger) get(ctx context.Context, seq uint64) (gblock.Block, error) {
	t := l.tail.Load()
	if t == nil || seq > t.Sequence {
		return gblock.Block{}, gchainstore.BlockNotFoundError{Sequence: seq}
	}
	return l.store.Get(ctx, seq)
}

// TruncateAfter removes every block after seq.
// It is the only way blocks are ever removed.
// It does not repair a broken chain; it discards the tail past seq.
func (l *Ledger) TruncateAfter(ctx context.Context, seq uint64) (int, error) {
	x, err := l.lock.AcquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer l.lock.ReleaseWrite(x)

	return l.TruncateAfterLocked(ctx, x, seq)
}

// TruncateAfterLocked is the core form of [*Ledger.TruncateAfter].
func (l *Ledger) TruncateAfterLocked(ctx context.Context, x *glock.Exclusive, seq uint64) (int, error) {
	l.lock.MustHold(x)

	tail := l.tail.Load()
	if tail == nil || seq >= tail.Sequence {
		return 0, nil
	}

	n, err := l.store.TruncateAfter(ctx, seq)
	if err != nil {
		// The store may have removed some blocks before failing.
		l.reloadTail(context.WithoutCancel(ctx))
		return n, fmt.Errorf("failed to truncate after %d: %w", seq, err)
	}

	newTail, err := l.store.Get(ctx, seq)
	if err != nil {
		l.reloadTail(context.WithoutCancel(ctx))
		return n, fmt.Errorf("failed to reload tail after truncating to %d: %w", seq, err)
	}
	l.tail.Store(&newTail)
	l.m.Truncated(seq)

	l.log.Warn(
		"Truncated ledger",
		"new_tail_seq", seq, "old_tail_seq", tail.Sequence, "removed", n,
	)

	return n, nil
}

// reloadTail replaces the cached tail with whatever the store now holds.
// The caller must hold the exclusive lock.
// If the store cannot report its tail, the cached value is left unchanged.
func (l *Ledger) reloadTail(ctx context.Context) {
	tail, err := l.store.Tail(ctx)
	switch {
	case errors.Is(err, gchainstore.ErrEmpty):
		l.tail.Store(nil)
		l.log.Warn("Ledger is empty after failed truncation")
	case err != nil:
		l.log.Error("Failed to reload tail after failed truncation; cached tail may be stale", "err", err)
	default:
		l.tail.Store(&tail)
		l.m.Truncated(tail.Sequence)
		l.log.Warn("Reloaded tail after failed truncation", "tail_seq", tail.Sequence)
	}
}
