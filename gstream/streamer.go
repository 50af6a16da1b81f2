// Package gstream traverses ledger blocks in bounded-size chunks.
//
// Every bulk operation over the chain (validation, export, linear search,
// indexing reads, maintenance sweeps) goes through a [*Streamer]
// so that memory use depends on the chunk size, not on the chain length.
package gstream

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/trace"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/glock"
	"github.com/gordian-engine/gledger/gmetrics"
)

// Source is the subset of [gchainstore.Store] needed for streaming.
type Source interface {
	Capabilities() gchainstore.Capabilities
	ReadRange(ctx context.Context, start uint64, limit int, dst []gblock.Block) ([]gblock.Block, error)
	Scan(ctx context.Context, start, end uint64, fn func(gblock.Block) error) error
}

// Strategy is how a [*Streamer] pages through its source.
type Strategy uint8

const (
	// StrategyAuto picks StrategyCursor if the source supports it,
	// and StrategyOffset otherwise.
	StrategyAuto Strategy = iota

	// StrategyCursor uses a single forward-only backend scan,
	// relying on the backend's snapshot isolation.
	StrategyCursor

	// StrategyOffset reads one keyset page at a time,
	// each page as an optimistic read validated against the ledger lock.
	StrategyOffset
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyCursor:
		return "cursor"
	case StrategyOffset:
		return "offset"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// ParseStrategy is the inverse of [Strategy.String].
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "auto":
		return StrategyAuto, nil
	case "cursor":
		return StrategyCursor, nil
	case "offset":
		return StrategyOffset, nil
	default:
		return 0, fmt.Errorf("unknown stream strategy %q", s)
	}
}

// Visitor receives each chunk.
//
// The chunk slice and its backing array are reused for the next chunk,
// so a visitor must copy any block it retains past its return.
// A visitor must not write to the ledger; it may be running inside
// a backend read transaction or while a read lock is held.
// Returning an error stops the traversal and the error is returned to the caller.
type Visitor func(chunk []gblock.Block) error

type Config struct {
	Source Source

	// Lock guards offset pages. It may be nil when the source
	// is not shared with a writer, e.g. during offline tools.
	Lock *glock.Lock

	// Force overrides the capability probe when not StrategyAuto.
	Force Strategy

	Metrics *gmetrics.Metrics
}

// Streamer produces chunks from a Source.
// The strategy is chosen once, in [New].
type Streamer struct {
	log  *slog.Logger
	src  Source
	lock *glock.Lock
	m    *gmetrics.Metrics

	strategy Strategy
}

func New(log *slog.Logger, cfg Config) *Streamer {
	strategy := cfg.Force
	if strategy == StrategyAuto {
		if cfg.Source.Capabilities().Cursor {
			strategy = StrategyCursor
		} else {
			strategy = StrategyOffset
		}
	}

	log.Debug("Selected stream strategy", "strategy", strategy, "forced", cfg.Force != StrategyAuto)

	return &Streamer{
		log:  log,
		src:  cfg.Source,
		lock: cfg.Lock,
		m:    cfg.Metrics,

		strategy: strategy,
	}
}

// Strategy reports the strategy selected in [New].
func (s *Streamer) Strategy() Strategy {
	return s.strategy
}

// ForEachChunk calls visit with consecutive chunks of at most chunkSize blocks
// covering r in ascending order, stopping early at the end of the chain.
func (s *Streamer) ForEachChunk(ctx context.Context, r gblock.Range, chunkSize int, visit Visitor) error {
	return s.forEachChunk(ctx, nil, r, chunkSize, visit)
}

// ForEachChunkLocked is like [*Streamer.ForEachChunk]
// for callers that already hold the ledger lock.
// It never touches the lock itself.
func (s *Streamer) ForEachChunkLocked(
	ctx context.Context, rd glock.Reader, r gblock.Range, chunkSize int, visit Visitor,
) error {
	if rd == nil {
		panic(fmt.Errorf("BUG: ForEachChunkLocked requires a lock capability"))
	}
	if s.lock != nil {
		s.lock.MustRead(rd)
	}
	return s.forEachChunk(ctx, rd, r, chunkSize, visit)
}

func (s *Streamer) forEachChunk(
	ctx context.Context, rd glock.Reader, r gblock.Range, chunkSize int, visit Visitor,
) error {
	if chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive (got %d)", chunkSize)
	}
	if !r.Valid() {
		return nil
	}

	defer trace.StartRegion(ctx, "ForEachChunk").End()

	switch s.strategy {
	case StrategyCursor:
		return s.cursorChunks(ctx, r, chunkSize, visit)
	case StrategyOffset:
		return s.offsetChunks(ctx, rd, r, chunkSize, visit)
	default:
		panic(fmt.Errorf("BUG: unhandled stream strategy %s", s.strategy))
	}
}

func (s *Streamer) cursorChunks(ctx context.Context, r gblock.Range, chunkSize int, visit Visitor) error {
	buf := make([]gblock.Block, 0, chunkSize)

	err := s.src.Scan(ctx, r.First, r.Last, func(b gblock.Block) error {
		buf = append(buf, b)
		if len(buf) < chunkSize {
			return nil
		}

		s.m.StreamChunk("cursor")
		err := visit(buf)
		clear(buf)
		buf = buf[:0]
		return err
	})
	if err != nil {
		return err
	}

	if len(buf) > 0 {
		s.m.StreamChunk("cursor")
		return visit(buf)
	}
	return nil
}

func (s *Streamer) offsetChunks(
	ctx context.Context, rd glock.Reader, r gblock.Range, chunkSize int, visit Visitor,
) error {
	buf := make([]gblock.Block, 0, chunkSize)
	next := r.First

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		limit := chunkSize
		if remaining := r.Last - next; remaining < uint64(limit) {
			limit = int(remaining) + 1
		}

		read := func() error {
			var err error
			buf, err = s.src.ReadRange(ctx, next, limit, buf)
			return err
		}

		var err error
		if rd != nil || s.lock == nil {
			err = read()
		} else {
			err = s.lock.View(ctx, read)
		}
		if err != nil {
			return fmt.Errorf("failed to read page starting at %d: %w", next, err)
		}

		if len(buf) == 0 {
			return nil
		}

		s.m.StreamChunk("offset")
		if err := visit(buf); err != nil {
			return err
		}

		last := buf[len(buf)-1].Sequence
		if len(buf) < limit || last >= r.Last {
			return nil
		}
		next = last + 1
	}
}
