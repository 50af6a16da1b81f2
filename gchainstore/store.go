// Package gchainstore defines the persistence contract for ledger blocks.
//
// Implementations live in subpackages ([gchainmemstore])
// and in the backend packages gsqlite and gbadger.
// The [gchainstoretest] package contains a compliance suite
// that every implementation must pass.
package gchainstore

import (
	"context"
	"errors"

	"github.com/gordian-engine/gledger/gblock"
)

// Capabilities describes optional behavior of a [Store].
// The streaming layer inspects it once to choose a pagination strategy.
type Capabilities struct {
	// Cursor reports whether [Store.Scan] iterates over a consistent snapshot,
	// so that concurrent appends and truncations are not observed mid-scan.
	// Stores without cursor support must still implement Scan,
	// but callers must not rely on its isolation.
	Cursor bool
}

// Store persists blocks keyed by sequence.
//
// Stores perform no chain validation; the ledger validates blocks before calling Append.
// Stores must be safe for concurrent use,
// although the ledger only calls the mutating methods while holding its exclusive lock.
type Store interface {
	Capabilities() Capabilities

	// Tail returns the block with the highest sequence,
	// or [ErrEmpty] if no blocks are stored.
	Tail(ctx context.Context) (gblock.Block, error)

	// Get returns the block at seq,
	// or a [BlockNotFoundError] if there is no such block.
	Get(ctx context.Context, seq uint64) (gblock.Block, error)

	// ReadRange appends to dst[:0] up to limit blocks in ascending order,
	// starting at sequence start, and returns the extended slice.
	// Fewer than limit blocks are returned only when the end of the chain is reached.
	ReadRange(ctx context.Context, start uint64, limit int, dst []gblock.Block) ([]gblock.Block, error)

	// Scan calls fn for each block in the inclusive range [start, end],
	// in ascending order, stopping early if fn returns an error
	// and returning that error.
	// fn must not modify the block.
	Scan(ctx context.Context, start, end uint64, fn func(gblock.Block) error) error

	// Append atomically stores blocks.
	// The first block's sequence must follow the current tail
	// (or be zero when the store is empty),
	// and the sequences must be contiguous;
	// otherwise a [*SequenceConflictError] is returned and nothing is stored.
	Append(ctx context.Context, blocks []gblock.Block) error

	// TruncateAfter removes every block with a sequence greater than seq,
	// returning the number of blocks removed.
	TruncateAfter(ctx context.Context, seq uint64) (int, error)
}

// ExpectedNext returns the sequence the next appended block must have,
// given the store's current tail.
func ExpectedNext(ctx context.Context, s Store) (uint64, error) {
	tail, err := s.Tail(ctx)
	if errors.Is(err, ErrEmpty) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return tail.Sequence + 1, nil
}

// CheckContiguous returns a [*SequenceConflictError] unless blocks
// are contiguous and start at next.
// Store implementations call it at the start of Append.
func CheckContiguous(next uint64, blocks []gblock.Block) error {
	for i, b := range blocks {
		if want := next + uint64(i); b.Sequence != want {
			return &SequenceConflictError{Want: want, Got: b.Sequence}
		}
	}
	return nil
}
