// Package gchainmemstore contains an in-memory [gchainstore.Store].
package gchainmemstore

import (
	"context"
	"slices"
	"sync"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
)

// Store holds blocks in a slice indexed by sequence.
//
// Appends never modify elements already visible to a scan,
// and truncation replaces the slice,
// so a scan over a snapshot of the slice header is isolated from writers.
type Store struct {
	caps gchainstore.Capabilities

	mu     sync.RWMutex
	blocks []gblock.Block
}

// New returns an empty Store advertising caps.
// Scans are always snapshot-isolated,
// so caps only controls which pagination strategy callers pick.
func New(caps gchainstore.Capabilities) *Store {
	return &Store{caps: caps}
}

func (s *Store) Capabilities() gchainstore.Capabilities {
	return s.caps
}

func (s *Store) snapshot() []gblock.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[:len(s.blocks):len(s.blocks)]
}

func (s *Store) Tail(context.Context) (gblock.Block, error) {
	bs := s.snapshot()
	if len(bs) == 0 {
		return gblock.Block{}, gchainstore.ErrEmpty
	}
	return bs[len(bs)-1], nil
}

func (s *Store) Get(_ context.Context, seq uint64) (gblock.Block, error) {
	bs := s.snapshot()
	if seq >= uint64(len(bs)) {
		return gblock.Block{}, gchainstore.BlockNotFoundError{Sequence: seq}
	}
	return bs[seq], nil
}

func (s *Store) ReadRange(
	ctx context.Context, start uint64, limit int, dst []gblock.Block,
) ([]gblock.Block, error) {
	dst = dst[:0]
	bs := s.snapshot()
	if start >= uint64(len(bs)) || limit <= 0 {
		return dst, nil
	}

	end := min(start+uint64(limit), uint64(len(bs)))
	return append(dst, bs[start:end]...), nil
}

func (s *Store) Scan(ctx context.Context, start, end uint64, fn func(gblock.Block) error) error {
	bs := s.snapshot()
	for seq := start; seq <= end && seq < uint64(len(bs)); seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(bs[seq]); err != nil {
			return err
		}
		if seq == end {
			// Avoid overflow when end is the maximum uint64.
			break
		}
	}
	return nil
}

func (s *Store) Append(_ context.Context, blocks []gblock.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := gchainstore.CheckContiguous(uint64(len(s.blocks)), blocks); err != nil {
		return err
	}

	s.blocks = append(s.blocks, gblock.CloneBlocks(blocks)...)
	return nil
}

func (s *Store) TruncateAfter(_ context.Context, seq uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := seq + 1
	if keep >= uint64(len(s.blocks)) {
		return 0, nil
	}

	removed := len(s.blocks) - int(keep)
	s.blocks = slices.Clone(s.blocks[:keep])
	return removed, nil
}

// Tamper applies fn to the stored block at seq, bypassing all validation.
// It exists so tests can simulate storage corruption.
func (s *Store) Tamper(seq uint64, fn func(*gblock.Block)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = slices.Clone(s.blocks)
	b := s.blocks[seq].Clone()
	fn(&b)
	s.blocks[seq] = b
}
