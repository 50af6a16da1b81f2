// Package gchainstoretest contains a compliance suite for [gchainstore.Store] implementations.
package gchainstoretest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gblock/gblocktest"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns a new, empty store for one subtest.
// The cleanup function is the subtest's t.Cleanup.
type StoreFactory func(cleanup func(func())) (gchainstore.Store, error)

// TestStoreCompliance runs the shared tests against stores created by f.
func TestStoreCompliance(t *testing.T, f StoreFactory) {
	newStore := func(t *testing.T) gchainstore.Store {
		t.Helper()
		s, err := f(t.Cleanup)
		require.NoError(t, err)
		return s
	}

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)

		_, err := s.Tail(ctx)
		require.ErrorIs(t, err, gchainstore.ErrEmpty)

		_, err = s.Get(ctx, 0)
		require.ErrorIs(t, err, gchainstore.ErrBlockNotFound)

		got, err := s.ReadRange(ctx, 0, 10, nil)
		require.NoError(t, err)
		require.Empty(t, got)

		require.NoError(t, s.Scan(ctx, 0, math.MaxUint64, func(gblock.Block) error {
			t.Fatal("scan of empty store called fn")
			return nil
		}))

		next, err := gchainstore.ExpectedNext(ctx, s)
		require.NoError(t, err)
		require.Zero(t, next)
	})

	t.Run("append and read back", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		fx := gblocktest.NewFixture(1)
		chain := fx.Chain(5)

		require.NoError(t, s.Append(ctx, chain[:2]))
		require.NoError(t, s.Append(ctx, chain[2:]))

		tail, err := s.Tail(ctx)
		require.NoError(t, err)
		requireSameBlock(t, chain[4], tail)

		for _, want := range chain {
			got, err := s.Get(ctx, want.Sequence)
			require.NoError(t, err)
			requireSameBlock(t, want, got)
		}

		_, err = s.Get(ctx, 5)
		var nf gchainstore.BlockNotFoundError
		require.ErrorAs(t, err, &nf)
		require.Equal(t, uint64(5), nf.Sequence)

		next, err := gchainstore.ExpectedNext(ctx, s)
		require.NoError(t, err)
		require.Equal(t, uint64(5), next)
	})

	t.Run("read range", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		fx := gblocktest.NewFixture(1)
		chain := fx.Chain(7)
		require.NoError(t, s.Append(ctx, chain))

		buf := make([]gblock.Block, 0, 3)
		got, err := s.ReadRange(ctx, 2, 3, buf)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, b := range got {
			requireSameBlock(t, chain[2+i], b)
		}

		// Short read at the end of the chain, reusing the buffer.
		got, err = s.ReadRange(ctx, 5, 3, got)
		require.NoError(t, err)
		require.Len(t, got, 2)
		requireSameBlock(t, chain[5], got[0])
		requireSameBlock(t, chain[6], got[1])

		got, err = s.ReadRange(ctx, 7, 3, got)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("scan range and early stop", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		fx := gblocktest.NewFixture(1)
		chain := fx.Chain(6)
		require.NoError(t, s.Append(ctx, chain))

		var seen []uint64
		require.NoError(t, s.Scan(ctx, 1, 3, func(b gblock.Block) error {
			seen = append(seen, b.Sequence)
			return nil
		}))
		require.Equal(t, []uint64{1, 2, 3}, seen)

		seen = seen[:0]
		require.NoError(t, s.Scan(ctx, 4, math.MaxUint64, func(b gblock.Block) error {
			seen = append(seen, b.Sequence)
			return nil
		}))
		require.Equal(t, []uint64{4, 5}, seen)

		stop := errors.New("stop")
		seen = seen[:0]
		err := s.Scan(ctx, 0, 5, func(b gblock.Block) error {
			seen = append(seen, b.Sequence)
			if b.Sequence == 1 {
				return stop
			}
			return nil
		})
		require.ErrorIs(t, err, stop)
		require.Equal(t, []uint64{0, 1}, seen)
	})

	t.Run("append conflicts are atomic", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		fx := gblocktest.NewFixture(1)
		chain := fx.Chain(6)
		require.NoError(t, s.Append(ctx, chain[:2]))

		// Gap at the start.
		var sce *gchainstore.SequenceConflictError
		err := s.Append(ctx, chain[3:5])
		require.ErrorAs(t, err, &sce)
		require.Equal(t, uint64(2), sce.Want)
		require.Equal(t, uint64(3), sce.Got)

		// Gap in the middle; the valid prefix must not be stored.
		err = s.Append(ctx, []gblock.Block{chain[2], chain[4]})
		require.ErrorAs(t, err, &sce)

		// Replaying a stored block.
		err = s.Append(ctx, chain[1:3])
		require.ErrorAs(t, err, &sce)

		tail, err := s.Tail(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), tail.Sequence)
	})

	t.Run("truncate after", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		fx := gblocktest.NewFixture(1)
		chain := fx.Chain(5)
		require.NoError(t, s.Append(ctx, chain))

		n, err := s.TruncateAfter(ctx, 10)
		require.NoError(t, err)
		require.Zero(t, n)

		n, err = s.TruncateAfter(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 3, n)

		tail, err := s.Tail(ctx)
		require.NoError(t, err)
		requireSameBlock(t, chain[1], tail)

		_, err = s.Get(ctx, 2)
		require.ErrorIs(t, err, gchainstore.ErrBlockNotFound)

		// The chain can be extended again from the new tail.
		replacement := fx.Extend(&chain[1], 2)
		require.NoError(t, s.Append(ctx, replacement))
		got, err := s.Get(ctx, 3)
		require.NoError(t, err)
		requireSameBlock(t, replacement[1], got)
	})

	t.Run("cursor scans are isolated from appends", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		if !s.Capabilities().Cursor {
			t.Skip("store does not support cursors")
		}

		fx := gblocktest.NewFixture(1)
		chain := fx.Chain(8)
		require.NoError(t, s.Append(ctx, chain[:4]))

		var seen int
		require.NoError(t, s.Scan(ctx, 0, math.MaxUint64, func(b gblock.Block) error {
			if seen == 0 {
				if err := s.Append(ctx, chain[4:]); err != nil {
					return err
				}
			}
			seen++
			return nil
		}))
		require.Equal(t, 4, seen)

		tail, err := s.Tail(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(7), tail.Sequence)
	})
}

func requireSameBlock(t *testing.T, want, got gblock.Block) {
	t.Helper()

	require.Equal(t, want.Sequence, got.Sequence)
	require.Equal(t, want.Hash, got.Hash)
	require.Equal(t, want.Signature, got.Signature)
	require.True(t, want.Timestamp.Equal(got.Timestamp))
	require.Equal(t, want.Payload, got.Payload)
	require.True(t, want.Signer.Equal(got.Signer))
	if want.IsGenesis() {
		require.Empty(t, got.PrevHash)
	} else {
		require.Equal(t, want.PrevHash, got.PrevHash)
	}
}
