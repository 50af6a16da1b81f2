// Package gindextest contains a compliance suite for [gindex.TermStore] implementations.
package gindextest

import (
	"context"
	"testing"

	"github.com/gordian-engine/gledger/gindex"
	"github.com/stretchr/testify/require"
)

// TermStoreFactory returns a new, empty TermStore.
// Any resources it opens should be released through cleanup.
type TermStoreFactory func(cleanup func(func())) (gindex.TermStore, error)

// TestTermStoreCompliance runs the shared TermStore tests.
func TestTermStoreCompliance(t *testing.T, f TermStoreFactory) {
	newStore := func(t *testing.T) gindex.TermStore {
		t.Helper()
		s, err := f(t.Cleanup)
		require.NoError(t, err)
		return s
	}

	t.Run("empty lookup", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		refs, err := s.Lookup(context.Background(), "nothing", 0, 10)
		require.NoError(t, err)
		require.Empty(t, refs)
	})

	t.Run("lookup is ordered and limited", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		for _, seq := range []uint64{5, 1, 3, 2, 4} {
			require.NoError(t, s.PutTerms(ctx, gindex.Ref{Sequence: seq, Hash: []byte{byte(seq)}}, []string{"alpha", "beta"}))
		}

		refs, err := s.Lookup(ctx, "alpha", 0, 3)
		require.NoError(t, err)
		require.Equal(t, []gindex.Ref{
			{Sequence: 1, Hash: []byte{1}},
			{Sequence: 2, Hash: []byte{2}},
			{Sequence: 3, Hash: []byte{3}},
		}, refs)

		refs, err = s.Lookup(ctx, "beta", 0, 100)
		require.NoError(t, err)
		require.Len(t, refs, 5)
	})

	t.Run("lookup from a sequence", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		for _, seq := range []uint64{2, 4, 6, 8} {
			require.NoError(t, s.PutTerms(ctx, gindex.Ref{Sequence: seq, Hash: []byte{byte(seq)}}, []string{"page"}))
		}

		refs, err := s.Lookup(ctx, "page", 4, 2)
		require.NoError(t, err)
		require.Equal(t, []gindex.Ref{
			{Sequence: 4, Hash: []byte{4}},
			{Sequence: 6, Hash: []byte{6}},
		}, refs)

		refs, err = s.Lookup(ctx, "page", 7, -1)
		require.NoError(t, err)
		require.Equal(t, []gindex.Ref{{Sequence: 8, Hash: []byte{8}}}, refs)

		refs, err = s.Lookup(ctx, "page", 9, 10)
		require.NoError(t, err)
		require.Empty(t, refs)
	})

	t.Run("put replaces terms for a sequence", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.PutTerms(ctx, gindex.Ref{Sequence: 7, Hash: []byte("old")}, []string{"apple", "pear"}))
		require.NoError(t, s.PutTerms(ctx, gindex.Ref{Sequence: 7, Hash: []byte("new")}, []string{"pear"}))

		refs, err := s.Lookup(ctx, "apple", 0, 10)
		require.NoError(t, err)
		require.Empty(t, refs)

		refs, err = s.Lookup(ctx, "pear", 0, 10)
		require.NoError(t, err)
		require.Equal(t, []gindex.Ref{{Sequence: 7, Hash: []byte("new")}}, refs)
	})

	t.Run("remove after", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)
		for seq := uint64(0); seq < 6; seq++ {
			require.NoError(t, s.PutTerms(ctx, gindex.Ref{Sequence: seq, Hash: []byte{byte(seq)}}, []string{"x", "y"}))
		}

		n, err := s.RemoveAfter(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, 4, n) // Two terms for each of 4 and 5.

		refs, err := s.Lookup(ctx, "y", 0, 100)
		require.NoError(t, err)
		require.Len(t, refs, 4)
		require.Equal(t, uint64(3), refs[3].Sequence)

		n, err = s.RemoveAfter(ctx, 3)
		require.NoError(t, err)
		require.Zero(t, n)
	})
}
