package gsqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gauth/gauthtest"
	"github.com/gordian-engine/gledger/gblock/gblocktest"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gchainstore/gchainstoretest"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gindex/gindextest"
	"github.com/gordian-engine/gledger/gsqlite"
	"github.com/stretchr/testify/require"
)

func TestNewInMemStore(t *testing.T) {
	t.Parallel()

	s, err := gsqlite.NewInMemStore(context.Background(), gcrypto.NewDefaultRegistry())
	require.NoError(t, err)
	require.False(t, s.Capabilities().Cursor)

	// Helpful output in the simplest test, if there is uncertainty which type was built.
	t.Logf("Tests are for build type %s", s.BuildType)

	require.NoError(t, s.Close())
}

type storeOpener func(t *testing.T, cleanup func(func())) (*gsqlite.Store, error)

func openInMem(t *testing.T, cleanup func(func())) (*gsqlite.Store, error) {
	s, err := gsqlite.NewInMemStore(context.Background(), gcrypto.NewDefaultRegistry())
	if err != nil {
		return nil, err
	}
	cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s, nil
}

func openOnDisk(t *testing.T, cleanup func(func())) (*gsqlite.Store, error) {
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	s, err := gsqlite.NewOnDiskStore(context.Background(), path, gcrypto.NewDefaultRegistry())
	if err != nil {
		return nil, err
	}
	cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s, nil
}

func TestStoreCompliance(t *testing.T) {
	t.Parallel()

	for name, open := range map[string]storeOpener{
		"in memory": openInMem,
		"on disk":   openOnDisk,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("chain store", func(t *testing.T) {
				t.Parallel()
				gchainstoretest.TestStoreCompliance(t, func(cleanup func(func())) (gchainstore.Store, error) {
					return open(t, cleanup)
				})
			})

			t.Run("auth store", func(t *testing.T) {
				t.Parallel()
				gauthtest.TestStoreCompliance(t, func(cleanup func(func())) (gauth.Store, error) {
					return open(t, cleanup)
				})
			})

			t.Run("term store", func(t *testing.T) {
				t.Parallel()
				gindextest.TestTermStoreCompliance(t, func(cleanup func(func())) (gindex.TermStore, error) {
					return open(t, cleanup)
				})
			})
		})
	}
}

func TestOnDiskStore_reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	reg := gcrypto.NewDefaultRegistry()

	s, err := gsqlite.NewOnDiskStore(ctx, path, reg)
	require.NoError(t, err)
	require.True(t, s.Capabilities().Cursor)

	fx := gblocktest.NewFixture(1)
	chain := fx.Chain(3)
	require.NoError(t, s.Append(ctx, chain))
	require.NoError(t, s.PutTerms(ctx, gindex.Ref{Sequence: 2, Hash: chain[2].Hash}, []string{"kept"}))
	require.NoError(t, s.Close())

	s, err = gsqlite.NewOnDiskStore(ctx, path, reg)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	tail, err := s.Tail(ctx)
	require.NoError(t, err)
	require.Equal(t, chain[2].Hash, tail.Hash)

	h, err := fx.HashScheme.Block(tail)
	require.NoError(t, err)
	require.Equal(t, tail.Hash, h)

	refs, err := s.Lookup(ctx, "kept", 0, 10)
	require.NoError(t, err)
	require.Equal(t, []gindex.Ref{{Sequence: 2, Hash: chain[2].Hash}}, refs)
}
