package gindex_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gblock/gblocktest"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gchainstore/gchainmemstore"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gcrypto/gcryptotest"
	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gstream"
	"github.com/gordian-engine/gledger/internal/gtest"
	"github.com/stretchr/testify/require"
)

func sealedPayload(t *testing.T, k gcrypto.SymmetricKey, text string) gblock.Payload {
	t.Helper()

	ct, nonce, err := k.Seal([]byte(text))
	require.NoError(t, err)
	return gblock.Payload{
		Data: ct,
		Encryption: &gblock.Encryption{
			Algorithm: gcrypto.AlgXChaCha20Poly1305,
			KeyID:     k.ID,
			Nonce:     nonce,
		},
	}
}

func TestChooseStrategy(t *testing.T) {
	t.Parallel()

	k := gcryptotest.DeterministicSymmetricKey("k1")
	ring := gcrypto.NewKeyRing(k)

	plain := gblock.Block{Payload: gblock.Payload{Data: []byte("hi")}}
	require.Equal(t, gindex.PlaintextStrategy{}, gindex.ChooseStrategy(plain, ring))
	require.Equal(t, gindex.PlaintextStrategy{}, gindex.ChooseStrategy(plain, nil))

	enc := gblock.Block{Payload: sealedPayload(t, k, "secret")}
	require.Equal(t, gindex.DecryptStrategy{Key: k}, gindex.ChooseStrategy(enc, ring))
	require.Equal(t, gindex.MetadataOnlyStrategy{}, gindex.ChooseStrategy(enc, nil))
	require.Equal(t, gindex.MetadataOnlyStrategy{}, gindex.ChooseStrategy(enc, gcrypto.NewKeyRing()))

	enc.Payload.Encryption.Algorithm = "rot13"
	require.Equal(t, gindex.MetadataOnlyStrategy{}, gindex.ChooseStrategy(enc, ring))
}

type indexerFixture struct {
	Blocks  *gblocktest.Fixture
	Store   *gchainmemstore.Store
	Terms   *gindex.MemTermStore
	Indexer *gindex.KeywordIndexer
}

func newIndexerFixture(t *testing.T, keys *gcrypto.KeyRing, payloads ...gblock.Payload) *indexerFixture {
	t.Helper()

	bf := gblocktest.NewFixture(1)
	store := gchainmemstore.New(gchainstore.Capabilities{})

	var prev *gblock.Block
	blocks := make([]gblock.Block, 0, len(payloads))
	for _, p := range payloads {
		b := bf.Next(prev, p, 0)
		blocks = append(blocks, b)
		prev = &blocks[len(blocks)-1]
	}
	require.NoError(t, store.Append(context.Background(), blocks))

	log := gtest.NewLogger(t)
	terms := gindex.NewMemTermStore()
	return &indexerFixture{
		Blocks: bf,
		Store:  store,
		Terms:  terms,
		Indexer: gindex.NewKeywordIndexer(log, gindex.KeywordIndexerConfig{
			Source:    gstream.New(log, gstream.Config{Source: store}),
			Terms:     terms,
			Keys:      keys,
			ChunkSize: 2,
		}),
	}
}

func (f *indexerFixture) lookup(t *testing.T, term string) []uint64 {
	t.Helper()

	refs, err := f.Terms.Lookup(context.Background(), term, 0, 100)
	require.NoError(t, err)
	seqs := make([]uint64, len(refs))
	for i, r := range refs {
		seqs[i] = r.Sequence
	}
	return seqs
}

func TestKeywordIndexer_strategies(t *testing.T) {
	t.Parallel()

	k1 := gcryptotest.DeterministicSymmetricKey("k1")
	k2 := gcryptotest.DeterministicSymmetricKey("k2")

	f := newIndexerFixture(t, gcrypto.NewKeyRing(k1),
		gblock.Payload{Data: []byte("genesis")},
		gblock.Payload{Data: []byte("shipping invoice")},
		sealedPayload(t, k1, "confidential invoice"),
		sealedPayload(t, k2, "hidden invoice"),
		gblock.Payload{OffChainRef: "s3://bucket/Doc"},
	)

	ctx := context.Background()
	out, err := f.Indexer.IndexRange(ctx, gblock.Range{First: 0, Last: 4})
	require.NoError(t, err)
	require.Equal(t, 5, out.Indexed)
	require.Empty(t, out.Failures)

	require.Equal(t, []uint64{1, 2}, f.lookup(t, "invoice"))
	require.Equal(t, []uint64{2}, f.lookup(t, "confidential"))
	require.Empty(t, f.lookup(t, "hidden"))

	// Encrypted blocks always get metadata terms, with or without the key.
	require.Equal(t, []uint64{2, 3}, f.lookup(t, "encrypted"))
	require.Equal(t, []uint64{3}, f.lookup(t, "key:k2"))
	require.Equal(t, []uint64{4}, f.lookup(t, "ref:s3://bucket/doc"))

	// Refs carry the block hash.
	refs, err := f.Terms.Lookup(ctx, "shipping", 0, 1)
	require.NoError(t, err)
	b, err := f.Store.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, refs[0].Matches(b.Hash))
}

func TestKeywordIndexer_decryptFailure(t *testing.T) {
	t.Parallel()

	k := gcryptotest.DeterministicSymmetricKey("k1")
	wrong, err := gcrypto.NewSymmetricKey("k1", make([]byte, gcrypto.SymmetricKeySize))
	require.NoError(t, err)

	f := newIndexerFixture(t, gcrypto.NewKeyRing(wrong),
		gblock.Payload{Data: []byte("genesis")},
		sealedPayload(t, k, "secret words"),
		gblock.Payload{Data: []byte("plain words")},
	)

	r := gblock.Range{First: 1, Last: 2}
	out, err := f.Indexer.IndexRange(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, 1, out.Indexed)
	require.Len(t, out.Failures, 1)

	fl := out.Failures[0]
	require.Equal(t, uint64(1), fl.Sequence)
	require.Equal(t, r, fl.Range)
	require.Equal(t, "decrypt", fl.Strategy)
	require.ErrorIs(t, fl, gcrypto.ErrOpenFailed)

	// No fallback to metadata terms for the failed block.
	require.Empty(t, f.lookup(t, "encrypted"))
	require.Equal(t, []uint64{2}, f.lookup(t, "words"))
}

func TestKeywordIndexer_purge(t *testing.T) {
	t.Parallel()

	f := newIndexerFixture(t, nil,
		gblock.Payload{Data: []byte("common zero")},
		gblock.Payload{Data: []byte("common one")},
		gblock.Payload{Data: []byte("common two")},
	)

	ctx := context.Background()
	_, err := f.Indexer.IndexRange(ctx, gblock.Range{First: 0, Last: 2})
	require.NoError(t, err)

	n, err := f.Indexer.Purge(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.Equal(t, []uint64{0}, f.lookup(t, "common"))
}
