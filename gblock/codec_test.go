package gblock_test

import (
	"testing"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gblock/gblocktest"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_PreservesHashedContent(t *testing.T) {
	t.Parallel()

	fx := gblocktest.NewFixture(1)
	codec := fx.Codec()

	genesis := fx.Next(nil, gblock.Payload{
		Data:        []byte("ciphertext"),
		Encryption:  &gblock.Encryption{Algorithm: "xchacha20poly1305", KeyID: "k1", Nonce: []byte{9, 9}},
		OffChainRef: "ref",
	}, 0)
	// Sub-second precision must survive.
	genesis.Timestamp = genesis.Timestamp.Add(123456789)
	genesis = fx.Seal(genesis, 0)

	next := fx.Next(&genesis, gblock.Payload{Data: []byte("plain")}, 0)

	for _, b := range []gblock.Block{genesis, next} {
		data, err := codec.MarshalBlock(b)
		require.NoError(t, err)

		var got gblock.Block
		require.NoError(t, codec.UnmarshalBlock(data, &got))

		require.Equal(t, b.Sequence, got.Sequence)
		require.True(t, b.Timestamp.Equal(got.Timestamp))
		require.Equal(t, b.Payload, got.Payload)
		require.True(t, b.Signer.Equal(got.Signer))

		h, err := fx.HashScheme.Block(got)
		require.NoError(t, err)
		require.Equal(t, b.Hash, h)
		require.True(t, got.Signer.Verify(got.Hash, got.Signature))
	}
}

func TestJSONCodec_UnknownSigner(t *testing.T) {
	t.Parallel()

	fx := gblocktest.NewFixture(1)
	err := fx.Codec().UnmarshalBlock([]byte(`{"Sequence":1,"Signer":"AAAAAAAAAAAA"}`), new(gblock.Block))
	require.Error(t, err)
}
