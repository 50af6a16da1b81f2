package gcryptotest_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gledger/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEd25519Signers(t *testing.T) {
	t.Parallel()

	base := gcryptotest.DeterministicEd25519Signers(4)

	// The cache grows and shrinks around base; every index must stay stable.
	for _, n := range []int{2, 4, 6} {
		other := gcryptotest.DeterministicEd25519Signers(n)
		require.Len(t, other, n)

		for i := 0; i < min(n, len(base)); i++ {
			require.Truef(t, base[i].PubKey().Equal(other[i].PubKey()), "n=%d index %d", n, i)

			sig1, err := base[i].Sign(context.Background(), []byte("block hash"))
			require.NoError(t, err)
			sig2, err := other[i].Sign(context.Background(), []byte("block hash"))
			require.NoError(t, err)
			require.Equal(t, sig1, sig2)
		}
	}

	require.False(t, base[0].PubKey().Equal(base[1].PubKey()))
}

func TestDeterministicEd25519Signers_independentBytes(t *testing.T) {
	t.Parallel()

	a := gcryptotest.DeterministicEd25519Signers(1)[0].PubKey().PubKeyBytes()
	b := gcryptotest.DeterministicEd25519Signers(1)[0].PubKey().PubKeyBytes()
	b[0]++

	require.NotEqual(t, a, b)
}

func TestDeterministicSymmetricKey(t *testing.T) {
	t.Parallel()

	a := gcryptotest.DeterministicSymmetricKey("k")
	b := gcryptotest.DeterministicSymmetricKey("k")
	require.Equal(t, a, b)

	ct, nonce, err := a.Seal([]byte("x"))
	require.NoError(t, err)
	pt, err := b.Open(nonce, ct)
	require.NoError(t, err)
	require.Equal(t, "x", string(pt))

	require.NotEqual(t, a, gcryptotest.DeterministicSymmetricKey("j"))
}
