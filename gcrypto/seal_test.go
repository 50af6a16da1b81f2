package gcrypto_test

import (
	"bytes"
	"testing"

	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/stretchr/testify/require"
)

func TestSymmetricKey_SealOpen(t *testing.T) {
	t.Parallel()

	k, err := gcrypto.NewSymmetricKey("k1", bytes.Repeat([]byte{7}, gcrypto.SymmetricKeySize))
	require.NoError(t, err)

	ct, nonce, err := k.Seal([]byte("secret text"))
	require.NoError(t, err)
	require.NotContains(t, string(ct), "secret")

	ok, err := gcrypto.ValidNonceSize(gcrypto.AlgXChaCha20Poly1305, len(nonce))
	require.NoError(t, err)
	require.True(t, ok)

	pt, err := k.Open(nonce, ct)
	require.NoError(t, err)
	require.Equal(t, "secret text", string(pt))

	t.Run("tampered ciphertext", func(t *testing.T) {
		bad := bytes.Clone(ct)
		bad[0] ^= 0xff
		_, err := k.Open(nonce, bad)
		require.ErrorIs(t, err, gcrypto.ErrOpenFailed)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := gcrypto.GenerateSymmetricKey("k1")
		require.NoError(t, err)
		_, err = other.Open(nonce, ct)
		require.ErrorIs(t, err, gcrypto.ErrOpenFailed)
	})

	t.Run("key ID is authenticated", func(t *testing.T) {
		renamed, err := gcrypto.NewSymmetricKey("k2", bytes.Repeat([]byte{7}, gcrypto.SymmetricKeySize))
		require.NoError(t, err)
		_, err = renamed.Open(nonce, ct)
		require.ErrorIs(t, err, gcrypto.ErrOpenFailed)
	})
}

func TestNewSymmetricKey_Validation(t *testing.T) {
	t.Parallel()

	_, err := gcrypto.NewSymmetricKey("", make([]byte, gcrypto.SymmetricKeySize))
	require.Error(t, err)

	_, err = gcrypto.NewSymmetricKey("x", make([]byte, 3))
	require.Error(t, err)
}

func TestValidNonceSize_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := gcrypto.ValidNonceSize("rot13", 24)
	require.ErrorAs(t, err, new(gcrypto.UnsupportedAlgorithmError))
}

func TestKeyRing(t *testing.T) {
	t.Parallel()

	var nilRing *gcrypto.KeyRing
	_, ok := nilRing.Key("a")
	require.False(t, ok)

	a, err := gcrypto.GenerateSymmetricKey("a")
	require.NoError(t, err)

	r := gcrypto.NewKeyRing(a)
	got, ok := r.Key("a")
	require.True(t, ok)
	require.Equal(t, a, got)

	_, ok = r.Key("b")
	require.False(t, ok)

	b, err := gcrypto.GenerateSymmetricKey("b")
	require.NoError(t, err)
	r.Add(b)
	_, ok = r.Key("b")
	require.True(t, ok)
}
