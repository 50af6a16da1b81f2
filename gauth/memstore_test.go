package gauth_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gauth/gauthtest"
	"github.com/stretchr/testify/require"
)

func TestMemStoreCompliance(t *testing.T) {
	t.Parallel()

	gauthtest.TestStoreCompliance(t, func(func(func())) (gauth.Store, error) {
		return gauth.NewMemStore(), nil
	})
}

func TestAuthorizedKey_AuthorizedAt(t *testing.T) {
	t.Parallel()

	t0 := time.Unix(1000, 0)
	k := gauth.AuthorizedKey{ValidFrom: t0}
	require.False(t, k.AuthorizedAt(t0.Add(-1)))
	require.True(t, k.AuthorizedAt(t0))

	k.ValidUntil = t0.Add(time.Second)
	require.True(t, k.AuthorizedAt(t0.Add(time.Second-1)))
	require.False(t, k.AuthorizedAt(t0.Add(time.Second)))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []gauth.Status{gauth.StatusActive, gauth.StatusRotating, gauth.StatusRevoked} {
		got, err := gauth.ParseStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	_, err := gauth.ParseStatus("bogus")
	require.Error(t, err)
}
