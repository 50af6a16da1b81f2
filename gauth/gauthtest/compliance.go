// Package gauthtest contains a compliance suite for [gauth.Store] implementations.
package gauthtest

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns a new, empty store for one subtest.
type StoreFactory func(cleanup func(func())) (gauth.Store, error)

// TestStoreCompliance runs the shared tests against stores created by f.
func TestStoreCompliance(t *testing.T, f StoreFactory) {
	signers := gcryptotest.DeterministicEd25519Signers(3)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	newStore := func(t *testing.T) gauth.Store {
		t.Helper()
		s, err := f(t.Cleanup)
		require.NoError(t, err)
		return s
	}

	t.Run("unknown key is not authorized", func(t *testing.T) {
		t.Parallel()

		s := newStore(t)
		ok, err := s.IsAuthorized(context.Background(), signers[0].PubKey(), t0)
		require.NoError(t, err)
		require.False(t, ok)

		_, err = s.Key(context.Background(), signers[0].PubKey())
		require.ErrorIs(t, err, gauth.ErrKeyNotFound)
	})

	t.Run("window bounds", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.PutKey(ctx, gauth.AuthorizedKey{
			PubKey:     signers[0].PubKey(),
			ValidFrom:  t0,
			ValidUntil: t0.Add(time.Hour),
			Status:     gauth.StatusActive,
			Label:      "alice",
		}))

		for _, tc := range []struct {
			at   time.Time
			want bool
		}{
			{at: t0.Add(-time.Nanosecond), want: false},
			{at: t0, want: true},
			{at: t0.Add(59 * time.Minute), want: true},
			{at: t0.Add(time.Hour), want: false},
		} {
			ok, err := s.IsAuthorized(ctx, signers[0].PubKey(), tc.at)
			require.NoError(t, err)
			require.Equalf(t, tc.want, ok, "at %s", tc.at)
		}

		k, err := s.Key(ctx, signers[0].PubKey())
		require.NoError(t, err)
		require.True(t, signers[0].PubKey().Equal(k.PubKey))
		require.Equal(t, "alice", k.Label)
		require.Equal(t, gauth.StatusActive, k.Status)
		require.True(t, t0.Equal(k.ValidFrom))
		require.True(t, t0.Add(time.Hour).Equal(k.ValidUntil))
	})

	t.Run("open-ended window", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.PutKey(ctx, gauth.AuthorizedKey{
			PubKey:    signers[1].PubKey(),
			ValidFrom: t0,
			Status:    gauth.StatusActive,
		}))

		ok, err := s.IsAuthorized(ctx, signers[1].PubKey(), t0.AddDate(50, 0, 0))
		require.NoError(t, err)
		require.True(t, ok)

		k, err := s.Key(ctx, signers[1].PubKey())
		require.NoError(t, err)
		require.True(t, k.ValidUntil.IsZero())
	})

	t.Run("revocation keeps earlier blocks valid", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.PutKey(ctx, gauth.AuthorizedKey{
			PubKey:    signers[0].PubKey(),
			ValidFrom: t0,
			Status:    gauth.StatusActive,
		}))

		revokedAt := t0.Add(time.Hour)
		require.NoError(t, gauth.Revoke(ctx, s, signers[0].PubKey(), revokedAt))

		ok, err := s.IsAuthorized(ctx, signers[0].PubKey(), revokedAt.Add(-time.Second))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.IsAuthorized(ctx, signers[0].PubKey(), revokedAt)
		require.NoError(t, err)
		require.False(t, ok)

		k, err := s.Key(ctx, signers[0].PubKey())
		require.NoError(t, err)
		require.Equal(t, gauth.StatusRevoked, k.Status)
	})

	t.Run("rotation overlaps", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.PutKey(ctx, gauth.AuthorizedKey{
			PubKey:    signers[0].PubKey(),
			ValidFrom: t0,
			Status:    gauth.StatusActive,
		}))

		at := t0.Add(time.Hour)
		require.NoError(t, gauth.Rotate(
			ctx, s, signers[0].PubKey(),
			gauth.AuthorizedKey{PubKey: signers[2].PubKey()},
			at, 10*time.Minute,
		))

		// Both keys valid during the overlap.
		for _, pub := range []int{0, 2} {
			ok, err := s.IsAuthorized(ctx, signers[pub].PubKey(), at.Add(5*time.Minute))
			require.NoError(t, err)
			require.True(t, ok)
		}

		ok, err := s.IsAuthorized(ctx, signers[0].PubKey(), at.Add(10*time.Minute))
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = s.IsAuthorized(ctx, signers[2].PubKey(), at.Add(-time.Second))
		require.NoError(t, err)
		require.False(t, ok)

		old, err := s.Key(ctx, signers[0].PubKey())
		require.NoError(t, err)
		require.Equal(t, gauth.StatusRotating, old.Status)

		keys, err := s.Keys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
	})
}
