package gsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"runtime/trace"
	"time"

	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gcrypto"
)

// The zero time has no Unix nanosecond representation.
const zeroTimeNanos = math.MinInt64

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return zeroTimeNanos
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == zeroTimeNanos {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *Store) PutKey(ctx context.Context, k gauth.AuthorizedKey) error {
	defer trace.StartRegion(ctx, "PutKey").End()

	if k.PubKey == nil {
		return fmt.Errorf("cannot store authorized key without a public key")
	}

	var until sql.NullInt64
	if !k.ValidUntil.IsZero() {
		until = sql.NullInt64{Int64: k.ValidUntil.UnixNano(), Valid: true}
	}

	if _, err := s.rw.ExecContext(
		ctx,
		`INSERT INTO authorized_keys(key, valid_from, valid_until, status, label) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  valid_from = excluded.valid_from,
  valid_until = excluded.valid_until,
  status = excluded.status,
  label = excluded.label`,
		s.reg.Marshal(k.PubKey), encodeTime(k.ValidFrom), until, k.Status.String(), k.Label,
	); err != nil {
		return fmt.Errorf("failed to store authorized key: %w", err)
	}
	return nil
}

func (s *Store) scanKey(row rowScanner) (gauth.AuthorizedKey, error) {
	var (
		k      gauth.AuthorizedKey
		enc    []byte
		from   int64
		until  sql.NullInt64
		status string
	)
	if err := row.Scan(&enc, &from, &until, &status, &k.Label); err != nil {
		return gauth.AuthorizedKey{}, err
	}

	pub, err := s.reg.Unmarshal(enc)
	if err != nil {
		return gauth.AuthorizedKey{}, fmt.Errorf("failed to decode authorized key: %w", err)
	}
	k.PubKey = pub

	k.Status, err = gauth.ParseStatus(status)
	if err != nil {
		return gauth.AuthorizedKey{}, err
	}

	k.ValidFrom = decodeTime(from)
	if until.Valid {
		k.ValidUntil = time.Unix(0, until.Int64).UTC()
	}
	return k, nil
}

func (s *Store) Key(ctx context.Context, pub gcrypto.PubKey) (gauth.AuthorizedKey, error) {
	defer trace.StartRegion(ctx, "Key").End()

	k, err := s.scanKey(s.ro.QueryRowContext(
		ctx,
		`SELECT key, valid_from, valid_until, status, label FROM authorized_keys WHERE key = ?`,
		s.reg.Marshal(pub),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return gauth.AuthorizedKey{}, fmt.Errorf("%w: %x", gauth.ErrKeyNotFound, pub.PubKeyBytes())
	}
	if err != nil {
		return gauth.AuthorizedKey{}, fmt.Errorf("failed to load authorized key: %w", err)
	}
	return k, nil
}

func (s *Store) Keys(ctx context.Context) ([]gauth.AuthorizedKey, error) {
	defer trace.StartRegion(ctx, "Keys").End()

	rows, err := s.ro.QueryContext(
		ctx, `SELECT key, valid_from, valid_until, status, label FROM authorized_keys`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorized keys: %w", err)
	}
	defer rows.Close()

	var out []gauth.AuthorizedKey
	for rows.Next() {
		k, err := s.scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authorized key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authorized keys: %w", err)
	}
	return out, nil
}

func (s *Store) IsAuthorized(ctx context.Context, pub gcrypto.PubKey, at time.Time) (bool, error) {
	k, err := s.Key(ctx, pub)
	if errors.Is(err, gauth.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return k.AuthorizedAt(at), nil
}
