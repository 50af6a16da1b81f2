// Package gauth tracks which public keys may sign ledger blocks, and when.
//
// Authorization is evaluated at a block's timestamp,
// so revoking or rotating a key never invalidates blocks it signed earlier.
package gauth

import (
	"context"
	"fmt"
	"time"

	"github.com/gordian-engine/gledger/gcrypto"
)

// Status is the lifecycle state of an authorized key.
type Status uint8

const (
	StatusActive Status = iota + 1

	// StatusRotating keys are being replaced.
	// They remain authorized until their ValidUntil time.
	StatusRotating

	// StatusRevoked keys are not authorized at or after their ValidUntil time.
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRotating:
		return "rotating"
	case StatusRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ParseStatus is the inverse of [Status.String].
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "rotating":
		return StatusRotating, nil
	case "revoked":
		return StatusRevoked, nil
	default:
		return 0, fmt.Errorf("unknown key status %q", s)
	}
}

// AuthorizedKey is a public key with the window in which it may sign blocks.
type AuthorizedKey struct {
	PubKey gcrypto.PubKey

	ValidFrom time.Time

	// ValidUntil is exclusive. The zero value means the window is open-ended.
	ValidUntil time.Time

	Status Status

	// Label is a human-readable description of the key holder.
	Label string
}

// AuthorizedAt reports whether k may sign a block with timestamp t.
func (k AuthorizedKey) AuthorizedAt(t time.Time) bool {
	if t.Before(k.ValidFrom) {
		return false
	}
	if !k.ValidUntil.IsZero() && !t.Before(k.ValidUntil) {
		return false
	}
	return true
}

// Directory answers whether a key was authorized at a given time.
type Directory interface {
	IsAuthorized(ctx context.Context, pub gcrypto.PubKey, at time.Time) (bool, error)
}

// Store is a persistent [Directory] that can be administered.
type Store interface {
	Directory

	// PutKey adds k or replaces the entry with the same public key.
	PutKey(ctx context.Context, k AuthorizedKey) error

	// Key returns the entry for pub,
	// or an error satisfying errors.Is(err, ErrKeyNotFound).
	Key(ctx context.Context, pub gcrypto.PubKey) (AuthorizedKey, error)

	// Keys returns every entry, in no particular order.
	Keys(ctx context.Context) ([]AuthorizedKey, error)
}

// Revoke closes pub's authorization window at the given time.
// Blocks timestamped before at remain valid.
func Revoke(ctx context.Context, s Store, pub gcrypto.PubKey, at time.Time) error {
	k, err := s.Key(ctx, pub)
	if err != nil {
		return fmt.Errorf("failed to load key to revoke: %w", err)
	}

	if k.ValidUntil.IsZero() || at.Before(k.ValidUntil) {
		k.ValidUntil = at
	}
	k.Status = StatusRevoked

	return s.PutKey(ctx, k)
}

// Rotate authorizes next starting at the given time,
// and leaves the key old authorized for an overlap period after that
// so that writers can switch keys without a gap.
func Rotate(
	ctx context.Context, s Store,
	old gcrypto.PubKey, next AuthorizedKey,
	at time.Time, overlap time.Duration,
) error {
	k, err := s.Key(ctx, old)
	if err != nil {
		return fmt.Errorf("failed to load key to rotate: %w", err)
	}

	end := at.Add(overlap)
	if k.ValidUntil.IsZero() || end.Before(k.ValidUntil) {
		k.ValidUntil = end
	}
	k.Status = StatusRotating

	if next.ValidFrom.IsZero() {
		next.ValidFrom = at
	}
	if next.Status == 0 {
		next.Status = StatusActive
	}

	if err := s.PutKey(ctx, next); err != nil {
		return fmt.Errorf("failed to store new key: %w", err)
	}
	if err := s.PutKey(ctx, k); err != nil {
		return fmt.Errorf("failed to store rotating key: %w", err)
	}
	return nil
}
