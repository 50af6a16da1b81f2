package gindex

import (
	"bytes"
	"context"
	"fmt"
)

// Ref points from a term to a block.
// Hash lets readers detect entries left behind by a truncation.
type Ref struct {
	Sequence uint64
	Hash     []byte
}

// Matches reports whether the ref still describes a block with the given hash.
func (r Ref) Matches(hash []byte) bool {
	return bytes.Equal(r.Hash, hash)
}

// Entry is one row of the search index.
type Entry struct {
	Term string
	Ref  Ref
}

func (e Entry) String() string {
	return fmt.Sprintf("%q@%d", e.Term, e.Ref.Sequence)
}

// TermStore persists the search index.
// It is written only by indexing workers.
type TermStore interface {
	// PutTerms replaces every term recorded for ref.Sequence.
	PutTerms(ctx context.Context, ref Ref, terms []string) error

	// Lookup returns up to limit refs for term with sequence at least from,
	// in ascending sequence order.
	// A negative limit means no limit.
	Lookup(ctx context.Context, term string, from uint64, limit int) ([]Ref, error)

	// RemoveAfter deletes entries for sequences greater than seq,
	// reporting how many entries were removed.
	RemoveAfter(ctx context.Context, seq uint64) (int, error)
}
