package gledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/gordian-engine/gledger/gbatch"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gindex"
)

// SearchResult is the outcome of [*Ledger.Search] or [*Ledger.ScanSearch].
type SearchResult struct {
	// Term is the normalized query term.
	Term string

	// Hits are the matching blocks in ascending sequence order.
	Hits []gblock.Block

	// Stale counts index entries that no longer match a committed block,
	// because the block was truncated or replaced.
	// Stale entries are never returned as hits.
	Stale int

	// Truncated is set when more matches existed than were returned.
	Truncated bool
}

func (l *Ledger) searchLimit(limit int) (int, error) {
	switch {
	case limit <= 0:
		return l.cfg.MaxSearchResults, nil
	case limit > l.cfg.MaxSearchResults:
		return 0, &gbatch.CapacityExceededError{
			What:  "search results",
			Limit: l.cfg.MaxSearchResults,
			Got:   limit,
		}
	default:
		return limit, nil
	}
}

// Search looks up term in the search index.
// A limit of zero or less means the configured maximum;
// a limit above it is rejected with a [*gbatch.CapacityExceededError].
//
// Only indexed blocks are found.
// Blocks committed within the last IndexVisibilityTarget may not be visible yet.
func (l *Ledger) Search(ctx context.Context, term string, limit int) (SearchResult, error) {
	limit, err := l.searchLimit(limit)
	if err != nil {
		return SearchResult{}, err
	}

	res := SearchResult{Term: gindex.NormalizeTerm(term)}
	if res.Term == "" {
		return res, nil
	}

	// Page through the index until limit+1 live hits are seen or it runs out.
	// Stale entries do not count toward either, so they cannot hide a truncation.
	var from uint64
	for {
		want := limit + 1 - len(res.Hits)
		refs, err := l.terms.Lookup(ctx, res.Term, from, want)
		if err != nil {
			return SearchResult{}, fmt.Errorf("failed to look up %q from %d: %w", res.Term, from, err)
		}

		for _, ref := range refs {
			b, err := l.chain.Get(ctx, ref.Sequence)
			if errors.Is(err, gchainstore.ErrBlockNotFound) {
				res.Stale++
				continue
			}
			if err != nil {
				return SearchResult{}, fmt.Errorf("failed to load search hit %d: %w", ref.Sequence, err)
			}
			if !ref.Matches(b.Hash) {
				res.Stale++
				continue
			}

			if len(res.Hits) == limit {
				res.Truncated = true
				break
			}
			res.Hits = append(res.Hits, b)
		}

		if res.Truncated || len(refs) < want {
			break
		}
		last := refs[len(refs)-1].Sequence
		if last == math.MaxUint64 {
			break
		}
		from = last + 1
	}

	if res.Stale > 0 {
		l.log.Debug("Filtered stale search entries", "term", res.Term, "n", res.Stale)
	}
	return res, nil
}

// ScanSearch finds term by streaming every block in r through the same
// term extraction the indexer uses, without consulting the index.
// It is slow on large ranges but sees blocks that are not indexed yet.
func (l *Ledger) ScanSearch(ctx context.Context, term string, r gblock.Range, limit int) (SearchResult, error) {
	limit, err := l.searchLimit(limit)
	if err != nil {
		return SearchResult{}, err
	}

	res := SearchResult{Term: gindex.NormalizeTerm(term)}
	if res.Term == "" {
		return res, nil
	}

	errFull := errors.New("search result full")
	err = l.stream.ForEachChunk(ctx, r, l.cfg.DefaultChunkSize, func(chunk []gblock.Block) error {
		for _, b := range chunk {
			terms, err := l.indexer.Terms(b, gindex.ChooseStrategy(b, l.keys))
			if err != nil {
				// Same as the indexer: a block that cannot be read is not a match.
				continue
			}
			if _, found := slices.BinarySearch(terms, res.Term); !found {
				continue
			}
			if len(res.Hits) == limit {
				res.Truncated = true
				return errFull
			}
			res.Hits = append(res.Hits, b.Clone())
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFull) {
		return SearchResult{}, fmt.Errorf("failed to scan %s for %q: %w", r, res.Term, err)
	}
	return res, nil
}
