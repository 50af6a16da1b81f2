package gsqlite

import (
	"context"
	"fmt"
	"runtime/trace"

	"github.com/gordian-engine/gledger/gindex"
)

func (s *Store) PutTerms(ctx context.Context, ref gindex.Ref, terms []string) error {
	defer trace.StartRegion(ctx, "PutTerms").End()

	if ref.Sequence > maxSeq {
		return fmt.Errorf("sequence %d out of range", ref.Sequence)
	}

	tx, err := s.rw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx, `DELETE FROM search_terms WHERE seq = ?`, int64(ref.Sequence),
	); err != nil {
		return fmt.Errorf("failed to clear terms for block %d: %w", ref.Sequence, err)
	}

	if len(terms) > 0 {
		stmt, err := tx.PrepareContext(
			ctx, `INSERT OR REPLACE INTO search_terms(term, seq, hash) VALUES (?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare term insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range terms {
			if _, err := stmt.ExecContext(ctx, t, int64(ref.Sequence), ref.Hash); err != nil {
				return fmt.Errorf("failed to insert term %q for block %d: %w", t, ref.Sequence, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit terms for block %d: %w", ref.Sequence, err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, term string, from uint64, limit int) ([]gindex.Ref, error) {
	defer trace.StartRegion(ctx, "Lookup").End()

	if from > maxSeq {
		return nil, nil
	}

	rows, err := s.ro.QueryContext(
		ctx,
		// A negative LIMIT means no limit in SQLite.
		`SELECT seq, hash FROM search_terms WHERE term = ? AND seq >= ? ORDER BY seq ASC LIMIT ?`,
		term, int64(from), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query term %q: %w", term, err)
	}
	defer rows.Close()

	var refs []gindex.Ref
	for rows.Next() {
		var seq int64
		var ref gindex.Ref
		if err := rows.Scan(&seq, &ref.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan term row: %w", err)
		}
		ref.Sequence = uint64(seq)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating term %q: %w", term, err)
	}
	return refs, nil
}

func (s *Store) RemoveAfter(ctx context.Context, seq uint64) (int, error) {
	defer trace.StartRegion(ctx, "RemoveAfter").End()

	if seq >= maxSeq {
		return 0, nil
	}

	res, err := s.rw.ExecContext(ctx, `DELETE FROM search_terms WHERE seq > ?`, int64(seq))
	if err != nil {
		return 0, fmt.Errorf("failed to remove terms after %d: %w", seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed terms: %w", err)
	}
	return int(n), nil
}
