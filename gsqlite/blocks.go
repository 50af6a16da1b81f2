package gsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"runtime/trace"
	"time"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
)

const blockColumns = `seq, prev_hash, ts, data, enc_alg, enc_key_id, enc_nonce, off_chain_ref, signer, signature, hash`

// SQLite integers are signed; no stored sequence can exceed this.
const maxSeq = math.MaxInt64

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanBlock(row rowScanner) (gblock.Block, error) {
	var (
		b        gblock.Block
		seq, ts  int64
		encAlg   sql.NullString
		encKeyID sql.NullString
		encNonce []byte
		signer   []byte
	)
	if err := row.Scan(
		&seq, &b.PrevHash, &ts, &b.Payload.Data,
		&encAlg, &encKeyID, &encNonce,
		&b.Payload.OffChainRef, &signer, &b.Signature, &b.Hash,
	); err != nil {
		return gblock.Block{}, err
	}

	b.Sequence = uint64(seq)
	b.Timestamp = time.Unix(0, ts).UTC()
	if len(b.PrevHash) == 0 {
		b.PrevHash = nil
	}
	if len(b.Payload.Data) == 0 {
		b.Payload.Data = nil
	}
	if encAlg.Valid {
		b.Payload.Encryption = &gblock.Encryption{
			Algorithm: encAlg.String,
			KeyID:     encKeyID.String,
			Nonce:     encNonce,
		}
	}

	pub, err := s.reg.Unmarshal(signer)
	if err != nil {
		return gblock.Block{}, fmt.Errorf("failed to decode signer of block %d: %w", seq, err)
	}
	b.Signer = pub

	return b, nil
}

func (s *Store) Tail(ctx context.Context) (gblock.Block, error) {
	defer trace.StartRegion(ctx, "Tail").End()

	b, err := s.scanBlock(s.ro.QueryRowContext(
		ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY seq DESC LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return gblock.Block{}, gchainstore.ErrEmpty
	}
	if err != nil {
		return gblock.Block{}, &gchainstore.StorageError{Op: "tail", Err: err}
	}
	return b, nil
}

func (s *Store) Get(ctx context.Context, seq uint64) (gblock.Block, error) {
	defer trace.StartRegion(ctx, "Get").End()

	if seq > maxSeq {
		return gblock.Block{}, gchainstore.BlockNotFoundError{Sequence: seq}
	}

	b, err := s.scanBlock(s.ro.QueryRowContext(
		ctx, `SELECT `+blockColumns+` FROM blocks WHERE seq = ?`, int64(seq),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return gblock.Block{}, gchainstore.BlockNotFoundError{Sequence: seq}
	}
	if err != nil {
		return gblock.Block{}, &gchainstore.StorageError{Op: "get", Err: err}
	}
	return b, nil
}

func (s *Store) ReadRange(
	ctx context.Context, start uint64, limit int, dst []gblock.Block,
) ([]gblock.Block, error) {
	defer trace.StartRegion(ctx, "ReadRange").End()

	dst = dst[:0]
	if start > maxSeq || limit <= 0 {
		return dst, nil
	}

	rows, err := s.ro.QueryContext(
		ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE seq >= ? ORDER BY seq ASC LIMIT ?`,
		int64(start), limit,
	)
	if err != nil {
		return dst, &gchainstore.StorageError{Op: "read range", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		b, err := s.scanBlock(rows)
		if err != nil {
			return dst, &gchainstore.StorageError{Op: "read range", Err: err}
		}
		dst = append(dst, b)
	}
	if err := rows.Err(); err != nil {
		return dst, &gchainstore.StorageError{Op: "read range", Err: err}
	}
	return dst, nil
}

// Scan streams [start, end] from a single query on the on-disk store,
// so fn sees one WAL snapshot.
// The in-memory store pages through ReadRange instead,
// because an open query would hold its only connection.
func (s *Store) Scan(ctx context.Context, start, end uint64, fn func(gblock.Block) error) error {
	defer trace.StartRegion(ctx, "Scan").End()

	if start > maxSeq || start > end {
		return nil
	}
	end = min(end, maxSeq)

	if !s.caps.Cursor {
		return s.pagedScan(ctx, start, end, fn)
	}

	rows, err := s.ro.QueryContext(
		ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE seq >= ? AND seq <= ? ORDER BY seq ASC`,
		int64(start), int64(end),
	)
	if err != nil {
		return &gchainstore.StorageError{Op: "scan", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		b, err := s.scanBlock(rows)
		if err != nil {
			return &gchainstore.StorageError{Op: "scan", Err: err}
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &gchainstore.StorageError{Op: "scan", Err: err}
	}
	return nil
}

func (s *Store) pagedScan(ctx context.Context, start, end uint64, fn func(gblock.Block) error) error {
	const pageSize = 256

	var page []gblock.Block
	for next := start; next <= end; {
		var err error
		page, err = s.ReadRange(ctx, next, pageSize, page)
		if err != nil {
			return err
		}
		for _, b := range page {
			if b.Sequence > end {
				return nil
			}
			if err := fn(b); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		next = page[len(page)-1].Sequence + 1
	}
	return nil
}

func (s *Store) Append(ctx context.Context, blocks []gblock.Block) error {
	defer trace.StartRegion(ctx, "Append").End()

	if len(blocks) == 0 {
		return nil
	}

	tx, err := s.rw.BeginTx(ctx, nil)
	if err != nil {
		return &gchainstore.StorageError{Op: "append", Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	var maxStored sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM blocks`).Scan(&maxStored); err != nil {
		return &gchainstore.StorageError{Op: "append", Err: fmt.Errorf("failed to read tail: %w", err)}
	}
	next := uint64(0)
	if maxStored.Valid {
		next = uint64(maxStored.Int64) + 1
	}
	if err := gchainstore.CheckContiguous(next, blocks); err != nil {
		return err
	}
	if last := blocks[len(blocks)-1].Sequence; last > maxSeq {
		return &gchainstore.StorageError{Op: "append", Err: fmt.Errorf("sequence %d out of range", last)}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO blocks(`+blockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &gchainstore.StorageError{Op: "append", Err: fmt.Errorf("failed to prepare insert: %w", err)}
	}
	defer stmt.Close()

	for _, b := range blocks {
		var encAlg, encKeyID sql.NullString
		var encNonce []byte
		if e := b.Payload.Encryption; e != nil {
			encAlg = sql.NullString{String: e.Algorithm, Valid: true}
			encKeyID = sql.NullString{String: e.KeyID, Valid: true}
			encNonce = e.Nonce
		}

		if _, err := stmt.ExecContext(
			ctx,
			int64(b.Sequence), nonNil(b.PrevHash), b.Timestamp.UnixNano(), nonNil(b.Payload.Data),
			encAlg, encKeyID, encNonce,
			b.Payload.OffChainRef, s.reg.Marshal(b.Signer), b.Signature, b.Hash,
		); err != nil {
			if isPrimaryKeyConstraintError(err) {
				return &gchainstore.SequenceConflictError{Want: next, Got: b.Sequence}
			}
			return &gchainstore.StorageError{
				Op:  "append",
				Err: fmt.Errorf("failed to insert block %d: %w", b.Sequence, err),
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &gchainstore.StorageError{Op: "append", Err: fmt.Errorf("failed to commit: %w", err)}
	}
	return nil
}

func (s *Store) TruncateAfter(ctx context.Context, seq uint64) (int, error) {
	defer trace.StartRegion(ctx, "TruncateAfter").End()

	if seq >= maxSeq {
		return 0, nil
	}

	res, err := s.rw.ExecContext(ctx, `DELETE FROM blocks WHERE seq > ?`, int64(seq))
	if err != nil {
		return 0, &gchainstore.StorageError{Op: "truncate", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &gchainstore.StorageError{Op: "truncate", Err: err}
	}
	return int(n), nil
}

// nonNil stores empty byte slices as zero-length blobs rather than NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
