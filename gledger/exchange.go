package gledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/golang/snappy"
	"github.com/gordian-engine/gledger/gbatch"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchain"
	"github.com/gordian-engine/gledger/gchainstore"
)

// ExportStats summarizes an [*Ledger.Export] or [*Ledger.Import] call.
type ExportStats struct {
	Range gblock.Range

	// Blocks written by Export, or committed by Import.
	Blocks int

	// Blocks Import found already committed with an identical hash.
	Skipped int
}

// Export writes the committed blocks in r to w
// as newline-delimited JSON inside a snappy framed stream.
// r is clamped to the current tail; after clamping it may not
// span more than MaxExportBlocks, or a [*gbatch.CapacityExceededError] is returned.
func (l *Ledger) Export(ctx context.Context, w io.Writer, r gblock.Range) (ExportStats, error) {
	tail, err := l.chain.Tail(ctx)
	if err != nil {
		return ExportStats{}, fmt.Errorf("cannot export: %w", err)
	}
	if r.Last > tail.Sequence {
		r.Last = tail.Sequence
	}
	if !r.Valid() {
		return ExportStats{}, fmt.Errorf("cannot export empty range %s", r)
	}
	if n := r.Len(); n > l.cfg.MaxExportBlocks {
		return ExportStats{}, &gbatch.CapacityExceededError{
			What:  "export blocks",
			Limit: clampInt(l.cfg.MaxExportBlocks),
			Got:   clampInt(n),
		}
	}

	sw := snappy.NewBufferedWriter(w)
	stats := ExportStats{Range: r}

	err = l.stream.ForEachChunk(ctx, r, l.cfg.DefaultChunkSize, func(chunk []gblock.Block) error {
		for _, b := range chunk {
			j, err := l.codec.MarshalBlock(b)
			if err != nil {
				return fmt.Errorf("failed to encode block %d: %w", b.Sequence, err)
			}
			j = append(j, '\n')
			if _, err := sw.Write(j); err != nil {
				return fmt.Errorf("failed to write block %d: %w", b.Sequence, err)
			}
			stats.Blocks++
		}
		return nil
	})
	if err != nil {
		_ = sw.Close()
		return stats, fmt.Errorf("export of %s failed after %d blocks: %w", r, stats.Blocks, err)
	}

	if err := sw.Close(); err != nil {
		return stats, fmt.Errorf("failed to flush export: %w", err)
	}

	l.log.Info("Exported blocks", "range", r, "n", stats.Blocks)
	return stats, nil
}

// Import reads a stream produced by [*Ledger.Export] and commits its blocks
// through the batch pipeline, MaxBatchSize blocks at a time.
// Every block is verified as-is: its sequence must follow the tail,
// and its hash and signature must verify.
//
// Blocks already committed with the same hash are skipped,
// so an interrupted import can be resumed with the same stream.
// A block that conflicts with a committed one fails the import.
func (l *Ledger) Import(ctx context.Context, r io.Reader) (ExportStats, error) {
	sc := bufio.NewScanner(snappy.NewReader(r))
	// Payloads are base64 in JSON, so leave generous room over the payload limit.
	sc.Buffer(make([]byte, 0, 64*1024), 2*l.cfg.MaxPayloadSize+64*1024)

	stats := ExportStats{}
	batch := make([]gbatch.Request, 0, l.cfg.MaxBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := l.batch.SubmitBatch(ctx, batch)
		if err != nil {
			return err
		}
		stats.Blocks += len(res.Blocks)
		batch = batch[:0]
		return nil
	}

	first := true
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var b gblock.Block
		if err := l.codec.UnmarshalBlock(line, &b); err != nil {
			return stats, fmt.Errorf("failed to decode block after %d imported: %w", stats.Blocks+stats.Skipped, err)
		}

		if first {
			stats.Range = gblock.Range{First: b.Sequence, Last: b.Sequence}
			first = false
		}
		stats.Range.Last = b.Sequence

		dup, err := l.committed(ctx, b)
		if err != nil {
			return stats, err
		}
		if dup {
			stats.Skipped++
			continue
		}

		batch = append(batch, gbatch.Request{Sealed: &b})
		if len(batch) == l.cfg.MaxBatchSize {
			if err := flush(); err != nil {
				return stats, fmt.Errorf("import failed after %d blocks: %w", stats.Blocks, err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("failed to read import stream: %w", err)
	}
	if err := flush(); err != nil {
		return stats, fmt.Errorf("import failed after %d blocks: %w", stats.Blocks, err)
	}

	l.log.Info("Imported blocks", "range", stats.Range, "n", stats.Blocks, "skipped", stats.Skipped)
	return stats, nil
}

// committed reports whether b is already in the chain.
// It returns an error if a different block holds b's sequence.
func (l *Ledger) committed(ctx context.Context, b gblock.Block) (bool, error) {
	have, err := l.chain.Get(ctx, b.Sequence)
	if errors.Is(err, gchainstore.ErrBlockNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existing block %d: %w", b.Sequence, err)
	}
	if !bytes.Equal(have.Hash, b.Hash) {
		return false, &gchain.ValidationError{
			Sequence: b.Sequence,
			Assigned: true,
			Field:    "hash",
			Reason:   gchain.ErrSequenceMismatch,
			Cause:    fmt.Errorf("imported block %x conflicts with committed block %x", b.Hash, have.Hash),
		}
	}
	return true, nil
}

func clampInt(n uint64) int {
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}
