package gchain

import (
	"bytes"
	"context"
	"fmt"
	"runtime/trace"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/glock"
	"github.com/gordian-engine/gledger/internal/glog"
)

// ValidationReport is the outcome of validating a range of committed blocks.
type ValidationReport struct {
	// Range is the range that was checked,
	// which is the requested range clamped to the chain tail.
	Range gblock.Range

	Checked      uint64
	InvalidCount uint64

	// Invalid lists invalid blocks in ascending order,
	// up to the ledger's MaxReportedInvalid limit.
	// Truncated is set when more invalid blocks existed than were listed;
	// InvalidCount is always the full count.
	Invalid   []InvalidBlock
	Truncated bool
}

// InvalidBlock is one entry in a [ValidationReport].
type InvalidBlock struct {
	Sequence uint64
	Err      *ValidationError
}

// Valid reports whether every checked block was valid.
func (r ValidationReport) Valid() bool {
	return r.InvalidCount == 0
}

// FirstInvalid returns the lowest invalid sequence, if any.
func (r ValidationReport) FirstInvalid() (uint64, bool) {
	if len(r.Invalid) == 0 {
		return 0, false
	}
	return r.Invalid[0].Sequence, true
}

func (r *ValidationReport) add(seq uint64, err *ValidationError, limit int) {
	r.InvalidCount++
	if limit > 0 && len(r.Invalid) >= limit {
		r.Truncated = true
		return
	}
	r.Invalid = append(r.Invalid, InvalidBlock{Sequence: seq, Err: err})
}

// ValidateRange recomputes hashes and checks signatures, signer authorization,
// and linkage for the committed blocks in r.
//
// Blocks are streamed, and the lock is only held per page (or not at all with a cursor backend),
// so writers are not blocked for the duration of the validation.
// Use [*Ledger.ValidateRangeLocked] for a view that cannot change during the call.
// A truncation and re-append while pages are being read can make blocks
// from the old and new chain appear mislinked, so an invalid report
// is rechecked once under a shared hold if any writer interleaved.
//
// After the first invalid block, every later block is reported as invalid too,
// with [ErrUpstreamBroken] unless a more specific reason applies.
func (l *Ledger) ValidateRange(ctx context.Context, r gblock.Range) (ValidationReport, error) {
	s := l.lock.TryOptimisticRead()
	rep, err := l.validateRange(ctx, nil, r)
	if err != nil || rep.Valid() || l.lock.Validate(s) {
		return rep, err
	}

	glog.SeqRange(l.log, r.First, r.Last).Debug("Writer interleaved with failed validation; rechecking under read lock")

	rd, err := l.lock.AcquireRead(ctx)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("failed to acquire read lock to recheck %s: %w", r, err)
	}
	defer l.lock.ReleaseRead(rd)

	return l.validateRange(ctx, rd, r)
}

// ValidateRangeLocked is the core form of [*Ledger.ValidateRange].
func (l *Ledger) ValidateRangeLocked(ctx context.Context, rd glock.Reader, r gblock.Range) (ValidationReport, error) {
	l.lock.MustRead(rd)
	return l.validateRange(ctx, rd, r)
}

func (l *Ledger) validateRange(ctx context.Context, rd glock.Reader, r gblock.Range) (ValidationReport, error) {
	defer trace.StartRegion(ctx, "ValidateRange").End()

	rep := ValidationReport{Range: r}

	tail := l.tail.Load()
	if tail == nil || !r.Valid() || r.First > tail.Sequence {
		// Nothing committed in range.
		return rep, nil
	}
	rep.Range.Last = min(r.Last, tail.Sequence)

	// Linkage of the first block is checked against its predecessor's recomputed hash.
	var prevHash []byte
	if r.First > 0 {
		var prev gblock.Block
		var err error
		if rd != nil {
			prev, err = l.get(ctx, r.First-1)
		} else {
			prev, err = l.Get(ctx, r.First-1)
		}
		if err != nil {
			return rep, fmt.Errorf("failed to load block %d preceding validation range: %w", r.First-1, err)
		}
		if prevHash, err = l.hs.Block(prev); err != nil {
			return rep, fmt.Errorf("failed to hash block %d preceding validation range: %w", r.First-1, err)
		}
	}

	expected := r.First
	var firstBroken *uint64
	limit := l.limits.MaxReportedInvalid

	visit := func(chunk []gblock.Block) error {
		for _, b := range chunk {
			var h []byte
			var ve *ValidationError

			if b.Sequence != expected {
				ve = invalidf("sequence", ErrSequenceMismatch, "expected %d", expected).at(b.Sequence)
			} else {
				var err error
				h, ve, err = l.verifyCommitted(ctx, b, prevHash)
				if err != nil {
					return err
				}
			}

			if ve == nil && firstBroken != nil {
				ve = invalidf("chain", ErrUpstreamBroken, "first invalid block is %d", *firstBroken).at(b.Sequence)
			}
			if ve != nil {
				if firstBroken == nil {
					seq := b.Sequence
					firstBroken = &seq
				}
				rep.add(b.Sequence, ve, limit)
			}

			rep.Checked++
			prevHash = h
			expected = b.Sequence + 1
		}
		return nil
	}

	rangeToStream := gblock.Range{First: r.First, Last: rep.Range.Last}
	var err error
	if rd != nil {
		err = l.stream.ForEachChunkLocked(ctx, rd, rangeToStream, l.limits.ValidationChunkSize, visit)
	} else {
		err = l.stream.ForEachChunk(ctx, rangeToStream, l.limits.ValidationChunkSize, visit)
	}
	if err != nil {
		return rep, fmt.Errorf("failed while validating %s: %w", rangeToStream, err)
	}

	if expected <= rep.Range.Last {
		// The store ended before the tail observed at the start.
		// That happens with a concurrent truncation, or with a damaged store.
		rep.add(expected, invalidf(
			"sequence", ErrSequenceMismatch, "block missing from store; expected blocks through %d", rep.Range.Last,
		).at(expected), limit)
		rep.Range.Last = expected - 1
	}

	lg := glog.SeqRange(l.log, rep.Range.First, rep.Range.Last)
	if rep.Valid() {
		lg.Debug("Validated range", "checked", rep.Checked)
	} else {
		first, _ := rep.FirstInvalid()
		lg.Warn(
			"Validation found invalid blocks",
			"checked", rep.Checked, "invalid", rep.InvalidCount, "first_invalid", first,
		)
	}

	return rep, nil
}

// verifyCommitted checks one stored block.
// It returns the recomputed hash so the caller can check the next block's linkage
// against what this block's content actually hashes to, not against its stored hash.
func (l *Ledger) verifyCommitted(
	ctx context.Context, b gblock.Block, prevHash []byte,
) ([]byte, *ValidationError, error) {
	if b.Signer == nil {
		return nil, invalid("signer", ErrMissingField).at(b.Sequence), nil
	}

	h, err := l.hs.Block(b)
	if err != nil {
		return nil, (&ValidationError{Field: "hash", Reason: ErrHashMismatch, Cause: err}).at(b.Sequence), nil
	}
	if !bytes.Equal(h, b.Hash) {
		l.m.InvalidBlock("hash")
		return h, invalidf("hash", ErrHashMismatch, "computed %x, stored %x", h, b.Hash).at(b.Sequence), nil
	}

	if !b.Signer.Verify(h, b.Signature) {
		l.m.InvalidBlock("signature")
		return h, invalid("signature", ErrBadSignature).at(b.Sequence), nil
	}

	ok, err := l.dir.IsAuthorized(ctx, b.Signer, b.Timestamp)
	if err != nil {
		return h, nil, fmt.Errorf("failed to check authorization of block %d signer: %w", b.Sequence, err)
	}
	if !ok {
		l.m.InvalidBlock("signer")
		return h, invalid("signer", ErrUnauthorizedSigner).at(b.Sequence), nil
	}

	if !bytes.Equal(b.PrevHash, prevHash) {
		l.m.InvalidBlock("prev_hash")
		return h, invalidf(
			"prev_hash", ErrLinkageMismatch, "predecessor hashes to %x, block links to %x", prevHash, b.PrevHash,
		).at(b.Sequence), nil
	}

	return h, nil, nil
}
