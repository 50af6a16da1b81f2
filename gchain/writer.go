package gchain

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/glock"
	"github.com/gordian-engine/gledger/internal/glog"
)

// Candidate is a request to append one block.
//
// Exactly one of Signer or Sealed must be set.
// With Signer, the ledger assigns the sequence and previous hash,
// computes the content hash, and asks Signer to sign it.
// With Sealed, the block was produced elsewhere (e.g. an exported chain being imported)
// and is accepted only if its sequence, linkage, hash, and signature all match.
type Candidate struct {
	// Timestamp is ignored for sealed candidates.
	// A zero timestamp is replaced with the ledger's current time.
	Timestamp time.Time
	Payload   gblock.Payload

	Signer gcrypto.Signer

	Sealed *gblock.Block

	// ExpectedPrevHash, if set, makes the append conditional
	// on the chain tail still having this hash.
	ExpectedPrevHash []byte
}

func (c Candidate) payload() gblock.Payload {
	if c.Sealed != nil {
		return c.Sealed.Payload
	}
	return c.Payload
}

func (c Candidate) timestamp() time.Time {
	if c.Sealed != nil {
		return c.Sealed.Timestamp
	}
	return c.Timestamp
}

func (c Candidate) signerKey() gcrypto.PubKey {
	if c.Sealed != nil {
		return c.Sealed.Signer
	}
	return c.Signer.PubKey()
}

// Checked is a candidate that passed every check
// that does not depend on the chain tail.
// It is only obtainable from [*Ledger.Precheck].
type Checked struct {
	c Candidate
}

// Precheck runs the structural and cryptographic checks on c
// that do not require the exclusive lock.
// Callers writing many candidates should precheck them all
// before acquiring the lock, to fail fast without blocking other writers.
func (l *Ledger) Precheck(ctx context.Context, c Candidate) (Checked, error) {
	if c.Sealed == nil && c.Timestamp.IsZero() {
		c.Timestamp = l.now()
	}
	// Drop the monotonic reading and location so the value round-trips through storage.
	c.Timestamp = c.Timestamp.UTC().Round(0)

	if err := l.checkStructure(c); err != nil {
		l.m.InvalidBlock(err.Field)
		return Checked{}, err
	}

	if err := l.checkSigner(ctx, c); err != nil {
		if ve, ok := AsValidationError(err); ok {
			l.m.InvalidBlock(ve.Field)
		}
		return Checked{}, err
	}

	return Checked{c: c}, nil
}

func (l *Ledger) checkStructure(c Candidate) *ValidationError {
	if (c.Signer == nil) == (c.Sealed == nil) {
		return invalidf("signer", ErrMissingField, "exactly one of signer or sealed block must be set")
	}

	if c.Sealed != nil {
		switch {
		case c.Sealed.Signer == nil:
			return invalid("signer", ErrMissingField)
		case len(c.Sealed.Signature) == 0:
			return invalid("signature", ErrMissingField)
		case len(c.Sealed.Hash) == 0:
			return invalid("hash", ErrMissingField)
		case c.Sealed.Timestamp.IsZero():
			return invalid("timestamp", ErrMissingField)
		}
	}

	p := c.payload()
	if len(p.Data) == 0 && p.OffChainRef == "" {
		return invalidf("payload", ErrMissingField, "payload has neither data nor off-chain reference")
	}

	if limit := l.limits.MaxPayloadSize; limit > 0 && p.Size() > limit {
		return invalidf("payload", ErrPayloadTooLarge, "%d bytes exceeds limit of %d", p.Size(), limit)
	}

	if e := p.Encryption; e != nil {
		if e.Algorithm == "" || e.KeyID == "" {
			return invalidf("encryption", ErrBadEncryption, "algorithm and key ID are required")
		}
		ok, err := gcrypto.ValidNonceSize(e.Algorithm, len(e.Nonce))
		if err != nil {
			return &ValidationError{Field: "encryption", Reason: ErrBadEncryption, Cause: err}
		}
		if !ok {
			return invalidf("encryption", ErrBadEncryption, "wrong nonce size %d for %s", len(e.Nonce), e.Algorithm)
		}
	}

	return nil
}

func (l *Ledger) checkSigner(ctx context.Context, c Candidate) error {
	pub := c.signerKey()

	if c.Sealed != nil && !pub.Verify(c.Sealed.Hash, c.Sealed.Signature) {
		return invalid("signature", ErrBadSignature).at(c.Sealed.Sequence)
	}

	ts := c.timestamp()
	ok, err := l.dir.IsAuthorized(ctx, pub, ts)
	if err != nil {
		return fmt.Errorf("failed to check signer authorization: %w", err)
	}
	if !ok {
		ve := invalidf("signer", ErrUnauthorizedSigner, "key %x at %s", pub.PubKeyBytes(), ts.Format(time.RFC3339Nano))
		if c.Sealed != nil {
			ve.at(c.Sealed.Sequence)
		}
		return ve
	}

	return nil
}

// Writer is a write session.
// Blocks appended to a Writer are not visible to readers until [*Writer.Commit],
// and are discarded entirely by [*Writer.Discard] or a failed commit.
type Writer struct {
	l *Ledger
	x *glock.Exclusive

	// tail is the last block in pending, or the committed tail.
	tail    *gblock.Block
	pending []gblock.Block

	done bool
}

// Begin opens a write session.
// The caller must hold x until the session is committed or discarded.
func (l *Ledger) Begin(x *glock.Exclusive) *Writer {
	l.lock.MustHold(x)
	return &Writer{l: l, x: x, tail: l.tail.Load()}
}

// Len reports the number of blocks appended in this session.
func (w *Writer) Len() int {
	return len(w.pending)
}

// Next reports the sequence the next appended block will receive.
func (w *Writer) Next() uint64 {
	seq, _ := w.next()
	return seq
}

func (w *Writer) next() (uint64, []byte) {
	if w.tail == nil {
		return 0, nil
	}
	return w.tail.Sequence + 1, w.tail.Hash
}

// Append prechecks c and appends it to the session.
func (w *Writer) Append(ctx context.Context, c Candidate) (gblock.Block, error) {
	chk, err := w.l.Precheck(ctx, c)
	if err != nil {
		return gblock.Block{}, err
	}
	return w.AppendChecked(ctx, chk)
}

// AppendChecked appends an already prechecked candidate to the session,
// running only the checks that depend on the chain tail.
func (w *Writer) AppendChecked(ctx context.Context, chk Checked) (gblock.Block, error) {
	w.l.lock.MustHold(w.x)
	if w.done {
		panic(fmt.Errorf("BUG: append to finished write session"))
	}

	c := chk.c
	if c.Signer == nil && c.Sealed == nil {
		panic(fmt.Errorf("BUG: AppendChecked called with a zero Checked value"))
	}

	next, prevHash := w.next()

	if c.ExpectedPrevHash != nil && !bytes.Equal(c.ExpectedPrevHash, prevHash) {
		return gblock.Block{}, invalidf(
			"prev_hash", ErrLinkageMismatch, "tail hash is %x, caller expected %x", prevHash, c.ExpectedPrevHash,
		).at(next)
	}

	var b gblock.Block
	var err error
	if c.Sealed != nil {
		b, err = w.l.acceptSealed(*c.Sealed, next, prevHash)
	} else {
		b, err = w.l.seal(ctx, c, next, prevHash)
	}
	if err != nil {
		if ve, ok := AsValidationError(err); ok {
			w.l.m.InvalidBlock(ve.Field)
		}
		return gblock.Block{}, err
	}

	w.pending = append(w.pending, b)
	tail := b
	w.tail = &tail
	return b, nil
}

func (l *Ledger) acceptSealed(b gblock.Block, next uint64, prevHash []byte) (gblock.Block, error) {
	if b.Sequence != next {
		return gblock.Block{}, invalidf(
			"sequence", ErrSequenceMismatch, "expected %d", next,
		).at(b.Sequence)
	}

	if !bytes.Equal(b.PrevHash, prevHash) {
		return gblock.Block{}, invalidf(
			"prev_hash", ErrLinkageMismatch, "tail hash is %x, block links to %x", prevHash, b.PrevHash,
		).at(b.Sequence)
	}

	h, err := l.hs.Block(b)
	if err != nil {
		return gblock.Block{}, (&ValidationError{Field: "hash", Reason: ErrHashMismatch, Cause: err}).at(b.Sequence)
	}
	if !bytes.Equal(h, b.Hash) {
		return gblock.Block{}, invalidf(
			"hash", ErrHashMismatch, "computed %x, block claims %x", h, b.Hash,
		).at(b.Sequence)
	}

	return b.Clone(), nil
}

func (l *Ledger) seal(ctx context.Context, c Candidate, next uint64, prevHash []byte) (gblock.Block, error) {
	b := gblock.Block{
		Sequence:  next,
		PrevHash:  bytes.Clone(prevHash),
		Timestamp: c.Timestamp,
		Payload:   c.Payload,
		Signer:    c.Signer.PubKey(),
	}
	b = b.Clone()

	h, err := l.hs.Block(b)
	if err != nil {
		return gblock.Block{}, fmt.Errorf("failed to hash block %d: %w", next, err)
	}
	b.Hash = h

	sig, err := c.Signer.Sign(ctx, h)
	if err != nil {
		return gblock.Block{}, fmt.Errorf("failed to sign block %d: %w", next, err)
	}
	if !b.Signer.Verify(h, sig) {
		return gblock.Block{}, invalidf(
			"signature", ErrBadSignature, "signer produced a signature its own key rejects",
		).at(next)
	}
	b.Signature = sig

	return b, nil
}

// Commit persists every block appended in the session, atomically,
// and makes them visible to readers.
// On error, nothing is persisted.
func (w *Writer) Commit(ctx context.Context) ([]gblock.Block, error) {
	w.l.lock.MustHold(w.x)
	if w.done {
		panic(fmt.Errorf("BUG: commit of finished write session"))
	}
	w.done = true

	if len(w.pending) == 0 {
		return nil, nil
	}

	first, last := w.pending[0].Sequence, w.pending[len(w.pending)-1].Sequence
	if err := w.l.store.Append(ctx, w.pending); err != nil {
		glog.SeqRangeE(w.l.log, first, last, err).Warn("Failed to persist blocks")
		return nil, fmt.Errorf("failed to commit blocks %d-%d: %w", first, last, err)
	}

	tail := w.pending[len(w.pending)-1]
	w.l.tail.Store(&tail)
	w.l.m.Committed(len(w.pending), last)

	glog.SeqRange(w.l.log, first, last).Debug("Committed blocks")

	out := w.pending
	w.pending = nil
	return out, nil
}

// Discard abandons the session without persisting anything.
// It is safe to call after Commit.
func (w *Writer) Discard() {
	w.done = true
	w.pending = nil
}

// WriteLocked runs fn in a new write session and commits it if fn succeeds.
// If fn returns an error, the session is discarded and nothing is persisted.
func (l *Ledger) WriteLocked(
	ctx context.Context, x *glock.Exclusive, fn func(*Writer) error,
) ([]gblock.Block, error) {
	w := l.Begin(x)
	if err := fn(w); err != nil {
		w.Discard()
		return nil, err
	}
	return w.Commit(ctx)
}

// Write is the entry form of [*Ledger.WriteLocked].
// fn must not call any entry-form method of the ledger.
func (l *Ledger) Write(ctx context.Context, fn func(*Writer) error) ([]gblock.Block, error) {
	x, err := l.lock.AcquireWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer l.lock.ReleaseWrite(x)

	return l.WriteLocked(ctx, x, fn)
}

// Append validates and commits a single candidate.
func (l *Ledger) Append(ctx context.Context, c Candidate) (gblock.Block, error) {
	chk, err := l.Precheck(ctx, c)
	if err != nil {
		return gblock.Block{}, err
	}

	var b gblock.Block
	_, err = l.Write(ctx, func(w *Writer) error {
		b, err = w.AppendChecked(ctx, chk)
		return err
	})
	if err != nil {
		return gblock.Block{}, err
	}
	return b, nil
}
