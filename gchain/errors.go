package gchain

import (
	"errors"
	"fmt"
	"strings"
)

// Reasons a block or candidate fails validation.
// A [*ValidationError] wraps exactly one of these.
var (
	ErrMissingField       = errors.New("required field missing")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrBadEncryption      = errors.New("invalid encryption metadata")
	ErrBadSignature       = errors.New("signature does not verify")
	ErrUnauthorizedSigner = errors.New("signer not authorized at block timestamp")
	ErrHashMismatch       = errors.New("content hash mismatch")
	ErrLinkageMismatch    = errors.New("previous hash mismatch")
	ErrSequenceMismatch   = errors.New("sequence mismatch")

	// ErrUpstreamBroken marks a block that is otherwise valid
	// but follows a broken block in a validated range.
	ErrUpstreamBroken = errors.New("chain broken upstream")
)

// ValidationError describes why a block or candidate was rejected.
// It matches its Reason and its Cause with [errors.Is].
type ValidationError struct {
	// Sequence is the affected block's sequence number.
	// It is only meaningful when Assigned is true;
	// candidates rejected before the exclusive lock have no sequence yet.
	Sequence uint64
	Assigned bool

	// Field names the offending part of the block, e.g. "payload" or "prev_hash".
	Field string

	Reason error
	Cause  error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Assigned {
		fmt.Fprintf(&b, "block %d: ", e.Sequence)
	}
	fmt.Fprintf(&b, "invalid %s: %v", e.Field, e.Reason)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}

// AsValidationError returns the [*ValidationError] in err's chain, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

func invalid(field string, reason error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func invalidf(field string, reason error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Cause: fmt.Errorf(format, args...)}
}

func (e *ValidationError) at(seq uint64) *ValidationError {
	e.Sequence = seq
	e.Assigned = true
	return e
}
