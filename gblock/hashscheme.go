package gblock

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// HashScheme determines the content hash of a block.
type HashScheme interface {
	// Block calculates and returns the content hash of b,
	// without consulting or modifying the existing Hash or Signature fields.
	//
	// The hash covers the sequence, previous hash, timestamp,
	// the payload including encryption metadata and off-chain reference,
	// and the signer's public key.
	Block(b Block) ([]byte, error)
}

// Blake2bHashScheme hashes a canonical text rendering of the block
// with 256-bit BLAKE2b. It is the default scheme.
type Blake2bHashScheme struct{}

func (Blake2bHashScheme) Block(b Block) ([]byte, error) {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new blake2b hasher: %w", err)
	}
	return hashBlock(hasher, b)
}

// SHA256HashScheme is like [Blake2bHashScheme] but uses SHA-256,
// for deployments that must use a FIPS-approved digest.
type SHA256HashScheme struct{}

func (SHA256HashScheme) Block(b Block) ([]byte, error) {
	return hashBlock(sha256.New(), b)
}

var errNoSigner = errors.New("cannot hash block without a signer")

func hashBlock(hasher hash.Hash, b Block) ([]byte, error) {
	if b.Signer == nil {
		return nil, errNoSigner
	}

	if err := writeCanonical(hasher, b); err != nil {
		return nil, err
	}

	return hasher.Sum(nil), nil
}

// writeCanonical writes the hashed fields of b in a fixed order.
// Variable-length text fields are quoted so that field boundaries are unambiguous.
func writeCanonical(w io.Writer, b Block) error {
	enc := "<none>"
	if e := b.Payload.Encryption; e != nil {
		enc = fmt.Sprintf("%s %s %x", strconv.Quote(e.Algorithm), strconv.Quote(e.KeyID), e.Nonce)
	}

	_, err := fmt.Fprintf(
		w,
		`BLOCK
Sequence: %d
PrevHash: %x
Timestamp: %d
Data: %x
Encryption: %s
OffChainRef: %s
Signer: %s %x
`,
		b.Sequence,
		b.PrevHash,
		b.Timestamp.UnixNano(),
		b.Payload.Data,
		enc,
		strconv.Quote(b.Payload.OffChainRef),
		strconv.Quote(b.Signer.TypeName()), b.Signer.PubKeyBytes(),
	)
	if err != nil {
		return fmt.Errorf("failed to write block content to hasher: %w", err)
	}
	return nil
}
