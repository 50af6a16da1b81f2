// Package gblock defines the ledger's block type,
// the hash schemes that bind a block's content,
// and the codec used to persist and export blocks.
package gblock

import (
	"bytes"
	"slices"
	"time"

	"github.com/gordian-engine/gledger/gcrypto"
)

// Block is an immutable, hash-linked ledger entry.
//
// Blocks are never modified after they are committed.
// Code that receives a Block from a store or the streaming layer
// must treat its byte slices as read-only.
type Block struct {
	// Sequence is the block's position in the chain, starting at 0 for genesis.
	Sequence uint64

	// PrevHash is the Hash of the block at Sequence-1,
	// or empty for the genesis block.
	PrevHash []byte

	Timestamp time.Time

	Payload Payload

	Signer    gcrypto.PubKey
	Signature []byte

	// Hash is the content hash determined by a [HashScheme].
	// The signature is over this value.
	Hash []byte
}

// Payload is the user data carried by a block.
type Payload struct {
	// Data is the plaintext, or the ciphertext when Encryption is set.
	Data []byte

	// Encryption is nil for plaintext payloads.
	Encryption *Encryption

	// OffChainRef optionally points at data stored outside the ledger.
	// The ledger treats it as opaque.
	OffChainRef string
}

// Encryption describes how an encrypted payload was sealed.
type Encryption struct {
	Algorithm string
	KeyID     string
	Nonce     []byte
}

// Encrypted reports whether p carries ciphertext.
func (p Payload) Encrypted() bool {
	return p.Encryption != nil
}

// Size is the number of bytes the payload contributes to a block,
// used when enforcing payload size limits.
func (p Payload) Size() int {
	n := len(p.Data) + len(p.OffChainRef)
	if e := p.Encryption; e != nil {
		n += len(e.Algorithm) + len(e.KeyID) + len(e.Nonce)
	}
	return n
}

// Clone returns a deep copy of b, except for the signer key
// which is immutable.
func (b Block) Clone() Block {
	c := b
	c.PrevHash = bytes.Clone(b.PrevHash)
	c.Signature = bytes.Clone(b.Signature)
	c.Hash = bytes.Clone(b.Hash)
	c.Payload.Data = bytes.Clone(b.Payload.Data)
	if e := b.Payload.Encryption; e != nil {
		ce := *e
		ce.Nonce = bytes.Clone(e.Nonce)
		c.Payload.Encryption = &ce
	}
	return c
}

// IsGenesis reports whether b is the first block of a chain.
func (b Block) IsGenesis() bool {
	return b.Sequence == 0
}

// CloneBlocks deep-copies every block in bs.
func CloneBlocks(bs []Block) []Block {
	out := slices.Clone(bs)
	for i := range out {
		out[i] = bs[i].Clone()
	}
	return out
}
