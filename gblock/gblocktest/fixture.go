// Package gblocktest builds signed, hash-linked blocks for tests.
package gblocktest

import (
	"context"
	"fmt"
	"time"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gcrypto/gcryptotest"
)

// Fixture produces valid blocks without going through a ledger.
type Fixture struct {
	Signers    []gcrypto.Ed25519Signer
	HashScheme gblock.HashScheme
	Registry   *gcrypto.Registry

	// Start is the timestamp of the genesis block;
	// each later block is one second after its predecessor.
	Start time.Time
}

// NewFixture returns a Fixture with nSigners deterministic ed25519 signers.
func NewFixture(nSigners int) *Fixture {
	return &Fixture{
		Signers:    gcryptotest.DeterministicEd25519Signers(nSigners),
		HashScheme: gblock.Blake2bHashScheme{},
		Registry:   gcrypto.NewDefaultRegistry(),
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Codec returns a JSON codec using the fixture's registry.
func (f *Fixture) Codec() gblock.JSONCodec {
	return gblock.JSONCodec{CryptoRegistry: f.Registry}
}

// Seal sets the hash and signature of b using the signer at signerIdx.
func (f *Fixture) Seal(b gblock.Block, signerIdx int) gblock.Block {
	s := f.Signers[signerIdx]
	b.Signer = s.PubKey()

	h, err := f.HashScheme.Block(b)
	if err != nil {
		panic(fmt.Errorf("failed to hash block %d: %w", b.Sequence, err))
	}
	b.Hash = h

	sig, err := s.Sign(context.Background(), h)
	if err != nil {
		panic(fmt.Errorf("failed to sign block %d: %w", b.Sequence, err))
	}
	b.Signature = sig

	return b
}

// Next returns a sealed block following prev, or a genesis block if prev is nil.
func (f *Fixture) Next(prev *gblock.Block, p gblock.Payload, signerIdx int) gblock.Block {
	b := gblock.Block{
		Timestamp: f.Start,
		Payload:   p,
	}
	if prev != nil {
		b.Sequence = prev.Sequence + 1
		b.PrevHash = prev.Hash
		b.Timestamp = prev.Timestamp.Add(time.Second)
	}
	return f.Seal(b, signerIdx)
}

// Chain returns n sealed blocks starting at genesis,
// each with payload "block <seq>" and signed by the first signer.
func (f *Fixture) Chain(n int) []gblock.Block {
	return f.Extend(nil, n)
}

// Extend returns n sealed blocks following prev.
func (f *Fixture) Extend(prev *gblock.Block, n int) []gblock.Block {
	out := make([]gblock.Block, 0, n)
	for range n {
		seq := uint64(0)
		if prev != nil {
			seq = prev.Sequence + 1
		}
		b := f.Next(prev, gblock.Payload{Data: []byte(fmt.Sprintf("block %d", seq))}, 0)
		out = append(out, b)
		prev = &out[len(out)-1]
	}
	return out
}
