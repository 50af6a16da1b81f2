package gindex

import (
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gcrypto"
)

// Strategy is how one block's payload is turned into index terms.
// It is a closed set: [PlaintextStrategy], [DecryptStrategy]
// and [MetadataOnlyStrategy].
type Strategy interface {
	Name() string

	isStrategy()
}

// PlaintextStrategy indexes the payload data directly.
type PlaintextStrategy struct{}

// DecryptStrategy decrypts the payload with Key before indexing it.
// A decryption failure is an indexing failure; there is no fallback.
type DecryptStrategy struct {
	Key gcrypto.SymmetricKey
}

// MetadataOnlyStrategy indexes only metadata,
// for encrypted payloads whose key is unavailable.
type MetadataOnlyStrategy struct{}

func (PlaintextStrategy) Name() string    { return "plaintext" }
func (DecryptStrategy) Name() string      { return "decrypt" }
func (MetadataOnlyStrategy) Name() string { return "metadata_only" }

func (PlaintextStrategy) isStrategy()    {}
func (DecryptStrategy) isStrategy()      {}
func (MetadataOnlyStrategy) isStrategy() {}

// ChooseStrategy selects exactly one strategy for b.
// keys may be nil.
func ChooseStrategy(b gblock.Block, keys *gcrypto.KeyRing) Strategy {
	enc := b.Payload.Encryption
	if enc == nil {
		return PlaintextStrategy{}
	}

	if enc.Algorithm != gcrypto.AlgXChaCha20Poly1305 {
		return MetadataOnlyStrategy{}
	}

	k, ok := keys.Key(enc.KeyID)
	if !ok {
		return MetadataOnlyStrategy{}
	}
	return DecryptStrategy{Key: k}
}
