package gcrypto

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"fmt"
)

const ed25519Tag = "ed25519"

// RegisterEd25519 adds ed25519 keys to reg.
func RegisterEd25519(reg *Registry) {
	reg.Register(ed25519Tag, Ed25519PubKey{}, NewEd25519PubKey)
}

// Ed25519PubKey is the default block signer key type.
type Ed25519PubKey ed25519.PublicKey

func NewEd25519PubKey(b []byte) (PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key: want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return Ed25519PubKey(b), nil
}

func (k Ed25519PubKey) PubKeyBytes() []byte { return []byte(k) }

func (k Ed25519PubKey) TypeName() string { return ed25519Tag }

// Verify reports whether sig is k's signature of msg.
// A malformed key never verifies.
func (k Ed25519PubKey) Verify(msg, sig []byte) bool {
	return len(k) == ed25519.PublicKeySize && ed25519.Verify(ed25519.PublicKey(k), msg, sig)
}

func (k Ed25519PubKey) Equal(other PubKey) bool {
	o, ok := other.(Ed25519PubKey)
	return ok && ed25519.PublicKey(k).Equal(ed25519.PublicKey(o))
}

// Ed25519Signer signs block hashes with an in-process private key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  Ed25519PubKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) Ed25519Signer {
	return Ed25519Signer{
		priv: priv,
		pub:  Ed25519PubKey(priv.Public().(ed25519.PublicKey)),
	}
}

// NewEd25519SignerFromSeed derives the signer from a 32-byte seed,
// the form key files store.
func NewEd25519SignerFromSeed(seed []byte) (Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return Ed25519Signer{}, fmt.Errorf("ed25519 seed: want %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

func (s Ed25519Signer) PubKey() PubKey { return s.pub }

// Seed returns the seed accepted by [NewEd25519SignerFromSeed].
func (s Ed25519Signer) Seed() []byte { return s.priv.Seed() }

func (s Ed25519Signer) Sign(_ context.Context, input []byte) ([]byte, error) {
	return s.priv.Sign(nil, input, crypto.Hash(0))
}
