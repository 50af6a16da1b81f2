package gcmd

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/gordian-engine/gledger/gcrypto"
)

// GenerateSigner returns a signer with a random seed.
func GenerateSigner() (gcrypto.Ed25519Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return gcrypto.Ed25519Signer{}, fmt.Errorf("failed to read random seed: %w", err)
	}
	return gcrypto.NewEd25519SignerFromSeed(seed)
}

// WriteKeyFile writes the signer's hex-encoded seed to path,
// readable only by the owner. It refuses to overwrite an existing file.
func WriteKeyFile(path string, s gcrypto.Ed25519Signer) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%x\n", s.Seed()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return f.Close()
}

// ReadKeyFile loads a signer written by [WriteKeyFile].
func ReadKeyFile(path string) (gcrypto.Ed25519Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return gcrypto.Ed25519Signer{}, fmt.Errorf("failed to read key file: %w", err)
	}

	seed, err := hex.DecodeString(string(bytes.TrimSpace(b)))
	if err != nil {
		return gcrypto.Ed25519Signer{}, fmt.Errorf("failed to decode key file %s: %w", path, err)
	}
	return gcrypto.NewEd25519SignerFromSeed(seed)
}

// ParsePubKey decodes a hex-encoded ed25519 public key.
func ParsePubKey(s string) (gcrypto.PubKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	return gcrypto.NewEd25519PubKey(b)
}
