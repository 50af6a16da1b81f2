package gcmd

import (
	"crypto/ed25519"

	"github.com/gordian-engine/gledger/gcrypto"
	"golang.org/x/crypto/blake2b"
)

// SignerFromInsecurePassphrase derives a signer from a passphrase.
// Anyone who learns the passphrase can sign as this key;
// use a key file for anything other than local experiments.
func SignerFromInsecurePassphrase(prefix, insecurePassphrase string) (gcrypto.Ed25519Signer, error) {
	bh, err := blake2b.New(ed25519.SeedSize, nil)
	if err != nil {
		return gcrypto.Ed25519Signer{}, err
	}
	bh.Write([]byte(prefix + insecurePassphrase))
	seed := bh.Sum(nil)

	return gcrypto.NewEd25519SignerFromSeed(seed)
}
