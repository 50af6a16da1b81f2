// Package gcryptotest holds deterministic keys for tests.
package gcryptotest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/gordian-engine/gledger/gcrypto"
)

var (
	edMu   sync.RWMutex
	edKeys []ed25519.PrivateKey
)

// DeterministicEd25519Signers returns n signers whose keys are the same on every run.
// Index i always yields the same key regardless of n.
func DeterministicEd25519Signers(n int) []gcrypto.Ed25519Signer {
	edMu.RLock()
	have := len(edKeys)
	edMu.RUnlock()

	if have < n {
		edMu.Lock()
		for i := len(edKeys); i < n; i++ {
			seed := fmt.Sprintf("gledger-test-signer-%012d", i)
			edKeys = append(edKeys, ed25519.NewKeyFromSeed([]byte(seed)))
		}
		edMu.Unlock()
	}

	res := make([]gcrypto.Ed25519Signer, n)

	edMu.RLock()
	defer edMu.RUnlock()
	for i := range res {
		res[i] = gcrypto.NewEd25519Signer(bytes.Clone([]byte(edKeys[i])))
	}
	return res
}

// DeterministicSymmetricKey returns a symmetric key whose material
// is derived from id, so the same id always yields the same key.
func DeterministicSymmetricKey(id string) gcrypto.SymmetricKey {
	material := bytes.Repeat([]byte(id+"!"), gcrypto.SymmetricKeySize)[:gcrypto.SymmetricKeySize]
	k, err := gcrypto.NewSymmetricKey(id, material)
	if err != nil {
		panic(err)
	}
	return k
}
