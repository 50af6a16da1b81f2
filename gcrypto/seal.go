package gcrypto

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// AlgXChaCha20Poly1305 is the algorithm name recorded in payload encryption metadata
// for data sealed with [SymmetricKey.Seal].
const AlgXChaCha20Poly1305 = "xchacha20poly1305"

// SymmetricKeySize is the size in bytes of a [SymmetricKey].
const SymmetricKeySize = chacha20poly1305.KeySize

// SymmetricKey is a named key used to seal and open block payloads.
// The ID is stored alongside sealed payloads so that readers
// can find the key again in a [KeyRing].
type SymmetricKey struct {
	ID string

	key [SymmetricKeySize]byte
}

// NewSymmetricKey returns a key with the given ID and key material.
func NewSymmetricKey(id string, material []byte) (SymmetricKey, error) {
	if id == "" {
		return SymmetricKey{}, fmt.Errorf("symmetric key ID must not be empty")
	}
	if len(material) != SymmetricKeySize {
		return SymmetricKey{}, fmt.Errorf(
			"symmetric key must be %d bytes (got %d)", SymmetricKeySize, len(material),
		)
	}

	k := SymmetricKey{ID: id}
	copy(k.key[:], material)
	return k, nil
}

// GenerateSymmetricKey returns a new random key with the given ID.
func GenerateSymmetricKey(id string) (SymmetricKey, error) {
	var material [SymmetricKeySize]byte
	if _, err := rand.Read(material[:]); err != nil {
		return SymmetricKey{}, fmt.Errorf("failed to read random key material: %w", err)
	}
	return NewSymmetricKey(id, material[:])
}

// Seal encrypts plaintext and returns the ciphertext and the random nonce used.
func (k SymmetricKey) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(k.key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, []byte(k.ID)), nonce, nil
}

// Open decrypts ciphertext previously produced by [SymmetricKey.Seal].
// It returns [ErrOpenFailed] if authentication fails.
func (k SymmetricKey) Open(nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf(
			"nonce must be %d bytes (got %d): %w", aead.NonceSize(), len(nonce), ErrOpenFailed,
		)
	}

	pt, err := aead.Open(nil, nonce, ciphertext, []byte(k.ID))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}

// ValidNonceSize reports whether n is a valid nonce length for alg.
func ValidNonceSize(alg string, n int) (bool, error) {
	switch alg {
	case AlgXChaCha20Poly1305:
		return n == chacha20poly1305.NonceSizeX, nil
	default:
		return false, UnsupportedAlgorithmError{Algorithm: alg}
	}
}

// KeyRing holds the symmetric keys available to this process.
// It is safe for concurrent use.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]SymmetricKey
}

// NewKeyRing returns a KeyRing holding the given keys.
func NewKeyRing(keys ...SymmetricKey) *KeyRing {
	r := &KeyRing{keys: make(map[string]SymmetricKey, len(keys))}
	for _, k := range keys {
		r.keys[k.ID] = k
	}
	return r
}

// Add stores k, replacing any key with the same ID.
func (r *KeyRing) Add(k SymmetricKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.keys == nil {
		r.keys = map[string]SymmetricKey{}
	}
	r.keys[k.ID] = k
}

// Key returns the key with the given ID.
// A nil KeyRing holds no keys.
func (r *KeyRing) Key(id string) (SymmetricKey, bool) {
	if r == nil {
		return SymmetricKey{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.keys[id]
	return k, ok
}
