package gauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordian-engine/gledger/gcrypto"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu   sync.RWMutex
	keys map[string]AuthorizedKey
}

func NewMemStore() *MemStore {
	return &MemStore{keys: map[string]AuthorizedKey{}}
}

func memKey(pub gcrypto.PubKey) string {
	return pub.TypeName() + "/" + string(pub.PubKeyBytes())
}

func (s *MemStore) IsAuthorized(_ context.Context, pub gcrypto.PubKey, at time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[memKey(pub)]
	if !ok {
		return false, nil
	}
	return k.AuthorizedAt(at), nil
}

func (s *MemStore) PutKey(_ context.Context, k AuthorizedKey) error {
	if k.PubKey == nil {
		return fmt.Errorf("cannot store authorized key without a public key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[memKey(k.PubKey)] = k
	return nil
}

func (s *MemStore) Key(_ context.Context, pub gcrypto.PubKey) (AuthorizedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[memKey(pub)]
	if !ok {
		return AuthorizedKey{}, fmt.Errorf("%w: %x", ErrKeyNotFound, pub.PubKeyBytes())
	}
	return k, nil
}

func (s *MemStore) Keys(context.Context) ([]AuthorizedKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AuthorizedKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}
