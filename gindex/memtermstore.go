package gindex

import (
	"context"
	"slices"
	"sync"
)

// MemTermStore is an in-memory [TermStore].
type MemTermStore struct {
	mu sync.RWMutex

	// Term -> sequence -> hash.
	byTerm map[string]map[uint64][]byte

	// Sequence -> terms, for replacement and removal.
	bySeq map[uint64][]string
}

func NewMemTermStore() *MemTermStore {
	return &MemTermStore{
		byTerm: make(map[string]map[uint64][]byte),
		bySeq:  make(map[uint64][]string),
	}
}

func (s *MemTermStore) PutTerms(_ context.Context, ref Ref, terms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeSeq(ref.Sequence)

	terms = slices.Clone(terms)
	h := slices.Clone(ref.Hash)
	for _, t := range terms {
		m := s.byTerm[t]
		if m == nil {
			m = make(map[uint64][]byte)
			s.byTerm[t] = m
		}
		m[ref.Sequence] = h
	}
	s.bySeq[ref.Sequence] = terms
	return nil
}

func (s *MemTermStore) removeSeq(seq uint64) int {
	old, ok := s.bySeq[seq]
	if !ok {
		return 0
	}
	for _, t := range old {
		m := s.byTerm[t]
		delete(m, seq)
		if len(m) == 0 {
			delete(s.byTerm, t)
		}
	}
	delete(s.bySeq, seq)
	return len(old)
}

func (s *MemTermStore) Lookup(_ context.Context, term string, from uint64, limit int) ([]Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.byTerm[term]
	seqs := make([]uint64, 0, len(m))
	for seq := range m {
		if seq >= from {
			seqs = append(seqs, seq)
		}
	}
	slices.Sort(seqs)
	if limit >= 0 && len(seqs) > limit {
		seqs = seqs[:limit]
	}

	refs := make([]Ref, len(seqs))
	for i, seq := range seqs {
		refs[i] = Ref{Sequence: seq, Hash: slices.Clone(m[seq])}
	}
	return refs, nil
}

func (s *MemTermStore) RemoveAfter(_ context.Context, seq uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.bySeq {
		if k > seq {
			n += s.removeSeq(k)
		}
	}
	return n, nil
}
