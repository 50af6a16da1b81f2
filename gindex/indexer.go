package gindex

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gstream"
)

// BlockSource streams committed blocks in ascending order.
// [*gstream.Streamer] satisfies it.
type BlockSource interface {
	ForEachChunk(ctx context.Context, r gblock.Range, chunkSize int, visit gstream.Visitor) error
}

type KeywordIndexerConfig struct {
	Source BlockSource
	Terms  TermStore

	// Defaults to a zero WordExtractor.
	Extractor Extractor

	// Keys for payloads that may be decrypted for indexing. May be nil.
	Keys *gcrypto.KeyRing

	// Defaults to 256.
	ChunkSize int
}

// KeywordIndexer is the default [RangeIndexer].
// It maps each block's words, plus a few metadata terms, to the block's sequence and hash.
type KeywordIndexer struct {
	log *slog.Logger

	src   BlockSource
	terms TermStore
	ext   Extractor
	keys  *gcrypto.KeyRing

	chunkSize int
}

func NewKeywordIndexer(log *slog.Logger, cfg KeywordIndexerConfig) *KeywordIndexer {
	if cfg.Source == nil || cfg.Terms == nil {
		panic(fmt.Errorf("BUG: NewKeywordIndexer requires Source and Terms"))
	}
	if cfg.Extractor == nil {
		cfg.Extractor = WordExtractor{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256
	}
	return &KeywordIndexer{
		log:       log,
		src:       cfg.Source,
		terms:     cfg.Terms,
		ext:       cfg.Extractor,
		keys:      cfg.Keys,
		chunkSize: cfg.ChunkSize,
	}
}

func (x *KeywordIndexer) IndexRange(ctx context.Context, r gblock.Range) (Outcome, error) {
	var out Outcome
	err := x.src.ForEachChunk(ctx, r, x.chunkSize, func(chunk []gblock.Block) error {
		for _, b := range chunk {
			s := ChooseStrategy(b, x.keys)
			terms, err := x.Terms(b, s)
			if err != nil {
				out.Failures = append(out.Failures, &IndexingFailure{
					Range:    r,
					Sequence: b.Sequence,
					Strategy: s.Name(),
					Cause:    err,
				})
				continue
			}

			if err := x.terms.PutTerms(ctx, Ref{Sequence: b.Sequence, Hash: b.Hash}, terms); err != nil {
				return fmt.Errorf("failed to store terms for block %d: %w", b.Sequence, err)
			}
			out.Indexed++
		}
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("failed to index range %s: %w", r, err)
	}
	return out, nil
}

func (x *KeywordIndexer) Purge(ctx context.Context, after uint64) (int, error) {
	n, err := x.terms.RemoveAfter(ctx, after)
	if err != nil {
		return n, fmt.Errorf("failed to purge terms after %d: %w", after, err)
	}
	return n, nil
}

// Terms runs strategy s against b and returns the block's sorted, distinct terms.
func (x *KeywordIndexer) Terms(b gblock.Block, s Strategy) ([]string, error) {
	var terms []string
	switch s := s.(type) {
	case PlaintextStrategy:
		terms = x.ext.Terms(b.Payload.Data)
	case DecryptStrategy:
		enc := b.Payload.Encryption
		if enc == nil {
			return nil, fmt.Errorf("decrypt strategy chosen for unencrypted block")
		}
		pt, err := s.Key.Open(enc.Nonce, b.Payload.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt payload with key %q: %w", enc.KeyID, err)
		}
		terms = x.ext.Terms(pt)
	case MetadataOnlyStrategy:
		// Nothing from the payload itself.
	default:
		panic(fmt.Errorf("BUG: unhandled strategy %T", s))
	}

	terms = append(terms, MetadataTerms(b)...)
	slices.Sort(terms)
	return slices.Compact(terms), nil
}

// MetadataTerms returns the terms derived from a block's metadata alone.
func MetadataTerms(b gblock.Block) []string {
	var terms []string
	if ref := b.Payload.OffChainRef; ref != "" {
		terms = append(terms, NormalizeTerm("ref:"+ref))
	}
	if enc := b.Payload.Encryption; enc != nil {
		terms = append(terms, "encrypted", NormalizeTerm("key:"+enc.KeyID))
	}
	return terms
}
