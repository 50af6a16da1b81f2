// Package gledger is the entry point for applications using the ledger.
//
// A [*Ledger] ties together the hash-linked chain, the batch write pipeline,
// the streaming layer, and background search indexing
// over a single backend store.
package gledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gledger/gauth"
	"github.com/gordian-engine/gledger/gbatch"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchain"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gcrypto"
	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/glock"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/gordian-engine/gledger/gstream"
	"github.com/gordian-engine/gledger/internal/glog"
)

// ErrAlreadyInitialized is returned by [*Ledger.InitGenesis]
// when the ledger already has a genesis block.
var ErrAlreadyInitialized = errors.New("ledger already has a genesis block")

// Backend is the set of collaborators a [*Ledger] runs on.
// Store and Directory are required.
type Backend struct {
	Store     gchainstore.Store
	Directory gauth.Directory

	// Search index storage. Defaults to an in-memory store.
	Terms gindex.TermStore

	// Defaults to [gblock.Blake2bHashScheme].
	HashScheme gblock.HashScheme

	// Keys used to index encrypted payloads. May be nil.
	Keys *gcrypto.KeyRing

	// Registry decodes signer keys during Import.
	// Defaults to [gcrypto.NewDefaultRegistry].
	Registry *gcrypto.Registry

	// Defaults to [gindex.WordExtractor].
	Extractor gindex.Extractor

	Metrics *gmetrics.Metrics

	// Defaults to time.Now.
	Now func() time.Time
}

// Ledger is a tamper-evident, append-only block ledger
// with a single writer at a time and any number of concurrent readers.
type Ledger struct {
	log *slog.Logger
	cfg Config

	stream  *gstream.Streamer
	chain   *gchain.Ledger
	batch   *gbatch.Pipeline
	indexer *gindex.KeywordIndexer
	coord   *gindex.Coordinator
	terms   gindex.TermStore
	keys    *gcrypto.KeyRing
	codec   gblock.JSONCodec
	m       *gmetrics.Metrics

	cancel context.CancelFunc
}

// Open returns a Ledger over the blocks already in be.Store.
// Background indexing runs until ctx is canceled or [*Ledger.Close] is called.
// The caller still owns be.Store and closes it after the Ledger.
func Open(ctx context.Context, log *slog.Logger, cfg Config, be Backend) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	if be.Store == nil || be.Directory == nil {
		return nil, errors.New("ledger backend requires Store and Directory")
	}

	if be.Terms == nil {
		be.Terms = gindex.NewMemTermStore()
	}
	if be.HashScheme == nil {
		be.HashScheme = gblock.Blake2bHashScheme{}
	}
	if be.Registry == nil {
		be.Registry = gcrypto.NewDefaultRegistry()
	}
	if be.Extractor == nil {
		be.Extractor = gindex.WordExtractor{}
	}
	if be.Now == nil {
		be.Now = time.Now
	}

	lock := glock.New(cfg.LockTimeout, be.Metrics)
	stream := gstream.New(log.With("sys", "stream"), gstream.Config{
		Source:  be.Store,
		Lock:    lock,
		Force:   cfg.StreamStrategy,
		Metrics: be.Metrics,
	})

	chain, err := gchain.New(ctx, log.With("sys", "chain"), gchain.Config{
		Store:      be.Store,
		HashScheme: be.HashScheme,
		Directory:  be.Directory,
		Lock:       lock,
		Streamer:   stream,
		Limits: gchain.Limits{
			MaxPayloadSize:      cfg.MaxPayloadSize,
			MaxReportedInvalid:  cfg.MaxReportedInvalid,
			ValidationChunkSize: cfg.DefaultChunkSize,
		},
		Now:     be.Now,
		Metrics: be.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chain: %w", err)
	}

	indexer := gindex.NewKeywordIndexer(log.With("sys", "indexer"), gindex.KeywordIndexerConfig{
		Source:    stream,
		Terms:     be.Terms,
		Extractor: be.Extractor,
		Keys:      be.Keys,
		ChunkSize: cfg.DefaultChunkSize,
	})

	ctx, cancel := context.WithCancel(ctx)
	coord := gindex.NewCoordinator(ctx, log.With("sys", "index"), gindex.CoordinatorConfig{
		Workers:       cfg.IndexWorkers,
		QueueSize:     cfg.IndexQueueSize,
		SubmitTimeout: cfg.IndexSubmitTimeout,
		Indexer:       indexer,
		Metrics:       be.Metrics,
	})

	batch := gbatch.New(log.With("sys", "batch"), gbatch.Config{
		Chain:        chain,
		Scheduler:    coord,
		MaxBatchSize: cfg.MaxBatchSize,
		Now:          be.Now,
		Metrics:      be.Metrics,
	})

	return &Ledger{
		log: log,
		cfg: cfg,

		stream:  stream,
		chain:   chain,
		batch:   batch,
		indexer: indexer,
		coord:   coord,
		terms:   be.Terms,
		keys:    be.Keys,
		codec:   gblock.JSONCodec{CryptoRegistry: be.Registry},
		m:       be.Metrics,

		cancel: cancel,
	}, nil
}

// Config returns the limits the ledger was opened with.
func (l *Ledger) Config() Config {
	return l.cfg
}

// Chain returns the underlying chain, for composing core-form operations.
func (l *Ledger) Chain() *gchain.Ledger {
	return l.chain
}

// InitGenesis commits the genesis block, sequence 0 with no previous hash.
// It returns [ErrAlreadyInitialized] if the ledger is not empty.
func (l *Ledger) InitGenesis(ctx context.Context, signer gcrypto.Signer, p gblock.Payload) (gblock.Block, error) {
	blocks, err := l.chain.Write(ctx, func(w *gchain.Writer) error {
		if w.Next() != 0 {
			return ErrAlreadyInitialized
		}
		_, err := w.Append(ctx, gchain.Candidate{Payload: p, Signer: signer})
		return err
	})
	if err != nil {
		return gblock.Block{}, err
	}

	g := blocks[0]
	l.log.Info("Initialized genesis", "hash", glog.Hex(g.Hash))

	if _, err := l.coord.Schedule(context.WithoutCancel(ctx), gblock.Range{}); err != nil {
		l.log.Warn("Failed to schedule indexing of genesis", "err", err)
	}
	return g, nil
}

// AppendSingle commits one block and schedules its indexing.
// The returned future is nil if indexing could not be scheduled.
func (l *Ledger) AppendSingle(ctx context.Context, req gbatch.Request) (gblock.Block, *gindex.Future, error) {
	return l.batch.AppendSingle(ctx, req)
}

// SubmitBatch commits every request in order, or none of them.
func (l *Ledger) SubmitBatch(ctx context.Context, reqs []gbatch.Request) (gbatch.Result, error) {
	return l.batch.SubmitBatch(ctx, reqs)
}

// Get returns the committed block at seq.
func (l *Ledger) Get(ctx context.Context, seq uint64) (gblock.Block, error) {
	return l.chain.Get(ctx, seq)
}

// Tail returns the last committed block,
// or [gchainstore.ErrEmpty] if there is none.
func (l *Ledger) Tail(ctx context.Context) (gblock.Block, error) {
	return l.chain.Tail(ctx)
}

// ValidateRange checks hashes, signatures, authorization, and linkage over r.
func (l *Ledger) ValidateRange(ctx context.Context, r gblock.Range) (gchain.ValidationReport, error) {
	return l.chain.ValidateRange(ctx, r)
}

// ForEachChunk streams the committed blocks in r to visit,
// at most chunkSize at a time.
// A chunkSize of zero uses the configured default.
func (l *Ledger) ForEachChunk(ctx context.Context, r gblock.Range, chunkSize int, visit gstream.Visitor) error {
	if chunkSize == 0 {
		chunkSize = l.cfg.DefaultChunkSize
	}
	return l.stream.ForEachChunk(ctx, r, chunkSize, visit)
}

// ScheduleIndexing queues indexing of r without touching ledger locks.
func (l *Ledger) ScheduleIndexing(ctx context.Context, r gblock.Range) (*gindex.Future, error) {
	return l.coord.Schedule(ctx, r)
}

// TruncateAfter removes every block after seq and schedules
// removal of their search entries.
// The purge future is nil if nothing was removed or the purge could not be scheduled;
// stale entries are filtered from search results regardless.
func (l *Ledger) TruncateAfter(ctx context.Context, seq uint64) (int, *gindex.Future, error) {
	n, truncErr := l.chain.TruncateAfter(ctx, seq)
	if n == 0 {
		return 0, nil, truncErr
	}

	after := seq
	if truncErr != nil {
		// Only part of the range was removed; purge past what remains.
		tail, err := l.chain.Tail(ctx)
		if err != nil {
			return n, nil, truncErr
		}
		after = tail.Sequence
	}

	f, err := l.coord.SchedulePurge(context.WithoutCancel(ctx), after)
	if err != nil {
		l.log.Warn("Failed to schedule purge after truncation", "after", after, "err", err)
		return n, nil, truncErr
	}
	return n, f, truncErr
}

// IndexStats reports the indexing coordinator's task counts.
func (l *Ledger) IndexStats() gindex.Stats {
	return l.coord.Stats()
}

// Close stops background indexing.
// Accepted tasks are allowed to finish unless ctx ends first,
// in which case the remaining tasks are abandoned.
func (l *Ledger) Close(ctx context.Context) error {
	defer l.cancel()

	err := l.coord.Shutdown(ctx, true)
	if err != nil {
		l.log.Warn("Indexing did not drain before close; abandoning remaining tasks", "err", err)
		// Nothing more can be waited on, but queued tasks still need resolving.
		_ = l.coord.Shutdown(context.WithoutCancel(ctx), false)
	}
	return err
}
