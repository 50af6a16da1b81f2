// Package gbatch commits groups of write requests to a chain
// under a single exclusive lock acquisition,
// then hands the committed range to the indexing coordinator.
package gbatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchain"
	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/gordian-engine/gledger/internal/glog"
)

// Request is one block to be written.
type Request = gchain.Candidate

// Scheduler accepts committed ranges for indexing.
// [*gindex.Coordinator] satisfies it.
type Scheduler interface {
	Schedule(ctx context.Context, r gblock.Range) (*gindex.Future, error)
}

const DefaultMaxBatchSize = 1000

type Config struct {
	Chain *gchain.Ledger

	// Scheduler may be nil, in which case nothing is indexed.
	Scheduler Scheduler

	// Defaults to DefaultMaxBatchSize.
	MaxBatchSize int

	// Assigns timestamps to requests that lack one.
	// Defaults to time.Now.
	Now func() time.Time

	Metrics *gmetrics.Metrics
}

// Result describes a committed batch.
type Result struct {
	BatchID uuid.UUID

	Blocks []gblock.Block
	Range  gblock.Range

	// Index is the indexing task for Range, or nil if scheduling failed,
	// in which case IndexErr says why. The blocks are committed either way.
	Index    *gindex.Future
	IndexErr error
}

type Pipeline struct {
	log *slog.Logger

	chain *gchain.Ledger
	sched Scheduler
	max   int
	now   func() time.Time
	m     *gmetrics.Metrics
}

func New(log *slog.Logger, cfg Config) *Pipeline {
	if cfg.Chain == nil {
		panic(fmt.Errorf("BUG: gbatch.New requires a Chain"))
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		log:   log,
		chain: cfg.Chain,
		sched: cfg.Scheduler,
		max:   cfg.MaxBatchSize,
		now:   cfg.Now,
		m:     cfg.Metrics,
	}
}

// MaxBatchSize reports the configured batch ceiling.
func (p *Pipeline) MaxBatchSize() int {
	return p.max
}

// SubmitBatch commits every request, in order, or none of them.
//
// Every request is checked before the exclusive lock is taken,
// so an invalid or unauthorized request fails the batch without blocking other writers.
// Once committed, the batch range is scheduled for indexing;
// a scheduling failure is reported in Result.IndexErr and does not fail the call.
func (p *Pipeline) SubmitBatch(ctx context.Context, reqs []Request) (Result, error) {
	if len(reqs) == 0 {
		return Result{}, ErrEmptyBatch
	}
	if len(reqs) > p.max {
		p.m.BatchRejected()
		return Result{}, &CapacityExceededError{What: "batch size", Limit: p.max, Got: len(reqs)}
	}

	id := uuid.New()
	log := p.log.With("batch", id)

	now := p.now()
	checked := make([]gchain.Checked, len(reqs))
	for i, req := range reqs {
		if req.Sealed == nil && req.Timestamp.IsZero() {
			req.Timestamp = now
		}
		chk, err := p.chain.Precheck(ctx, req)
		if err != nil {
			p.m.BatchRejected()
			log.Info("Rejected batch during precheck", "index", i, "size", len(reqs), "err", err)
			return Result{}, &BatchRejectedError{Index: i, Err: err}
		}
		checked[i] = chk
	}

	blocks, err := p.chain.Write(ctx, func(w *gchain.Writer) error {
		for i, chk := range checked {
			if _, err := w.AppendChecked(ctx, chk); err != nil {
				return &BatchRejectedError{Index: i, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		p.m.BatchRejected()
		log.Info("Rejected batch", "size", len(reqs), "err", err)
		return Result{}, err
	}

	res := Result{
		BatchID: id,
		Blocks:  blocks,
		Range:   gblock.Range{First: blocks[0].Sequence, Last: blocks[len(blocks)-1].Sequence},
	}
	glog.SeqRange(log, res.Range.First, res.Range.Last).Debug("Committed batch")

	res.Index, res.IndexErr = p.schedule(ctx, log, res.Range)
	return res, nil
}

// AppendSingle commits one request, as a batch of one.
// The returned future is nil if indexing could not be scheduled;
// that failure is logged but not returned.
func (p *Pipeline) AppendSingle(ctx context.Context, req Request) (gblock.Block, *gindex.Future, error) {
	res, err := p.SubmitBatch(ctx, []Request{req})
	if err != nil {
		var bre *BatchRejectedError
		if errors.As(err, &bre) {
			err = bre.Err
		}
		return gblock.Block{}, nil, err
	}
	return res.Blocks[0], res.Index, nil
}

func (p *Pipeline) schedule(ctx context.Context, log *slog.Logger, r gblock.Range) (*gindex.Future, error) {
	if p.sched == nil {
		return nil, nil
	}

	// Committed blocks are indexed even if the caller has gone away.
	f, err := p.sched.Schedule(context.WithoutCancel(ctx), r)
	if err != nil {
		glog.SeqRangeE(log, r.First, r.Last, err).Warn("Failed to schedule indexing of committed batch")
		return nil, fmt.Errorf("failed to schedule indexing of %s: %w", r, err)
	}
	return f, nil
}
