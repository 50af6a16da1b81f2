package gindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/gordian-engine/gledger/internal/gchan"
)

// Outcome is what a [RangeIndexer] reports for one range.
type Outcome struct {
	Indexed  int
	Failures []*IndexingFailure
}

// RangeIndexer does the work behind indexing tasks.
// Implementations must not acquire ledger locks.
type RangeIndexer interface {
	// IndexRange indexes every block in r.
	// Per-block problems are reported in Outcome.Failures;
	// a non-nil error means the range as a whole could not be processed.
	IndexRange(ctx context.Context, r gblock.Range) (Outcome, error)

	// Purge removes index entries for blocks with a sequence greater than after.
	Purge(ctx context.Context, after uint64) (int, error)
}

type CoordinatorConfig struct {
	// Number of worker goroutines. Defaults to 2.
	Workers int

	// Capacity of the task queue. Defaults to 64.
	QueueSize int

	// How long Schedule waits for queue space before failing.
	// Zero means Schedule fails immediately on a full queue.
	SubmitTimeout time.Duration

	Indexer RangeIndexer

	Metrics *gmetrics.Metrics
}

// Stats is a point-in-time view of the coordinator's task counts.
// Counts are reset by [*Coordinator.Reset].
type Stats struct {
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Abandoned int
}

// Coordinator runs indexing tasks on a bounded pool of workers,
// decoupled from the write path.
type Coordinator struct {
	log *slog.Logger

	rootCtx context.Context

	cfg CoordinatorConfig

	nextID atomic.Uint64

	pending, running           atomic.Int64
	succeeded, failed, dropped atomic.Int64

	mu  sync.Mutex
	gen *generation
}

// generation is one run of the worker pool,
// from construction or Reset until Shutdown.
type generation struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	tasks chan *Future

	// Guarded by the coordinator's mu.
	closed bool

	// Schedule calls that passed the closed check and may still send to tasks.
	senders sync.WaitGroup

	workers sync.WaitGroup

	done chan struct{}
}

// NewCoordinator starts the worker pool.
// Canceling ctx stops the workers as an immediate shutdown would,
// but [*Coordinator.Shutdown] must still be called to resolve queued tasks.
func NewCoordinator(ctx context.Context, log *slog.Logger, cfg CoordinatorConfig) *Coordinator {
	if cfg.Indexer == nil {
		panic(fmt.Errorf("BUG: NewCoordinator requires an Indexer"))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	c := &Coordinator{
		log:     log,
		rootCtx: ctx,
		cfg:     cfg,
	}
	c.gen = c.startGeneration()
	return c
}

func (c *Coordinator) startGeneration() *generation {
	ctx, cancel := context.WithCancelCause(c.rootCtx)
	g := &generation{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan *Future, c.cfg.QueueSize),
		done:   make(chan struct{}),
	}

	g.workers.Add(c.cfg.Workers)
	for i := range c.cfg.Workers {
		w := &worker{
			log: c.log.With("w_id", i),
			c:   c,
			g:   g,
		}
		go w.Run()
	}

	return g
}

// Schedule enqueues indexing of r and returns a future for the task.
// It never touches ledger locks.
// If the queue stays full for the submit timeout,
// it returns a [*SubmitTimeoutError].
func (c *Coordinator) Schedule(ctx context.Context, r gblock.Range) (*Future, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot schedule indexing of invalid range %s", r)
	}
	return c.submit(ctx, KindIndex, r)
}

// SchedulePurge enqueues removal of index entries after the given sequence,
// typically following a truncation.
func (c *Coordinator) SchedulePurge(ctx context.Context, after uint64) (*Future, error) {
	if after == math.MaxUint64 {
		return nil, fmt.Errorf("cannot purge after sequence %d", after)
	}
	return c.submit(ctx, KindPurge, gblock.RangeFrom(after+1))
}

func (c *Coordinator) submit(ctx context.Context, kind Kind, r gblock.Range) (*Future, error) {
	c.mu.Lock()
	g := c.gen
	if g.closed || g.ctx.Err() != nil {
		c.mu.Unlock()
		return nil, ErrShutdown
	}
	g.senders.Add(1)
	c.mu.Unlock()
	defer g.senders.Done()

	f := newFuture(c.nextID.Add(1), kind, r)

	// Count before sending so a fast worker never drives pending
	// or the queue depth gauge negative.
	c.pending.Add(1)
	c.cfg.Metrics.IndexQueued()
	switch gchan.SendWithin(ctx, c.log, g.tasks, f, c.cfg.SubmitTimeout, "scheduling "+kind.String()+" task") {
	case gchan.Sent:
		return f, nil
	case gchan.SendCanceled:
		c.pending.Add(-1)
		c.cfg.Metrics.IndexUnqueued()
		return nil, context.Cause(ctx)
	default:
		c.pending.Add(-1)
		c.cfg.Metrics.IndexUnqueued()
		c.cfg.Metrics.IndexSubmitTimedOut()
		c.log.Warn(
			"Indexing queue full; task not scheduled",
			"kind", kind, "range", r, "timeout", c.cfg.SubmitTimeout,
		)
		return nil, &SubmitTimeoutError{
			Range:     r,
			Timeout:   c.cfg.SubmitTimeout,
			QueueSize: c.cfg.QueueSize,
		}
	}
}

// Shutdown stops accepting tasks and waits for the pool to stop.
//
// With graceful set, every accepted task runs to completion.
// Otherwise running tasks are canceled and queued tasks are resolved
// as failed with [ErrAbandoned]; their ranges are left unindexed.
//
// If ctx ends first, Shutdown returns its cause
// while the pool keeps stopping in the background.
// Calling Shutdown again waits for the same stop.
func (c *Coordinator) Shutdown(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	g := c.gen
	first := !g.closed
	g.closed = true
	c.mu.Unlock()

	if !graceful {
		g.cancel(ErrAbandoned)
	}

	if first {
		go c.stop(g)
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-g.done:
		return nil
	}
}

func (c *Coordinator) stop(g *generation) {
	defer close(g.done)

	g.senders.Wait()
	close(g.tasks)

	g.workers.Wait()

	// Workers only leave tasks behind when their context was canceled.
	n := 0
	for f := range g.tasks {
		c.pending.Add(-1)
		c.abandon(f, 0)
		n++
	}
	if n > 0 {
		c.log.Warn("Abandoned queued indexing tasks", "n", n)
	}

	g.cancel(ErrShutdown)
}

// Reset returns the coordinator to a running state with an empty queue
// and zeroed stats. A coordinator that is still running
// is first shut down immediately.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	g := c.gen
	first := !g.closed
	g.closed = true
	c.mu.Unlock()

	if first {
		g.cancel(ErrAbandoned)
		go c.stop(g)
	}
	<-g.done

	c.pending.Store(0)
	c.running.Store(0)
	c.succeeded.Store(0)
	c.failed.Store(0)
	c.dropped.Store(0)

	c.mu.Lock()
	c.gen = c.startGeneration()
	c.mu.Unlock()
}

// Stats reports current task counts.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Pending:   int(c.pending.Load()),
		Running:   int(c.running.Load()),
		Succeeded: int(c.succeeded.Load()),
		Failed:    int(c.failed.Load()),
		Abandoned: int(c.dropped.Load()),
	}
}

func (c *Coordinator) abandon(f *Future, dur time.Duration) {
	c.dropped.Add(1)
	c.failed.Add(1)
	f.resolve(0, nil, ErrAbandoned, dur)
	c.cfg.Metrics.IndexFinished(f.kind.String(), "abandoned", dur, 0)
}

type worker struct {
	log *slog.Logger
	c   *Coordinator
	g   *generation
}

func (w *worker) Run() {
	defer w.g.workers.Done()

	ctx, task := trace.NewTask(w.g.ctx, "gindex.worker")
	defer task.End()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return
		case f, ok := <-w.g.tasks:
			if !ok {
				return
			}
			w.run(ctx, f)
		}
	}
}

func (w *worker) run(ctx context.Context, f *Future) {
	w.c.pending.Add(-1)

	if ctx.Err() != nil || !f.start() {
		w.c.abandon(f, 0)
		return
	}

	w.c.running.Add(1)
	defer w.c.running.Add(-1)

	defer trace.StartRegion(ctx, "run"+f.kind.String()).End()

	start := time.Now()
	var (
		n        int
		failures []*IndexingFailure
		err      error
	)
	switch f.kind {
	case KindIndex:
		var out Outcome
		out, err = w.c.cfg.Indexer.IndexRange(ctx, f.r)
		n, failures = out.Indexed, out.Failures
	case KindPurge:
		n, err = w.c.cfg.Indexer.Purge(ctx, f.r.First-1)
	default:
		panic(fmt.Errorf("BUG: unknown task kind %v", f.kind))
	}
	dur := time.Since(start)

	if err != nil && ctx.Err() != nil {
		w.log.Info(
			"Indexing task interrupted by shutdown",
			"task", f.id, "kind", f.kind, "range", f.r, "err", err,
		)
		w.c.abandon(f, dur)
		return
	}

	for _, fl := range failures {
		w.log.Warn(
			"Failed to index block",
			"task", f.id, "range", f.r, "seq", fl.Sequence, "strategy", fl.Strategy, "cause", fl.Cause,
		)
	}

	f.resolve(n, failures, err, dur)
	res, _ := f.Result()

	if res.State == StateSucceeded {
		w.c.succeeded.Add(1)
		w.log.Debug("Indexing task finished", "task", f.id, "kind", f.kind, "range", f.r, "n", n, "dur", dur)
	} else {
		w.c.failed.Add(1)
		if err != nil {
			w.log.Warn("Indexing task failed", "task", f.id, "kind", f.kind, "range", f.r, "err", err)
		}
	}
	w.c.cfg.Metrics.IndexFinished(f.kind.String(), res.State.String(), dur, len(failures))
}
