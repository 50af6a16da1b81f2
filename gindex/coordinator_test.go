package gindex_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gindex"
	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/gordian-engine/gledger/internal/gtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// gateIndexer blocks every task until release is closed,
// and reports each task's range on started.
type gateIndexer struct {
	started chan gblock.Range
	release chan struct{}

	mu      sync.Mutex
	indexed []gblock.Range
	purged  []uint64

	failSeq map[uint64]error
}

func newGateIndexer(gated bool) *gateIndexer {
	x := &gateIndexer{
		started: make(chan gblock.Range, 64),
		release: make(chan struct{}),
	}
	if !gated {
		close(x.release)
	}
	return x
}

func (x *gateIndexer) IndexRange(ctx context.Context, r gblock.Range) (gindex.Outcome, error) {
	x.started <- r

	select {
	case <-ctx.Done():
		return gindex.Outcome{}, context.Cause(ctx)
	case <-x.release:
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.indexed = append(x.indexed, r)

	var out gindex.Outcome
	for seq := r.First; seq <= r.Last; seq++ {
		if err, ok := x.failSeq[seq]; ok {
			out.Failures = append(out.Failures, &gindex.IndexingFailure{
				Range: r, Sequence: seq, Strategy: "plaintext", Cause: err,
			})
			continue
		}
		out.Indexed++
	}
	return out, nil
}

func (x *gateIndexer) Purge(_ context.Context, after uint64) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.purged = append(x.purged, after)
	return 1, nil
}

func newCoordinator(t *testing.T, x gindex.RangeIndexer, workers, queue int) *gindex.Coordinator {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := gindex.NewCoordinator(ctx, gtest.NewLogger(t), gindex.CoordinatorConfig{
		Workers:       workers,
		QueueSize:     queue,
		SubmitTimeout: time.Duration(gtest.ScaleMs(20)),
		Indexer:       x,
	})
	t.Cleanup(func() {
		_ = c.Shutdown(context.Background(), false)
	})
	return c
}

func waitResult(t *testing.T, f *gindex.Future) gindex.Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(gtest.ScaleMs(500)))
	defer cancel()
	res, err := f.Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestCoordinator_schedule(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(false)
	c := newCoordinator(t, x, 2, 8)

	f, err := c.Schedule(context.Background(), gblock.Range{First: 100, Last: 100})
	require.NoError(t, err)
	require.Equal(t, gindex.KindIndex, f.Kind())

	res := waitResult(t, f)
	require.Equal(t, gindex.StateSucceeded, res.State)
	require.Equal(t, gblock.Range{First: 100, Last: 100}, res.Range)
	require.Equal(t, 1, res.Indexed)
	require.NoError(t, res.Err)
	require.Equal(t, gindex.StateSucceeded, f.State())

	got, ok := f.Result()
	require.True(t, ok)
	require.Equal(t, res, got)

	require.Equal(t, gindex.Stats{Succeeded: 1}, c.Stats())
}

func TestCoordinator_invalidRange(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, newGateIndexer(false), 1, 1)
	_, err := c.Schedule(context.Background(), gblock.Range{First: 5, Last: 4})
	require.Error(t, err)
}

func TestCoordinator_failuresAreReported(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(false)
	boom := errors.New("boom")
	x.failSeq = map[uint64]error{3: boom}
	c := newCoordinator(t, x, 1, 4)

	f, err := c.Schedule(context.Background(), gblock.Range{First: 1, Last: 4})
	require.NoError(t, err)

	res := waitResult(t, f)
	require.Equal(t, gindex.StateFailed, res.State)
	require.Equal(t, 3, res.Indexed)
	require.Len(t, res.Failures, 1)
	require.ErrorIs(t, res.Err, boom)
	require.True(t, gindex.IsIndexingFailure(res.Err))

	require.Equal(t, 1, c.Stats().Failed)

	// Rescheduling is the retry mechanism.
	x.mu.Lock()
	x.failSeq = nil
	x.mu.Unlock()
	f, err = c.Schedule(context.Background(), gblock.Range{First: 1, Last: 4})
	require.NoError(t, err)
	require.Equal(t, gindex.StateSucceeded, waitResult(t, f).State)
}

func TestCoordinator_submitTimeout(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(true)
	c := newCoordinator(t, x, 1, 1)
	ctx := context.Background()

	f1, err := c.Schedule(ctx, gblock.Range{First: 1, Last: 1})
	require.NoError(t, err)
	_ = gtest.ReceiveSoon(t, x.started)

	f2, err := c.Schedule(ctx, gblock.Range{First: 2, Last: 2})
	require.NoError(t, err)

	_, err = c.Schedule(ctx, gblock.Range{First: 3, Last: 3})
	var ste *gindex.SubmitTimeoutError
	require.ErrorAs(t, err, &ste)
	require.Equal(t, gblock.Range{First: 3, Last: 3}, ste.Range)
	require.Equal(t, 1, ste.QueueSize)

	require.Equal(t, gindex.Stats{Pending: 1, Running: 1}, c.Stats())

	close(x.release)
	require.Equal(t, gindex.StateSucceeded, waitResult(t, f1).State)
	require.Equal(t, gindex.StateSucceeded, waitResult(t, f2).State)
}

func TestCoordinator_queueDepthMetric(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := gmetrics.New(prometheus.NewRegistry())
	x := newGateIndexer(true)
	c := gindex.NewCoordinator(ctx, gtest.NewLogger(t), gindex.CoordinatorConfig{
		Workers:       1,
		QueueSize:     1,
		SubmitTimeout: time.Duration(gtest.ScaleMs(20)),
		Indexer:       x,
		Metrics:       m,
	})
	defer func() { _ = c.Shutdown(context.Background(), false) }()

	f1, err := c.Schedule(ctx, gblock.Range{First: 1, Last: 1})
	require.NoError(t, err)
	_ = gtest.ReceiveSoon(t, x.started)
	f2, err := c.Schedule(ctx, gblock.Range{First: 2, Last: 2})
	require.NoError(t, err)
	require.Equal(t, float64(2), testutil.ToFloat64(m.IndexQueueDepth))

	// Rejected submissions leave the depth where it was.
	_, err = c.Schedule(ctx, gblock.Range{First: 3, Last: 3})
	var ste *gindex.SubmitTimeoutError
	require.ErrorAs(t, err, &ste)
	require.Equal(t, float64(2), testutil.ToFloat64(m.IndexQueueDepth))

	canceled, cancelSubmit := context.WithCancel(ctx)
	cancelSubmit()
	_, err = c.Schedule(canceled, gblock.Range{First: 4, Last: 4})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, float64(2), testutil.ToFloat64(m.IndexQueueDepth))

	close(x.release)
	require.Equal(t, gindex.StateSucceeded, waitResult(t, f1).State)
	require.Equal(t, gindex.StateSucceeded, waitResult(t, f2).State)

	// The gauge is updated just after each future resolves.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.IndexQueueDepth) == 0
	}, time.Duration(gtest.ScaleMs(500)), time.Millisecond)
}

func TestCoordinator_gracefulShutdown(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(true)
	c := newCoordinator(t, x, 1, 8)
	ctx := context.Background()

	var futures []*gindex.Future
	for i := uint64(1); i <= 4; i++ {
		f, err := c.Schedule(ctx, gblock.Range{First: i, Last: i})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	_ = gtest.ReceiveSoon(t, x.started)

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- c.Shutdown(ctx, true)
	}()

	// Shutdown waits for the gated tasks, and refuses new work meanwhile.
	gtest.NotSendingSoon(t, shutdownErr)
	_, err := c.Schedule(ctx, gblock.Range{First: 9, Last: 9})
	require.ErrorIs(t, err, gindex.ErrShutdown)

	close(x.release)
	require.NoError(t, gtest.ReceiveSoon(t, shutdownErr))

	for _, f := range futures {
		res, ok := f.Result()
		require.True(t, ok)
		require.Equal(t, gindex.StateSucceeded, res.State)
	}
	require.Len(t, x.indexed, 4)
}

func TestCoordinator_immediateShutdown(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(true)
	c := newCoordinator(t, x, 1, 8)
	ctx := context.Background()

	var futures []*gindex.Future
	for i := uint64(1); i <= 3; i++ {
		f, err := c.Schedule(ctx, gblock.Range{First: i, Last: i})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	_ = gtest.ReceiveSoon(t, x.started)

	require.NoError(t, c.Shutdown(ctx, false))

	for _, f := range futures {
		res, ok := f.Result()
		require.True(t, ok)
		require.Equal(t, gindex.StateFailed, res.State)
		require.ErrorIs(t, res.Err, gindex.ErrAbandoned)
	}
	require.Empty(t, x.indexed)
	require.Equal(t, gindex.Stats{Failed: 3, Abandoned: 3}, c.Stats())

	_, err := c.Schedule(ctx, gblock.Range{First: 4, Last: 4})
	require.ErrorIs(t, err, gindex.ErrShutdown)

	// A second shutdown returns once the pool is stopped.
	require.NoError(t, c.Shutdown(ctx, true))
}

func TestCoordinator_reset(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(false)
	c := newCoordinator(t, x, 1, 2)
	ctx := context.Background()

	f, err := c.Schedule(ctx, gblock.Range{First: 1, Last: 1})
	require.NoError(t, err)
	_ = waitResult(t, f)

	require.NoError(t, c.Shutdown(ctx, true))
	_, err = c.Schedule(ctx, gblock.Range{First: 2, Last: 2})
	require.ErrorIs(t, err, gindex.ErrShutdown)

	c.Reset()
	require.Equal(t, gindex.Stats{}, c.Stats())

	f, err = c.Schedule(ctx, gblock.Range{First: 2, Last: 2})
	require.NoError(t, err)
	require.Equal(t, gindex.StateSucceeded, waitResult(t, f).State)
}

func TestCoordinator_purge(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(false)
	c := newCoordinator(t, x, 1, 2)

	f, err := c.SchedulePurge(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, gindex.KindPurge, f.Kind())
	require.Equal(t, uint64(8), f.Range().First)

	res := waitResult(t, f)
	require.Equal(t, gindex.StateSucceeded, res.State)
	require.Equal(t, []uint64{7}, x.purged)
}

func TestFuture_waitCanceled(t *testing.T) {
	t.Parallel()

	x := newGateIndexer(true)
	c := newCoordinator(t, x, 1, 2)

	f, err := c.Schedule(context.Background(), gblock.Range{First: 1, Last: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, ok := f.Result()
	require.False(t, ok)
	close(x.release)
}
