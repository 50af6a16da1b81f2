package gmetrics_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gledger/gmetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *gmetrics.Metrics
	require.NotPanics(t, func() {
		m.ObserveLockWait("write", time.Millisecond)
		m.LockTimedOut("write")
		m.OptimisticRead(true)
		m.Committed(3, 2)
		m.Truncated(1)
		m.BatchRejected()
		m.InvalidBlock("hash")
		m.IndexQueued()
		m.IndexUnqueued()
		m.IndexFinished("index", "succeeded", time.Millisecond, 0)
		m.IndexSubmitTimedOut()
		m.StreamChunk("cursor")
	})
}

func TestMetrics_Registered(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := gmetrics.New(reg)

	m.Committed(3, 2)
	m.Committed(1, 3)
	require.Equal(t, float64(4), testutil.ToFloat64(m.BlocksAppended))
	require.Equal(t, float64(2), testutil.ToFloat64(m.BatchesCommitted))
	require.Equal(t, float64(3), testutil.ToFloat64(m.TailSequence))

	m.IndexQueued()
	m.IndexQueued()
	m.IndexFinished("index", "failed", time.Millisecond, 2)
	require.Equal(t, float64(1), testutil.ToFloat64(m.IndexQueueDepth))
	m.IndexUnqueued()
	require.Equal(t, float64(0), testutil.ToFloat64(m.IndexQueueDepth))
	require.Equal(t, float64(2), testutil.ToFloat64(m.IndexFailures))

	n, err := testutil.GatherAndCount(reg, "gledger_blocks_appended_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNew_NilRegistererDoesNotConflict(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		_ = gmetrics.New(nil)
		_ = gmetrics.New(nil)
	})
}
