// Package gmetrics holds the Prometheus collectors shared by the ledger components.
//
// A nil *Metrics is valid and records nothing,
// so components can be constructed without metrics in tests.
package gmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gledger"

type Metrics struct {
	LockWait        *prometheus.HistogramVec
	LockTimeouts    *prometheus.CounterVec
	OptimisticReads *prometheus.CounterVec

	BlocksAppended     prometheus.Counter
	BatchesCommitted   prometheus.Counter
	BatchesRejected    prometheus.Counter
	ValidationFailures *prometheus.CounterVec
	TailSequence       prometheus.Gauge

	IndexTasks          *prometheus.CounterVec
	IndexQueueDepth     prometheus.Gauge
	IndexDuration       prometheus.Histogram
	IndexFailures       prometheus.Counter
	IndexSubmitTimeouts prometheus.Counter

	StreamChunks *prometheus.CounterVec
}

// New returns Metrics whose collectors are registered with reg.
// If reg is nil, the collectors are created but not registered,
// which is useful when several ledgers share a process in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LockWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to acquire the ledger lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"mode"}),
		LockTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that gave up after the configured timeout.",
		}, []string{"mode"}),
		OptimisticReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_reads_total",
			Help:      "Optimistic reads, by whether the stamp validated or the read was retried pessimistically.",
		}, []string{"result"}),

		BlocksAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_appended_total",
			Help:      "Blocks committed to the chain.",
		}),
		BatchesCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_committed_total",
			Help:      "Write batches committed.",
		}),
		BatchesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_rejected_total",
			Help:      "Write batches rejected without any state change.",
		}),
		ValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Block validation failures, by field.",
		}, []string{"field"}),
		TailSequence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tail_sequence",
			Help:      "Sequence number of the most recently committed block.",
		}),

		IndexTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_tasks_total",
			Help:      "Indexing tasks that reached a final state.",
		}, []string{"kind", "state"}),
		IndexQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_queue_depth",
			Help:      "Indexing tasks accepted but not yet finished.",
		}),
		IndexDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_task_duration_seconds",
			Help:      "Time spent running an indexing task.",
			Buckets:   prometheus.DefBuckets,
		}),
		IndexFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_failures_total",
			Help:      "Blocks that failed to index.",
		}),
		IndexSubmitTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_submit_timeouts_total",
			Help:      "Indexing submissions rejected because the queue stayed full.",
		}),

		StreamChunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Chunks delivered by the streaming layer, by strategy.",
		}, []string{"strategy"}),
	}
}

func (m *Metrics) ObserveLockWait(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) LockTimedOut(mode string) {
	if m == nil {
		return
	}
	m.LockTimeouts.WithLabelValues(mode).Inc()
}

// OptimisticRead records whether an optimistic read validated.
func (m *Metrics) OptimisticRead(validated bool) {
	if m == nil {
		return
	}
	if validated {
		m.OptimisticReads.WithLabelValues("validated").Inc()
	} else {
		m.OptimisticReads.WithLabelValues("retried").Inc()
	}
}

func (m *Metrics) Committed(blocks int, tail uint64) {
	if m == nil {
		return
	}
	m.BlocksAppended.Add(float64(blocks))
	m.BatchesCommitted.Inc()
	m.TailSequence.Set(float64(tail))
}

func (m *Metrics) Truncated(tail uint64) {
	if m == nil {
		return
	}
	m.TailSequence.Set(float64(tail))
}

func (m *Metrics) BatchRejected() {
	if m == nil {
		return
	}
	m.BatchesRejected.Inc()
}

func (m *Metrics) InvalidBlock(field string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(field).Inc()
}

func (m *Metrics) IndexQueued() {
	if m == nil {
		return
	}
	m.IndexQueueDepth.Inc()
}

// IndexUnqueued reverts an [*Metrics.IndexQueued] for a task that was never accepted.
func (m *Metrics) IndexUnqueued() {
	if m == nil {
		return
	}
	m.IndexQueueDepth.Dec()
}

func (m *Metrics) IndexFinished(kind, state string, d time.Duration, failedBlocks int) {
	if m == nil {
		return
	}
	m.IndexQueueDepth.Dec()
	m.IndexTasks.WithLabelValues(kind, state).Inc()
	if d > 0 {
		m.IndexDuration.Observe(d.Seconds())
	}
	if failedBlocks > 0 {
		m.IndexFailures.Add(float64(failedBlocks))
	}
}

func (m *Metrics) IndexSubmitTimedOut() {
	if m == nil {
		return
	}
	m.IndexSubmitTimeouts.Inc()
}

func (m *Metrics) StreamChunk(strategy string) {
	if m == nil {
		return
	}
	m.StreamChunks.WithLabelValues(strategy).Inc()
}
