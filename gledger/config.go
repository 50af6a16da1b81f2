package gledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gledger/gstream"
	"golang.org/x/time/rate"
)

// Config holds every tunable limit of a [*Ledger].
// Start from [DefaultConfig] and override individual fields.
type Config struct {
	// How long a lock acquisition may wait before failing
	// with a concurrency timeout.
	LockTimeout time.Duration

	// Largest accepted batch. Larger batches are rejected, never truncated.
	MaxBatchSize int

	// Largest accepted payload in bytes.
	MaxPayloadSize int

	IndexWorkers   int
	IndexQueueSize int

	// How long scheduling waits for room in a full indexing queue.
	IndexSubmitTimeout time.Duration

	// IndexVisibilityTarget is the documented target for a committed block
	// to become searchable. It is not enforced;
	// callers that need certainty wait on the indexing future.
	IndexVisibilityTarget time.Duration

	// Chunk size for streaming when the caller does not give one.
	DefaultChunkSize int

	// Largest range Export accepts.
	MaxExportBlocks uint64

	MaxSearchResults   int
	MaxReportedInvalid int

	StreamStrategy gstream.Strategy

	// Reindex schedules at most this many chunk tasks per second.
	ReindexRate rate.Limit
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LockTimeout: 5 * time.Second,

		MaxBatchSize:   1000,
		MaxPayloadSize: 1 << 20,

		IndexWorkers:          4,
		IndexQueueSize:        256,
		IndexSubmitTimeout:    100 * time.Millisecond,
		IndexVisibilityTarget: 2 * time.Second,

		DefaultChunkSize: 1000,

		MaxExportBlocks:    1_000_000,
		MaxSearchResults:   1000,
		MaxReportedInvalid: 100,

		StreamStrategy: gstream.StrategyAuto,

		ReindexRate: 10,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %d)", name, v))
		}
	}

	positive("LockTimeout", int64(c.LockTimeout))
	positive("MaxBatchSize", int64(c.MaxBatchSize))
	positive("MaxPayloadSize", int64(c.MaxPayloadSize))
	positive("IndexWorkers", int64(c.IndexWorkers))
	positive("IndexQueueSize", int64(c.IndexQueueSize))
	positive("DefaultChunkSize", int64(c.DefaultChunkSize))
	positive("MaxSearchResults", int64(c.MaxSearchResults))

	if c.IndexSubmitTimeout < 0 {
		errs = append(errs, fmt.Errorf("IndexSubmitTimeout must not be negative (got %s)", c.IndexSubmitTimeout))
	}
	if c.IndexVisibilityTarget < 0 {
		errs = append(errs, fmt.Errorf("IndexVisibilityTarget must not be negative (got %s)", c.IndexVisibilityTarget))
	}
	if c.MaxExportBlocks == 0 {
		errs = append(errs, errors.New("MaxExportBlocks must be positive"))
	}
	if c.MaxReportedInvalid < 0 {
		errs = append(errs, fmt.Errorf("MaxReportedInvalid must not be negative (got %d)", c.MaxReportedInvalid))
	}
	if c.ReindexRate <= 0 {
		errs = append(errs, fmt.Errorf("ReindexRate must be positive (got %v)", c.ReindexRate))
	}
	switch c.StreamStrategy {
	case gstream.StrategyAuto, gstream.StrategyCursor, gstream.StrategyOffset:
	default:
		errs = append(errs, fmt.Errorf("unknown StreamStrategy %v", c.StreamStrategy))
	}

	return errors.Join(errs...)
}
