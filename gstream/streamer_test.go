package gstream_test

import (
	"context"
	"errors"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gchainstore"
	"github.com/gordian-engine/gledger/gchainstore/gchainmemstore"
	"github.com/gordian-engine/gledger/glock"
	"github.com/gordian-engine/gledger/gstream"
	"github.com/gordian-engine/gledger/internal/gtest"
	"github.com/stretchr/testify/require"
)

// syntheticSource fabricates blocks on demand so that very long chains
// can be streamed without ever existing in memory.
type syntheticSource struct {
	n      uint64
	cursor bool
	data   []byte

	readRangeCalls int
	beforeRead     func()
}

func newSyntheticSource(n uint64, cursor bool) *syntheticSource {
	return &syntheticSource{n: n, cursor: cursor, data: make([]byte, 64)}
}

func (s *syntheticSource) Capabilities() gchainstore.Capabilities {
	return gchainstore.Capabilities{Cursor: s.cursor}
}

func (s *syntheticSource) block(seq uint64) gblock.Block {
	return gblock.Block{Sequence: seq, Payload: gblock.Payload{Data: s.data}}
}

func (s *syntheticSource) ReadRange(
	_ context.Context, start uint64, limit int, dst []gblock.Block,
) ([]gblock.Block, error) {
	s.readRangeCalls++
	if s.beforeRead != nil {
		s.beforeRead()
	}

	dst = dst[:0]
	for seq := start; seq < s.n && len(dst) < limit; seq++ {
		dst = append(dst, s.block(seq))
	}
	return dst, nil
}

func (s *syntheticSource) Scan(ctx context.Context, start, end uint64, fn func(gblock.Block) error) error {
	for seq := start; seq < s.n && seq <= end; seq++ {
		if err := fn(s.block(seq)); err != nil {
			return err
		}
	}
	return nil
}

func bothStrategies(t *testing.T, fn func(t *testing.T, cursor bool)) {
	t.Helper()

	for _, cursor := range []bool{true, false} {
		name := "offset"
		if cursor {
			name = "cursor"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, cursor)
		})
	}
}

func TestStreamer_StrategyProbe(t *testing.T) {
	t.Parallel()

	log := gtest.NewLogger(t)

	s := gstream.New(log, gstream.Config{Source: gchainmemstore.New(gchainstore.Capabilities{Cursor: true})})
	require.Equal(t, gstream.StrategyCursor, s.Strategy())

	s = gstream.New(log, gstream.Config{Source: gchainmemstore.New(gchainstore.Capabilities{})})
	require.Equal(t, gstream.StrategyOffset, s.Strategy())

	s = gstream.New(log, gstream.Config{
		Source: gchainmemstore.New(gchainstore.Capabilities{Cursor: true}),
		Force:  gstream.StrategyOffset,
	})
	require.Equal(t, gstream.StrategyOffset, s.Strategy())
}

func TestStreamer_TenThousandInChunksOfThousand(t *testing.T) {
	t.Parallel()

	bothStrategies(t, func(t *testing.T, cursor bool) {
		src := newSyntheticSource(10_000, cursor)
		s := gstream.New(gtest.NewLogger(t), gstream.Config{
			Source: src,
			Lock:   glock.New(0, nil),
		})

		calls := 0
		seen := make([]int, 10_000)
		require.NoError(t, s.ForEachChunk(context.Background(), gblock.RangeFrom(0), 1000, func(chunk []gblock.Block) error {
			calls++
			require.LessOrEqual(t, len(chunk), 1000)
			for _, b := range chunk {
				seen[b.Sequence]++
			}
			return nil
		}))

		require.Equal(t, 10, calls)
		for seq, n := range seen {
			require.Equalf(t, 1, n, "block %d seen %d times", seq, n)
		}
	})
}

func TestStreamer_SubRange(t *testing.T) {
	t.Parallel()

	bothStrategies(t, func(t *testing.T, cursor bool) {
		s := gstream.New(gtest.NewLogger(t), gstream.Config{Source: newSyntheticSource(100, cursor)})

		var seqs []uint64
		var sizes []int
		require.NoError(t, s.ForEachChunk(context.Background(), gblock.Range{First: 10, Last: 24}, 4, func(chunk []gblock.Block) error {
			sizes = append(sizes, len(chunk))
			for _, b := range chunk {
				seqs = append(seqs, b.Sequence)
			}
			return nil
		}))

		require.Equal(t, []int{4, 4, 4, 3}, sizes)
		require.Len(t, seqs, 15)
		for i, seq := range seqs {
			require.Equal(t, uint64(10+i), seq)
		}
	})
}

func TestStreamer_StopsAtChainEnd(t *testing.T) {
	t.Parallel()

	bothStrategies(t, func(t *testing.T, cursor bool) {
		s := gstream.New(gtest.NewLogger(t), gstream.Config{Source: newSyntheticSource(10, cursor)})

		total := 0
		require.NoError(t, s.ForEachChunk(context.Background(), gblock.Range{First: 5, Last: math.MaxUint64}, 3, func(chunk []gblock.Block) error {
			total += len(chunk)
			return nil
		}))
		require.Equal(t, 5, total)

		// Starting beyond the end visits nothing.
		require.NoError(t, s.ForEachChunk(context.Background(), gblock.RangeFrom(10), 3, func([]gblock.Block) error {
			t.Fatal("visitor should not be called")
			return nil
		}))
	})
}

func TestStreamer_VisitorErrorStops(t *testing.T) {
	t.Parallel()

	bothStrategies(t, func(t *testing.T, cursor bool) {
		s := gstream.New(gtest.NewLogger(t), gstream.Config{Source: newSyntheticSource(100, cursor)})

		stop := errors.New("stop")
		calls := 0
		err := s.ForEachChunk(context.Background(), gblock.RangeFrom(0), 10, func([]gblock.Block) error {
			calls++
			if calls == 2 {
				return stop
			}
			return nil
		})
		require.ErrorIs(t, err, stop)
		require.Equal(t, 2, calls)
	})
}

func TestStreamer_InvalidChunkSize(t *testing.T) {
	t.Parallel()

	s := gstream.New(gtest.NewLogger(t), gstream.Config{Source: newSyntheticSource(1, false)})
	require.Error(t, s.ForEachChunk(context.Background(), gblock.RangeFrom(0), 0, func([]gblock.Block) error {
		return nil
	}))
}

func TestStreamer_OffsetPageRetriedAfterWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lock := glock.New(0, nil)
	src := newSyntheticSource(10, false)

	// A writer interleaves during the first page read only.
	interleaved := false
	src.beforeRead = func() {
		if interleaved {
			return
		}
		interleaved = true
		go func() {
			x, err := lock.AcquireWrite(ctx)
			if err != nil {
				panic(err)
			}
			lock.ReleaseWrite(x)
		}()
		// Give the writer time to run before the page read returns.
		gtest.Sleep(gtest.ScaleMs(20))
	}

	s := gstream.New(gtest.NewLogger(t), gstream.Config{Source: src, Lock: lock})
	total := 0
	require.NoError(t, s.ForEachChunk(ctx, gblock.RangeFrom(0), 10, func(chunk []gblock.Block) error {
		total += len(chunk)
		return nil
	}))

	require.Equal(t, 10, total)
	// The first page is read optimistically, invalidated by the writer,
	// and read again pessimistically; a final empty page ends the traversal.
	require.Equal(t, 3, src.readRangeCalls)
}

func TestStreamer_LockedDoesNotReacquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lock := glock.New(50*time.Millisecond, nil)
	s := gstream.New(gtest.NewLogger(t), gstream.Config{
		Source: newSyntheticSource(25, false),
		Lock:   lock,
	})

	x, err := lock.AcquireWrite(ctx)
	require.NoError(t, err)
	defer lock.ReleaseWrite(x)

	total := 0
	require.NoError(t, s.ForEachChunkLocked(ctx, x, gblock.RangeFrom(0), 10, func(chunk []gblock.Block) error {
		total += len(chunk)
		return nil
	}))
	require.Equal(t, 25, total)
}

func TestStreamer_BoundedMemory(t *testing.T) {
	t.Parallel()

	sizes := []uint64{10_000, 1_000_000}
	if testing.Short() {
		sizes = sizes[:1]
	}

	const chunkSize = 1000

	for _, n := range sizes {
		bothStrategies(t, func(t *testing.T, cursor bool) {
			s := gstream.New(gtest.NewLogger(t), gstream.Config{Source: newSyntheticSource(n, cursor)})

			var before runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&before)

			var first *gblock.Block
			var peak uint64
			var total uint64
			calls := 0
			require.NoError(t, s.ForEachChunk(context.Background(), gblock.RangeFrom(0), chunkSize, func(chunk []gblock.Block) error {
				require.LessOrEqual(t, cap(chunk), chunkSize)

				// The same buffer is reused for every chunk.
				if first == nil {
					first = &chunk[:1][0]
				} else {
					require.Same(t, first, &chunk[:1][0])
				}

				total += uint64(len(chunk))
				calls++
				if calls%100 == 0 {
					var ms runtime.MemStats
					runtime.ReadMemStats(&ms)
					peak = max(peak, ms.HeapInuse)
				}
				return nil
			}))

			require.Equal(t, n, total)

			// Materializing a million blocks would need well over 100MB.
			// A single reused chunk needs well under 1MB, so allow generous slack
			// for test framework and runtime noise.
			const limit = 32 << 20
			if peak > before.HeapInuse {
				require.Less(t, peak-before.HeapInuse, uint64(limit))
			}
		})
	}
}
