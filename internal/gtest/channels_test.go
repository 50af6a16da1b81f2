package gtest_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/gordian-engine/gledger/internal/gtest"
	"github.com/stretchr/testify/require"
)

type fatalHelper struct {
	HelperCalled bool
	FatalMessage string
}

func (h *fatalHelper) Helper() {
	h.HelperCalled = true
}

func (h *fatalHelper) Fatalf(format string, args ...any) {
	h.FatalMessage = fmt.Sprintf(format, args...)
}

func TestReceiveOrTimeout(t *testing.T) {
	t.Parallel()

	t.Run("receive within time", func(t *testing.T) {
		t.Parallel()

		ch := make(chan int)
		go func() {
			time.Sleep(5 * time.Millisecond)
			ch <- 1
		}()

		fh := new(fatalHelper)
		require.Equal(t, 1, gtest.ReceiveOrTimeout(fh, ch, gtest.ScaleMs(1000)))

		require.True(t, fh.HelperCalled)
		require.Empty(t, fh.FatalMessage)
	})

	t.Run("closed done channel", func(t *testing.T) {
		t.Parallel()

		done := make(chan struct{})
		close(done)

		fh := new(fatalHelper)
		_ = gtest.ReceiveSoon(fh, done)
		require.Empty(t, fh.FatalMessage)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		ch := make(chan string)
		fh := new(fatalHelper)

		const ms = 5
		before := time.Now()
		require.Panics(t, func() {
			_ = gtest.ReceiveOrTimeout(fh, ch, gtest.ScaleMs(ms))
		})
		require.GreaterOrEqual(t, time.Since(before), ms*time.Millisecond)

		require.True(t, fh.HelperCalled)
		require.Contains(t, fh.FatalMessage, "GLEDGER_TEST_TIME_FACTOR")
	})

	t.Run("nil channel fails immediately", func(t *testing.T) {
		t.Parallel()

		var ch chan float64
		fh := new(fatalHelper)

		require.Panics(t, func() {
			_ = gtest.ReceiveOrTimeout(fh, ch, gtest.ScaleMs(1_000_000_000))
		})
		require.NotEmpty(t, fh.FatalMessage)
	})
}

func TestNotSending(t *testing.T) {
	t.Parallel()

	t.Run("empty channel", func(t *testing.T) {
		t.Parallel()

		fh := new(fatalHelper)
		gtest.NotSending(fh, make(chan int))
		require.Empty(t, fh.FatalMessage)
	})

	t.Run("ready value", func(t *testing.T) {
		t.Parallel()

		ch := make(chan int, 1)
		ch <- 7

		fh := new(fatalHelper)
		gtest.NotSending(fh, ch)
		require.Contains(t, fh.FatalMessage, "got 7")
	})
}

func TestNotSendingSoon(t *testing.T) {
	t.Parallel()

	t.Run("quiet channel", func(t *testing.T) {
		t.Parallel()

		fh := new(fatalHelper)
		gtest.NotSendingSoon(fh, make(chan struct{}))
		require.Empty(t, fh.FatalMessage)
	})

	t.Run("late value still inside window", func(t *testing.T) {
		t.Parallel()

		ch := make(chan int)
		go func() {
			time.Sleep(time.Millisecond)
			ch <- 3
		}()

		fh := new(fatalHelper)
		gtest.NotSendingSoon(fh, ch)
		require.Contains(t, fh.FatalMessage, "got 3")
	})
}
