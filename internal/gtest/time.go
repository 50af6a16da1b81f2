package gtest

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TimeFactor multiplies every scaled test timeout.
// It is read from GLEDGER_TEST_TIME_FACTOR at init,
// so a loaded CI machine can run the suite with e.g. a factor of 3.
var TimeFactor ScaledDuration = 1

func init() {
	f := os.Getenv("GLEDGER_TEST_TIME_FACTOR")
	if f == "" {
		return
	}

	n, err := strconv.Atoi(f)
	if err != nil {
		panic(fmt.Errorf("GLEDGER_TEST_TIME_FACTOR=%q is not an integer: %w", f, err))
	}
	if n <= 0 {
		panic(fmt.Errorf("GLEDGER_TEST_TIME_FACTOR must be positive; got %d", n))
	}

	TimeFactor = ScaledDuration(n)
}

// ScaledDuration is a test timeout already multiplied by [TimeFactor].
// Helpers take this type instead of time.Duration
// so that literal durations do not sneak into tests.
type ScaledDuration time.Duration

func ScaleMs(ms int64) ScaledDuration {
	return TimeFactor * ScaledDuration(ms) * ScaledDuration(time.Millisecond)
}

func Sleep(dur ScaledDuration) {
	time.Sleep(time.Duration(dur))
}
