package gblock

import (
	"fmt"
	"math"
)

// Range is an inclusive range of block sequences.
type Range struct {
	First, Last uint64
}

// RangeFrom returns a range starting at first with no upper bound.
func RangeFrom(first uint64) Range {
	return Range{First: first, Last: math.MaxUint64}
}

// Len is the number of sequences in r,
// saturating at the maximum uint64.
func (r Range) Len() uint64 {
	if r.Last < r.First {
		return 0
	}
	n := r.Last - r.First
	if n == math.MaxUint64 {
		return n
	}
	return n + 1
}

// Contains reports whether seq is within r.
func (r Range) Contains(seq uint64) bool {
	return seq >= r.First && seq <= r.Last
}

// Valid reports whether r is non-empty.
func (r Range) Valid() bool {
	return r.First <= r.Last
}

func (r Range) String() string {
	if r.Last == math.MaxUint64 {
		return fmt.Sprintf("[%d, ∞)", r.First)
	}
	return fmt.Sprintf("[%d, %d]", r.First, r.Last)
}
