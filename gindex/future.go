package gindex

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gordian-engine/gledger/gblock"
)

// State is the lifecycle state of an indexing task.
type State uint32

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Kind distinguishes indexing tasks from purge tasks.
type Kind uint8

const (
	KindIndex Kind = iota
	KindPurge
)

func (k Kind) String() string {
	switch k {
	case KindIndex:
		return "index"
	case KindPurge:
		return "purge"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Result is the terminal outcome of a task.
type Result struct {
	TaskID uint64
	Kind   Kind
	Range  gblock.Range
	State  State

	// Indexed is the number of blocks indexed, or for purge tasks,
	// the number of stale index entries removed.
	Indexed int

	// Failures lists blocks that could not be indexed.
	Failures []*IndexingFailure

	// Err is set whenever State is StateFailed.
	// It joins the task-level error, if any, with every entry in Failures.
	Err error

	Duration time.Duration
}

// Future resolves when its task reaches a terminal state.
type Future struct {
	id   uint64
	kind Kind
	r    gblock.Range

	state atomic.Uint32

	done chan struct{}
	res  Result
}

func newFuture(id uint64, kind Kind, r gblock.Range) *Future {
	return &Future{
		id:   id,
		kind: kind,
		r:    r,
		done: make(chan struct{}),
	}
}

func (f *Future) ID() uint64          { return f.id }
func (f *Future) Kind() Kind          { return f.kind }
func (f *Future) Range() gblock.Range { return f.r }

// State reports the task's current state.
func (f *Future) State() State {
	return State(f.state.Load())
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the result and true if the task has finished.
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the task finishes or ctx is done.
// The returned error only reflects ctx;
// check Result.Err or Result.State for the task outcome.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, context.Cause(ctx)
	case <-f.done:
		return f.res, nil
	}
}

func (f *Future) start() bool {
	return f.state.CompareAndSwap(uint32(StatePending), uint32(StateRunning))
}

func (f *Future) resolve(indexed int, failures []*IndexingFailure, err error, dur time.Duration) {
	state := StateSucceeded
	if err != nil || len(failures) > 0 {
		state = StateFailed
		errs := make([]error, 0, len(failures)+1)
		if err != nil {
			errs = append(errs, err)
		}
		for _, fl := range failures {
			errs = append(errs, fl)
		}
		err = errors.Join(errs...)
	}

	f.res = Result{
		TaskID:   f.id,
		Kind:     f.kind,
		Range:    f.r,
		State:    state,
		Indexed:  indexed,
		Failures: failures,
		Err:      err,
		Duration: dur,
	}
	f.state.Store(uint32(state))
	close(f.done)
}
