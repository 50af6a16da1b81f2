package gledger

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gledger/gblock"
	"github.com/gordian-engine/gledger/gindex"
	"golang.org/x/time/rate"
)

// Reindex schedules indexing of every committed block in r,
// split into tasks of DefaultChunkSize blocks.
// Tasks are scheduled no faster than ReindexRate per second,
// so a sweep over a long chain does not starve indexing of new writes.
//
// On error, the futures of the tasks scheduled so far are returned with it.
func (l *Ledger) Reindex(ctx context.Context, r gblock.Range) ([]*gindex.Future, error) {
	tail, err := l.chain.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot reindex: %w", err)
	}
	if r.Last > tail.Sequence {
		r.Last = tail.Sequence
	}
	if !r.Valid() {
		return nil, fmt.Errorf("cannot reindex empty range %s", r)
	}

	lim := rate.NewLimiter(l.cfg.ReindexRate, 1)
	step := uint64(l.cfg.DefaultChunkSize)

	var fs []*gindex.Future
	for first := r.First; ; first += step {
		last := r.Last
		if r.Last-first >= step {
			last = first + step - 1
		}

		if err := lim.Wait(ctx); err != nil {
			return fs, fmt.Errorf("reindex of %s stopped before %d: %w", r, first, err)
		}

		f, err := l.coord.Schedule(ctx, gblock.Range{First: first, Last: last})
		if err != nil {
			return fs, fmt.Errorf("reindex of %s stopped before %d: %w", r, first, err)
		}
		fs = append(fs, f)

		if last == r.Last {
			break
		}
	}

	l.log.Info("Scheduled reindex", "range", r, "tasks", len(fs))
	return fs, nil
}
