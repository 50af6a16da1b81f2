package glog

import "log/slog"

// SeqRange returns a copy of log that includes fields for the inclusive
// block sequence range [start, end].
//
// This is a convenient shorthand for batch, indexing, and validation logs
// where the affected range is the pertinent detail.
func SeqRange(log *slog.Logger, start, end uint64) *slog.Logger {
	return log.With("first_seq", start, "last_seq", end)
}

// SeqRangeE is like [SeqRange] but also includes the given error.
func SeqRangeE(log *slog.Logger, start, end uint64, e error) *slog.Logger {
	return log.With("first_seq", start, "last_seq", end, "err", e)
}
