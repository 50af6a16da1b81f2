package gcmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// NewLogger returns a logger writing to f.
// Format "text" uses colored output when f is a terminal; "json" uses slog's JSON handler.
func NewLogger(f *os.File, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch format {
	case "", "text":
		return slog.New(tint.NewHandler(colorable.NewColorable(f), &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(f.Fd()),
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
