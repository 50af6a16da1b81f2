package gbadger

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// slogAdapter routes badger's printf-style logging into slog.
// Badger is chatty at info level, so its info output is logged at debug.
type slogAdapter struct {
	log *slog.Logger
}

var _ badger.Logger = slogAdapter{}

func msg(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.log.Error(msg(format, args))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.log.Warn(msg(format, args))
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.log.Debug(msg(format, args))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.log.Debug(msg(format, args))
}
