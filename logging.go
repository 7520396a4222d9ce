package docbase

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// defaultLogger builds the handler used when Options.Logger is left nil:
// a colorized, human-readable handler when stderr is a terminal, falling
// back to slog's own text handler otherwise (e.g. when output is piped to
// a log file, where ANSI color codes only add noise).
func defaultLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w := colorable.NewColorableStderr()
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
