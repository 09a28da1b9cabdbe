// Package observability provides process-wide structured logging, shared
// by every cmd/ binary. It is intentionally narrow: tracing/metrics wiring
// is out of scope for this system (see spec §1), so this package only
// initializes the logger.
package observability

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes zerolog with sane defaults. If logPath is non-empty,
// logs are also written to that file (append mode). If opening the file fails,
// logs fall back to stdout, and an error is printed to stderr. fmt selects
// between JSON output ("json") and a human-readable console writer
// (anything else), matching the LOG_FMT environment variable from spec §6.
func InitLogger(logPath, level, fmtName string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	if strings.ToLower(strings.TrimSpace(fmtName)) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	// Redirect the standard library logger (used by some third-party
	// clients) so all log output is captured in one place.
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}
