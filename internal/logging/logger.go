package logging

import (
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/consentry/consentry/internal/config"
)

// New shapes slog so emitted telemetry matches the runtime's diagnostic
// policy. The returned Diagnostics ring retains the most recent warn and
// error records for later inspection; it is an observability aid only and is
// never consulted for control flow.
func New(cfg config.LoggingConfig) (*slog.Logger, *Diagnostics, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("logging: unsupported level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json", "":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	diag := NewDiagnostics(diagnosticCapacity)
	logger := slog.New(diag.Wrap(handler)).With(slog.String("component", "consentry"))
	return logger, diag, nil
}
