package logging

import (
	"context"
	"sync"
	"time"

	"log/slog"
)

const diagnosticCapacity = 10

// DiagnosticRecord is a structured snapshot of a single warn or error log
// entry retained for inspection.
type DiagnosticRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Diagnostics keeps a bounded ring of the most recent warn and error records
// flowing through the logger. All error paths funnel through the same logger,
// so the ring sees every failure class the runtime reports.
type Diagnostics struct {
	mu       sync.Mutex
	capacity int
	records  []DiagnosticRecord
	next     int
	filled   bool
}

// NewDiagnostics builds a ring retaining the given number of records.
func NewDiagnostics(capacity int) *Diagnostics {
	if capacity <= 0 {
		capacity = diagnosticCapacity
	}
	return &Diagnostics{capacity: capacity, records: make([]DiagnosticRecord, capacity)}
}

// Wrap layers the capture handler over an emitting handler.
func (d *Diagnostics) Wrap(inner slog.Handler) slog.Handler {
	return &captureHandler{inner: inner, diag: d}
}

// Recent returns the retained records, oldest first.
func (d *Diagnostics) Recent() []DiagnosticRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.filled {
		out := make([]DiagnosticRecord, d.next)
		copy(out, d.records[:d.next])
		return out
	}
	out := make([]DiagnosticRecord, 0, d.capacity)
	out = append(out, d.records[d.next:]...)
	out = append(out, d.records[:d.next]...)
	return out
}

func (d *Diagnostics) add(rec DiagnosticRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[d.next] = rec
	d.next++
	if d.next == d.capacity {
		d.next = 0
		d.filled = true
	}
}

type captureHandler struct {
	inner slog.Handler
	diag  *Diagnostics
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	// Warn and error records are retained even when the emitting handler
	// filters them out.
	return level >= slog.LevelWarn || h.inner.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn {
		attrs := make(map[string]any, record.NumAttrs()+len(h.attrs))
		for _, a := range h.attrs {
			attrs[a.Key] = a.Value.Any()
		}
		record.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value.Any()
			return true
		})
		h.diag.add(DiagnosticRecord{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Attrs:   attrs,
		})
	}
	if !h.inner.Enabled(ctx, record.Level) {
		return nil
	}
	return h.inner.Handle(ctx, record)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{inner: h.inner.WithAttrs(attrs), diag: h.diag, attrs: merged}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{inner: h.inner.WithGroup(name), diag: h.diag, attrs: h.attrs}
}
