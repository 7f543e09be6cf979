package trace

import (
	"context"
	"log/slog"
)

// Handler is an slog.Handler that stamps the trace fields carried by the
// record's context onto every record, unless the record already carries an
// attribute with the same key.
type Handler struct {
	inner slog.Handler
}

// NewHandler wraps an slog.Handler with trace-field stamping.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	tc := From(ctx)
	if tc.IsZero() {
		return h.inner.Handle(ctx, rec)
	}

	present := make(map[string]bool, rec.NumAttrs())
	rec.Attrs(func(a slog.Attr) bool {
		present[a.Key] = true
		return true
	})

	add := func(key, val string) {
		if val != "" && !present[key] {
			rec.AddAttrs(slog.String(key, val))
		}
	}
	add(FieldTraceID, tc.TraceID)
	add(FieldJobID, tc.JobID)
	add(FieldAccountID, tc.AccountID)
	add(FieldLeadID, tc.LeadID)
	add(FieldTaskName, tc.TaskName)

	return h.inner.Handle(ctx, rec)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
