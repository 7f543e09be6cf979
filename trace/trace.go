// Package trace propagates enrichment trace fields across goroutine, worker
// pool, and service boundaries. The five recognized fields (trace_id, job_id,
// account_id, lead_id, task_name) ride a context.Context value and are
// attached to every log record and every outbound payload.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// Field names recognized in payloads and log records.
const (
	FieldTraceID   = "trace_id"
	FieldJobID     = "job_id"
	FieldAccountID = "account_id"
	FieldLeadID    = "lead_id"
	FieldTaskName  = "task_name"
)

// Context holds the trace fields for one logical enrichment flow.
// The zero value means "no trace".
type Context struct {
	TraceID   string `json:"trace_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	LeadID    string `json:"lead_id,omitempty"`
	TaskName  string `json:"task_name,omitempty"`
}

// IsZero reports whether no trace field is set.
func (tc Context) IsZero() bool {
	return tc == Context{}
}

// merge overlays non-empty fields of other onto tc.
func (tc Context) merge(other Context) Context {
	if other.TraceID != "" {
		tc.TraceID = other.TraceID
	}
	if other.JobID != "" {
		tc.JobID = other.JobID
	}
	if other.AccountID != "" {
		tc.AccountID = other.AccountID
	}
	if other.LeadID != "" {
		tc.LeadID = other.LeadID
	}
	if other.TaskName != "" {
		tc.TaskName = other.TaskName
	}
	return tc
}

type contextKey struct{}

// GenerateID returns a new unique trace identifier.
func GenerateID() string {
	return uuid.New().String()
}

// With returns a context carrying tc overlaid on any trace already present.
// Empty fields of tc inherit the enclosing scope's values, so nested scopes
// only need to name the fields they change.
func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, From(ctx).merge(tc))
}

// From extracts the current trace from ctx. Returns the zero Context when
// none is bound.
func From(ctx context.Context) Context {
	if tc, ok := ctx.Value(contextKey{}).(Context); ok {
		return tc
	}
	return Context{}
}

// Capture snapshots the current trace bindings. The snapshot is a value copy
// and is safe to hand to another goroutine.
func Capture(ctx context.Context) Context {
	return From(ctx)
}

// Restore overwrites the trace bindings of ctx with a previously captured
// snapshot. Unlike With, empty snapshot fields clear the binding.
func Restore(ctx context.Context, snap Context) context.Context {
	return context.WithValue(ctx, contextKey{}, snap)
}

// Go runs fn on a new goroutine with the caller's trace captured and restored
// in the spawned frame. Spawning task work with a bare go statement loses the
// trace; use this instead.
func Go(ctx context.Context, fn func(ctx context.Context)) {
	snap := Capture(ctx)
	go func() {
		fn(Restore(ctx, snap))
	}()
}

// Inject returns a copy of payload with the non-empty trace fields overlaid.
// Values already present in the payload win: a caller-supplied trace_id is
// never overwritten.
func Inject(ctx context.Context, payload map[string]any) map[string]any {
	tc := From(ctx)
	out := make(map[string]any, len(payload)+5)
	for k, v := range payload {
		out[k] = v
	}
	inject := func(key, val string) {
		if val == "" {
			return
		}
		if existing, ok := out[key]; ok && existing != nil && existing != "" {
			return
		}
		out[key] = val
	}
	inject(FieldTraceID, tc.TraceID)
	inject(FieldJobID, tc.JobID)
	inject(FieldAccountID, tc.AccountID)
	inject(FieldLeadID, tc.LeadID)
	inject(FieldTaskName, tc.TaskName)
	return out
}

// Extract pulls the five recognized trace fields from a payload, ignoring
// everything else.
func Extract(payload map[string]any) Context {
	get := func(key string) string {
		if v, ok := payload[key].(string); ok {
			return v
		}
		return ""
	}
	return Context{
		TraceID:   get(FieldTraceID),
		JobID:     get(FieldJobID),
		AccountID: get(FieldAccountID),
		LeadID:    get(FieldLeadID),
		TaskName:  get(FieldTaskName),
	}
}
