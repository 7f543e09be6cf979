// Package sink archives raw enrichment results to the analytics warehouse.
package sink

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Record is one archived enrichment result row.
type Record struct {
	JobID          string         `json:"job_id"`
	TaskName       string         `json:"task_name"`
	EnrichmentType string         `json:"enrichment_type"`
	AccountID      string         `json:"account_id,omitempty"`
	LeadID         string         `json:"lead_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	Status         string         `json:"status"`
	AttemptNumber  int            `json:"attempt_number"`
	TraceID        string         `json:"trace_id,omitempty"`
	RawData        map[string]any `json:"raw_data,omitempty"`
	ProcessedData  map[string]any `json:"processed_data,omitempty"`
	ErrorDetails   map[string]any `json:"error_details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Sink persists records. Persistence is best-effort from the runner's point
// of view: a sink failure is logged but never fails the job.
type Sink interface {
	Persist(ctx context.Context, rec *Record) error
}

// Memory collects records in process; used in local mode and tests.
type Memory struct {
	mu      sync.Mutex
	records []*Record
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Persist implements Sink.
func (m *Memory) Persist(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *rec
	m.records = append(m.records, &dup)
	return nil
}

// Records returns a snapshot of everything persisted so far.
func (m *Memory) Records() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, len(m.records))
	copy(out, m.records)
	return out
}

// rowJSON renders nested maps for warehouse columns typed as JSON strings.
func rowJSON(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	body, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(body)
}
