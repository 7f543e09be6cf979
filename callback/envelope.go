// Package callback delivers enrichment results back to the primary
// application: OIDC-authenticated POSTs with retry, and ID-aligned
// pagination for oversized lead payloads.
package callback

import (
	"encoding/json"
)

// Envelope is the canonical JSON body of one callback delivery.
type Envelope struct {
	JobID                string          `json:"job_id"`
	AccountID            string          `json:"account_id,omitempty"`
	LeadID               string          `json:"lead_id,omitempty"`
	Status               string          `json:"status"`
	EnrichmentType       string          `json:"enrichment_type,omitempty"`
	Source               string          `json:"source,omitempty"`
	IsPartial            bool            `json:"is_partial"`
	CompletionPercentage float64         `json:"completion_percentage"`
	RawData              map[string]any  `json:"raw_data,omitempty"`
	ProcessedData        map[string]any  `json:"processed_data,omitempty"`
	ErrorDetails         map[string]any  `json:"error_details,omitempty"`
	AttemptNumber        int             `json:"attempt_number,omitempty"`
	MaxRetries           int             `json:"max_retries,omitempty"`
	Pagination           *Pagination     `json:"pagination,omitempty"`
	TraceID              string          `json:"trace_id,omitempty"`
	Orchestration        json.RawMessage `json:"orchestration_data,omitempty"`
}

// Pagination describes one fragment of a paginated terminal delivery.
type Pagination struct {
	Page         int            `json:"page"` // 1-based
	TotalPages   int            `json:"total_pages"`
	LeadsPerPage int            `json:"leads_per_page"`
	TotalLeads   int            `json:"total_leads"`
	CurrentChunk map[string]int `json:"current_chunk_counts,omitempty"`
}

// Terminal reports whether the envelope carries a terminal status.
func (e *Envelope) Terminal() bool {
	return e.Status == "completed" || e.Status == "failed"
}

// clone returns a shallow copy suitable for per-page mutation of the lead
// lists and pagination metadata.
func (e *Envelope) clone() *Envelope {
	dup := *e
	return &dup
}
