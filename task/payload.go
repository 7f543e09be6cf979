package task

import (
	"encoding/json"
	"fmt"

	"github.com/leadfoundry/enrichworker/trace"
)

// DefaultMaxRetries is the retry ceiling applied when a payload does not
// carry one.
const DefaultMaxRetries = 3

// Payload is the unit of work carried through the queue to the worker. It is
// built once at job creation and travels intact through every retry.
type Payload struct {
	TaskName      string          `json:"task_name"`
	JobID         string          `json:"job_id"`
	AccountID     string          `json:"account_id,omitempty"`
	LeadID        string          `json:"lead_id,omitempty"`
	TenantID      string          `json:"tenant_id,omitempty"`
	AttemptNumber int             `json:"attempt_number"`
	MaxRetries    int             `json:"max_retries"`
	OriginalJobID string          `json:"original_job_id,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	Data          map[string]any  `json:"data,omitempty"`
	Orchestration json.RawMessage `json:"orchestration_data,omitempty"`
}

// Validate checks the payload invariants shared by every task.
func (p *Payload) Validate() error {
	if p.TaskName == "" {
		return Validationf("task_name is required")
	}
	if p.JobID == "" {
		return Validationf("job_id is required")
	}
	if p.AttemptNumber < 1 {
		return Validationf("attempt_number must be >= 1, got %d", p.AttemptNumber)
	}
	if p.MaxRetries < 1 {
		return Validationf("max_retries must be >= 1, got %d", p.MaxRetries)
	}
	return nil
}

// Trace builds the trace context carried by this payload.
func (p *Payload) Trace() trace.Context {
	return trace.Context{
		TraceID:   p.TraceID,
		JobID:     p.JobID,
		AccountID: p.AccountID,
		LeadID:    p.LeadID,
		TaskName:  p.TaskName,
	}
}

// Marshal encodes the payload for queueing.
func (p *Payload) Marshal() ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %s: %w", p.JobID, err)
	}
	return body, nil
}

// UnmarshalPayload decodes a queued payload body.
func UnmarshalPayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, NewError(KindParse, "decode task payload", err)
	}
	return &p, nil
}

// RetryCopy returns a payload for re-running a failed job under a new job ID.
// The copy points back at the first job in the chain via original_job_id and
// carries the next attempt number.
func (p *Payload) RetryCopy(newJobID string) *Payload {
	dup := *p
	dup.JobID = newJobID
	dup.AttemptNumber = p.AttemptNumber + 1
	dup.OriginalJobID = p.OriginalJobID
	if dup.OriginalJobID == "" {
		dup.OriginalJobID = p.JobID
	}
	return &dup
}
