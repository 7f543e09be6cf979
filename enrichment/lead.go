package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leadfoundry/enrichworker/offload"
	"github.com/leadfoundry/enrichworker/provider"
	"github.com/leadfoundry/enrichworker/task"
)

// DefaultLinkedInDataset is the scraping dataset used for profile
// collection.
const DefaultLinkedInDataset = "gd_l1viktl72bvl7bjuj0"

// ProfileCollector runs a scraping dataset and returns the collected rows.
type ProfileCollector interface {
	Collect(ctx context.Context, datasetID string, inputs []map[string]string) ([]json.RawMessage, error)
}

// LeadTask enriches one lead from their public LinkedIn profile.
type LeadTask struct {
	collector ProfileCollector
	llm       provider.Completer
	pools     *offload.Pools
	model     string
	datasetID string
	logger    *slog.Logger
}

// NewLeadTask wires the lead enrichment pipeline.
func NewLeadTask(collector ProfileCollector, llm provider.Completer, pools *offload.Pools, model string, logger *slog.Logger) *LeadTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeadTask{
		collector: collector,
		llm:       llm,
		pools:     pools,
		model:     model,
		datasetID: DefaultLinkedInDataset,
		logger:    logger,
	}
}

func (t *LeadTask) Name() string           { return "lead_enrichment" }
func (t *LeadTask) EnrichmentType() string { return "lead" }

// CreatePayload validates a lead enrichment request.
func (t *LeadTask) CreatePayload(fields map[string]any) (*task.Payload, error) {
	leadID, _ := fields["lead_id"].(string)
	if leadID == "" {
		return nil, task.Validationf("lead_id is required")
	}
	profileURL, _ := fields["linkedin_url"].(string)
	if profileURL == "" {
		return nil, task.Validationf("linkedin_url is required")
	}
	accountID, _ := fields["account_id"].(string)
	tenantID, _ := fields["tenant_id"].(string)

	return &task.Payload{
		TaskName:      t.Name(),
		AccountID:     accountID,
		LeadID:        leadID,
		TenantID:      tenantID,
		AttemptNumber: 1,
		MaxRetries:    task.DefaultMaxRetries,
		Data:          fields,
	}, nil
}

var profileSummarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string"},
		"seniority": {"type": "string"},
		"talking_points": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["summary"]
}`)

// Execute collects the profile and produces an outreach-oriented summary.
func (t *LeadTask) Execute(ctx context.Context, p *task.Payload, rep task.Reporter) (map[string]any, error) {
	profileURL, _ := p.Data["linkedin_url"].(string)
	if profileURL == "" {
		return nil, task.Validationf("payload is missing linkedin_url")
	}

	var rows []json.RawMessage
	err := t.pools.RunIO(ctx, func(ctx context.Context) error {
		collected, err := t.collector.Collect(ctx, t.datasetID, []map[string]string{{"url": profileURL}})
		if err != nil {
			return task.NewError(task.KindProvider, "profile collection failed", err)
		}
		rows = collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, task.NewError(task.KindNotFound, fmt.Sprintf("no profile data for %s", profileURL), nil)
	}
	rep.Progress(ctx, 50, map[string]any{"stage": "profile_collected"})

	profile := rows[0]
	comp, err := t.llm.Complete(ctx, provider.CompletionRequest{
		Model: t.model,
		Prompt: fmt.Sprintf(
			"Summarize this professional profile for a B2B seller preparing outreach. Focus on role, seniority, and recent activity:\n%s",
			profile),
		Schema:   profileSummarySchema,
		TenantID: p.TenantID,
	})
	if err != nil {
		return nil, task.NewError(task.KindProvider, "profile summarization failed", err)
	}

	var summary map[string]any
	if err := json.Unmarshal(comp.Content, &summary); err != nil {
		return nil, task.NewError(task.KindParse, "decode profile summary", err)
	}

	return map[string]any{
		"lead_id": p.LeadID,
		"profile": profile,
		"summary": summary,
	}, nil
}
