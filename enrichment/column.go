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

// EntitySource loads the entity records a column is generated over.
type EntitySource interface {
	Entities(ctx context.Context, tenantID string, entityIDs []string) (map[string]map[string]any, error)
}

// ColumnTask generates one custom column's value for a batch of entities.
// It is the execution leg of a dependency-ordered column chain.
type ColumnTask struct {
	entities EntitySource
	llm      provider.Completer
	pools    *offload.Pools
	model    string
	logger   *slog.Logger
}

// NewColumnTask wires the column generation pipeline.
func NewColumnTask(entities EntitySource, llm provider.Completer, pools *offload.Pools, model string, logger *slog.Logger) *ColumnTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &ColumnTask{entities: entities, llm: llm, pools: pools, model: model, logger: logger}
}

func (t *ColumnTask) Name() string           { return "column_generation" }
func (t *ColumnTask) EnrichmentType() string { return "column" }

// CreatePayload validates a column generation request.
func (t *ColumnTask) CreatePayload(fields map[string]any) (*task.Payload, error) {
	column, _ := fields["column"].(string)
	if column == "" {
		return nil, task.Validationf("column is required")
	}
	if len(stringSlice(fields["entity_ids"])) == 0 {
		return nil, task.Validationf("entity_ids is required")
	}
	tenantID, _ := fields["tenant_id"].(string)

	return &task.Payload{
		TaskName:      t.Name(),
		TenantID:      tenantID,
		AttemptNumber: 1,
		MaxRetries:    task.DefaultMaxRetries,
		Data:          fields,
	}, nil
}

var columnValueSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"value": {"type": "string"},
		"confidence": {"type": "number"}
	},
	"required": ["value"]
}`)

// Execute generates the column value per entity. Individual entity failures
// do not abort the batch; they are reported as a partial result.
func (t *ColumnTask) Execute(ctx context.Context, p *task.Payload, rep task.Reporter) (map[string]any, error) {
	column, _ := p.Data["column"].(string)
	entityIDs := stringSlice(p.Data["entity_ids"])
	if column == "" || len(entityIDs) == 0 {
		return nil, task.Validationf("payload is missing column or entity_ids")
	}

	records, err := t.entities.Entities(ctx, p.TenantID, entityIDs)
	if err != nil {
		return nil, task.NewError(task.KindProvider, "load entities failed", err)
	}

	values := make(map[string]any, len(entityIDs))
	var failures []task.EntityError

	for i, entityID := range entityIDs {
		record, ok := records[entityID]
		if !ok {
			failures = append(failures, task.EntityError{EntityID: entityID, Message: "entity not found"})
			continue
		}

		value, err := t.generate(ctx, p.TenantID, column, entityID, record)
		if err != nil {
			t.logger.WarnContext(ctx, "column generation failed for entity",
				"column", column, "entity_id", entityID, "error", err)
			failures = append(failures, task.EntityError{EntityID: entityID, Message: err.Error()})
			continue
		}
		values[entityID] = value

		if done := i + 1; done < len(entityIDs) {
			rep.Progress(ctx, float64(done)/float64(len(entityIDs))*100, nil)
		}
	}

	result := map[string]any{
		"column": column,
		"values": values,
	}

	if len(failures) == len(entityIDs) {
		return nil, task.NewError(task.KindProvider,
			fmt.Sprintf("column %s failed for all %d entities", column, len(entityIDs)), nil)
	}
	if len(failures) > 0 {
		return result, &task.Error{
			Kind:    task.KindPartial,
			Message: fmt.Sprintf("column %s failed for %d of %d entities", column, len(failures), len(entityIDs)),
			Partial: failures,
		}
	}
	return result, nil
}

func (t *ColumnTask) generate(ctx context.Context, tenantID, column, entityID string, record map[string]any) (any, error) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal entity %s: %w", entityID, err)
	}

	var value any
	err = t.pools.RunCPU(ctx, func(ctx context.Context) error {
		comp, err := t.llm.Complete(ctx, provider.CompletionRequest{
			Model: t.model,
			Prompt: fmt.Sprintf(
				"Generate the %q attribute for this record. Use only the evidence present in the record:\n%s",
				column, recordJSON),
			Schema:   columnValueSchema,
			TenantID: tenantID,
		})
		if err != nil {
			return err
		}
		var out struct {
			Value      string  `json:"value"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal(comp.Content, &out); err != nil {
			return fmt.Errorf("decode column value: %w", err)
		}
		value = map[string]any{"value": out.Value, "confidence": out.Confidence}
		return nil
	})
	return value, err
}
