package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/leadfoundry/enrichworker/provider"
)

// APIEntities loads entity records from the primary application's internal
// API. Column generation reads through it so generated values always work
// from the latest stored record.
type APIEntities struct {
	adapter *provider.Adapter
	baseURL string
}

// NewAPIEntities creates an entity source backed by the application at
// baseURL.
func NewAPIEntities(adapter *provider.Adapter, baseURL string) *APIEntities {
	return &APIEntities{adapter: adapter, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Entities implements EntitySource.
func (a *APIEntities) Entities(ctx context.Context, tenantID string, entityIDs []string) (map[string]map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"tenant_id":  tenantID,
		"entity_ids": entityIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal entity request: %w", err)
	}

	resp, err := a.adapter.Request(ctx, provider.RequestSpec{
		Method:   http.MethodPost,
		URL:      a.baseURL + "/api/v2/internal/entities/batch/",
		Body:     body,
		TenantID: tenantID,
		NoCache:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch entities: %w", err)
	}

	var out struct {
		Entities map[string]map[string]any `json:"entities"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("decode entity response: %w", err)
	}
	return out.Entities, nil
}

// StaticEntities is a fixed record set; used in local mode and tests.
type StaticEntities map[string]map[string]any

// Entities implements EntitySource.
func (s StaticEntities) Entities(_ context.Context, _ string, entityIDs []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(entityIDs))
	for _, id := range entityIDs {
		if record, ok := s[id]; ok {
			out[id] = record
		}
	}
	return out, nil
}
