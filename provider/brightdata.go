package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BrightData drives dataset snapshot collection: trigger a scrape, poll
// until the snapshot is ready, then fetch the rows. Polling is capped at
// maxPolls attempts on a fixed cadence.
type BrightData struct {
	adapter *Adapter
	apiKey  string
	baseURL string

	pollInterval time.Duration
	maxPolls     int
}

// BrightDataOption configures the client.
type BrightDataOption func(*BrightData)

// WithBrightDataBaseURL overrides the API base URL (tests).
func WithBrightDataBaseURL(u string) BrightDataOption {
	return func(b *BrightData) { b.baseURL = u }
}

// WithBrightDataPolling overrides the poll cadence and attempt cap (tests).
func WithBrightDataPolling(interval time.Duration, maxPolls int) BrightDataOption {
	return func(b *BrightData) {
		b.pollInterval = interval
		b.maxPolls = maxPolls
	}
}

// NewBrightData creates a BrightData client.
func NewBrightData(adapter *Adapter, apiKey string, opts ...BrightDataOption) *BrightData {
	b := &BrightData{
		adapter:      adapter,
		apiKey:       apiKey,
		baseURL:      "https://api.brightdata.com/datasets/v3",
		pollInterval: 10 * time.Second,
		maxPolls:     30,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BrightData) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.apiKey}
}

// TriggerSnapshot starts a dataset collection for the given inputs and
// returns the snapshot ID.
func (b *BrightData) TriggerSnapshot(ctx context.Context, datasetID string, inputs []map[string]string) (string, error) {
	body, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal inputs: %w", err)
	}

	resp, err := b.adapter.Request(ctx, RequestSpec{
		Method:  http.MethodPost,
		URL:     b.baseURL + "/trigger",
		Params:  map[string]string{"dataset_id": datasetID, "format": "json"},
		Headers: b.headers(),
		Body:    body,
		NoCache: true,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := resp.JSON(&out); err != nil {
		return "", err
	}
	if out.SnapshotID == "" {
		return "", fmt.Errorf("trigger returned no snapshot id")
	}
	return out.SnapshotID, nil
}

// WaitForSnapshot polls snapshot progress until it is ready or the attempt
// cap is reached. Cancellation aborts between polls.
func (b *BrightData) WaitForSnapshot(ctx context.Context, snapshotID string) error {
	for attempt := 1; attempt <= b.maxPolls; attempt++ {
		resp, err := b.adapter.Request(ctx, RequestSpec{
			URL:     b.baseURL + "/progress/" + snapshotID,
			Headers: b.headers(),
			NoCache: true,
		})
		if err != nil {
			return err
		}

		var progress struct {
			Status string `json:"status"`
		}
		if err := resp.JSON(&progress); err != nil {
			return err
		}
		switch progress.Status {
		case "ready":
			return nil
		case "failed":
			return fmt.Errorf("snapshot %s failed", snapshotID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
	return fmt.Errorf("snapshot %s not ready after %d polls", snapshotID, b.maxPolls)
}

// FetchSnapshot downloads the rows of a ready snapshot.
func (b *BrightData) FetchSnapshot(ctx context.Context, snapshotID string) ([]json.RawMessage, error) {
	resp, err := b.adapter.Request(ctx, RequestSpec{
		URL:     b.baseURL + "/snapshot/" + snapshotID,
		Params:  map[string]string{"format": "json"},
		Headers: b.headers(),
	})
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := resp.JSON(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Collect runs the full trigger, wait, fetch cycle.
func (b *BrightData) Collect(ctx context.Context, datasetID string, inputs []map[string]string) ([]json.RawMessage, error) {
	snapshotID, err := b.TriggerSnapshot(ctx, datasetID, inputs)
	if err != nil {
		return nil, fmt.Errorf("trigger snapshot: %w", err)
	}
	if err := b.WaitForSnapshot(ctx, snapshotID); err != nil {
		return nil, fmt.Errorf("wait for snapshot: %w", err)
	}
	rows, err := b.FetchSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return rows, nil
}
