package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// BuiltWith looks up the technology stack of a domain.
type BuiltWith struct {
	adapter *Adapter
	apiKey  string
	baseURL string
}

// BuiltWithOption configures the client.
type BuiltWithOption func(*BuiltWith)

// WithBuiltWithBaseURL overrides the API base URL (tests).
func WithBuiltWithBaseURL(u string) BuiltWithOption {
	return func(b *BuiltWith) { b.baseURL = u }
}

// NewBuiltWith creates a BuiltWith client.
func NewBuiltWith(adapter *Adapter, apiKey string, opts ...BuiltWithOption) *BuiltWith {
	b := &BuiltWith{
		adapter: adapter,
		apiKey:  apiKey,
		baseURL: "https://api.builtwith.com/v21/api.json",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TechProfile is one domain's detected technology groups.
type TechProfile struct {
	Domain       string          `json:"domain"`
	Technologies json.RawMessage `json:"technologies"`
}

// Lookup fetches the technology profile for a domain. Results are cached
// with the caller's tenant scope.
func (b *BuiltWith) Lookup(ctx context.Context, tenantID, domain string) (*TechProfile, error) {
	resp, err := b.adapter.Request(ctx, RequestSpec{
		URL: b.baseURL,
		Params: map[string]string{
			"LOOKUP": domain,
		},
		Headers:  map[string]string{"api-key": b.apiKey},
		TenantID: tenantID,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Results []struct {
			Result struct {
				Paths json.RawMessage `json:"Paths"`
			} `json:"Result"`
		} `json:"Results"`
		Errors []struct {
			Message string `json:"Message"`
		} `json:"Errors"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("builtwith: %s", out.Errors[0].Message)
	}
	if len(out.Results) == 0 {
		return &TechProfile{Domain: domain}, nil
	}
	return &TechProfile{Domain: domain, Technologies: out.Results[0].Result.Paths}, nil
}
