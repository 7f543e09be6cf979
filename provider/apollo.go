package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Apollo enriches organizations and searches for people at them.
type Apollo struct {
	adapter *Adapter
	apiKey  string
	baseURL string
}

// ApolloOption configures the client.
type ApolloOption func(*Apollo)

// WithApolloBaseURL overrides the API base URL (tests).
func WithApolloBaseURL(u string) ApolloOption {
	return func(a *Apollo) { a.baseURL = u }
}

// NewApollo creates an Apollo client.
func NewApollo(adapter *Adapter, apiKey string, opts ...ApolloOption) *Apollo {
	a := &Apollo{
		adapter: adapter,
		apiKey:  apiKey,
		baseURL: "https://api.apollo.io/api/v1",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Apollo) headers() map[string]string {
	return map[string]string{"x-api-key": a.apiKey}
}

// Organization is the subset of Apollo's org payload the tasks consume.
type Organization struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Domain        string          `json:"primary_domain"`
	Industry      string          `json:"industry"`
	EmployeeCount int             `json:"estimated_num_employees"`
	Raw           json.RawMessage `json:"-"`
}

// Person is one contact returned by a people search.
type Person struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Title        string `json:"title"`
	Email        string `json:"email"`
	LinkedInURL  string `json:"linkedin_url"`
	Organization string `json:"organization_name"`
}

// EnrichOrganization fetches the org profile for a domain.
func (a *Apollo) EnrichOrganization(ctx context.Context, tenantID, domain string) (*Organization, error) {
	resp, err := a.adapter.Request(ctx, RequestSpec{
		URL:      a.baseURL + "/organizations/enrich",
		Params:   map[string]string{"domain": domain},
		Headers:  a.headers(),
		TenantID: tenantID,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Organization *Organization `json:"organization"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	if out.Organization == nil {
		return nil, fmt.Errorf("apollo: no organization for domain %s", domain)
	}
	out.Organization.Raw = resp.Data
	return out.Organization, nil
}

// SearchPeople finds contacts at a domain, optionally filtered by title.
func (a *Apollo) SearchPeople(ctx context.Context, tenantID, domain string, titles []string, perPage int) ([]Person, error) {
	if perPage <= 0 {
		perPage = 25
	}
	body, err := json.Marshal(map[string]any{
		"q_organization_domains": []string{domain},
		"person_titles":          titles,
		"per_page":               perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}

	resp, err := a.adapter.Request(ctx, RequestSpec{
		Method:   http.MethodPost,
		URL:      a.baseURL + "/mixed_people/search",
		Headers:  a.headers(),
		Body:     body,
		TenantID: tenantID,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		People []Person `json:"people"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out.People, nil
}
