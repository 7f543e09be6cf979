// Package enrichment implements the worker's registered tasks: account
// enrichment, lead enrichment, and dependency-chained column generation.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leadfoundry/enrichworker/offload"
	"github.com/leadfoundry/enrichworker/provider"
	"github.com/leadfoundry/enrichworker/task"
)

// Narrow views of the provider clients, so tests can fake one call at a
// time.
type (
	// TechProfiler resolves a domain's technology stack.
	TechProfiler interface {
		Lookup(ctx context.Context, tenantID, domain string) (*provider.TechProfile, error)
	}
	// OrgSource enriches an organization and searches its people.
	OrgSource interface {
		EnrichOrganization(ctx context.Context, tenantID, domain string) (*provider.Organization, error)
		SearchPeople(ctx context.Context, tenantID, domain string, titles []string, perPage int) ([]provider.Person, error)
	}
	// PageFetcher reads a web page as markdown.
	PageFetcher interface {
		Read(ctx context.Context, pageURL string) (*provider.PageContent, error)
	}
)

// defaultPeoplePerPage bounds one people search.
const defaultPeoplePerPage = 50

// AccountTask enriches one account: technology stack, firmographics, website
// content, and a qualified, structured lead list.
type AccountTask struct {
	tech   TechProfiler
	orgs   OrgSource
	pages  PageFetcher
	llm    provider.Completer
	pools  *offload.Pools
	model  string
	logger *slog.Logger
}

// NewAccountTask wires the account enrichment pipeline.
func NewAccountTask(tech TechProfiler, orgs OrgSource, pages PageFetcher, llm provider.Completer, pools *offload.Pools, model string, logger *slog.Logger) *AccountTask {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountTask{tech: tech, orgs: orgs, pages: pages, llm: llm, pools: pools, model: model, logger: logger}
}

func (t *AccountTask) Name() string           { return "account_enrichment" }
func (t *AccountTask) EnrichmentType() string { return "account" }

// CreatePayload validates an account enrichment request.
func (t *AccountTask) CreatePayload(fields map[string]any) (*task.Payload, error) {
	accountID, _ := fields["account_id"].(string)
	if accountID == "" {
		return nil, task.Validationf("account_id is required")
	}
	domain, _ := fields["domain"].(string)
	if domain == "" {
		return nil, task.Validationf("domain is required")
	}
	tenantID, _ := fields["tenant_id"].(string)

	return &task.Payload{
		TaskName:      t.Name(),
		AccountID:     accountID,
		TenantID:      tenantID,
		AttemptNumber: 1,
		MaxRetries:    task.DefaultMaxRetries,
		Data:          fields,
	}, nil
}

// qualificationSchema constrains the lead-qualification completion.
var qualificationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"qualified_lead_ids": {"type": "array", "items": {"type": "string"}},
		"reasoning": {"type": "string"}
	},
	"required": ["qualified_lead_ids"]
}`)

// structuringSchema constrains the structured-lead completion.
var structuringSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"leads": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"full_name": {"type": "string"},
					"title": {"type": "string"},
					"seniority": {"type": "string"},
					"department": {"type": "string"},
					"outreach_angle": {"type": "string"}
				},
				"required": ["id"]
			}
		}
	},
	"required": ["leads"]
}`)

// Execute runs the account pipeline. Technology and website lookups are
// best-effort; firmographics and the people search are required.
func (t *AccountTask) Execute(ctx context.Context, p *task.Payload, rep task.Reporter) (map[string]any, error) {
	domain, _ := p.Data["domain"].(string)
	if domain == "" {
		return nil, task.Validationf("payload is missing domain")
	}
	titles := stringSlice(p.Data["titles"])

	var (
		techProfile *provider.TechProfile
		org         *provider.Organization
		page        *provider.PageContent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.pools.RunIO(gctx, func(ctx context.Context) error {
			profile, err := t.tech.Lookup(ctx, p.TenantID, domain)
			if err != nil {
				// tech stack is supplementary
				t.logger.WarnContext(ctx, "technology lookup failed", "domain", domain, "error", err)
				return nil
			}
			techProfile = profile
			return nil
		})
	})
	g.Go(func() error {
		return t.pools.RunIO(gctx, func(ctx context.Context) error {
			o, err := t.orgs.EnrichOrganization(ctx, p.TenantID, domain)
			if err != nil {
				return task.NewError(task.KindProvider, "organization enrichment failed", err)
			}
			org = o
			return nil
		})
	})
	g.Go(func() error {
		return t.pools.RunIO(gctx, func(ctx context.Context) error {
			content, err := t.pages.Read(ctx, "https://"+domain)
			if err != nil {
				t.logger.WarnContext(ctx, "website read failed", "domain", domain, "error", err)
				return nil
			}
			page = content
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rep.Progress(ctx, 35, map[string]any{"stage": "company_profile"})

	var people []provider.Person
	err := t.pools.RunIO(ctx, func(ctx context.Context) error {
		found, err := t.orgs.SearchPeople(ctx, p.TenantID, domain, titles, defaultPeoplePerPage)
		if err != nil {
			return task.NewError(task.KindProvider, "people search failed", err)
		}
		people = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	rep.Progress(ctx, 55, map[string]any{"stage": "people_search", "found": len(people)})

	allLeads := make([]map[string]any, 0, len(people))
	for _, person := range people {
		allLeads = append(allLeads, map[string]any{
			"id":           person.ID,
			"full_name":    strings.TrimSpace(person.FirstName + " " + person.LastName),
			"title":        person.Title,
			"email":        person.Email,
			"linkedin_url": person.LinkedInURL,
		})
	}

	companyContext := t.companyContext(org, techProfile, page)
	qualified, err := t.qualifyLeads(ctx, p.TenantID, companyContext, allLeads)
	if err != nil {
		return nil, err
	}
	rep.Progress(ctx, 80, map[string]any{"stage": "qualification", "qualified": len(qualified)})

	structured, err := t.structureLeads(ctx, p.TenantID, companyContext, qualified)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"account_id":       p.AccountID,
		"domain":           domain,
		"company":          companyContext,
		"all_leads":        toAny(allLeads),
		"qualified_leads":  toAny(qualified),
		"structured_leads": structured,
	}
	if techProfile != nil {
		result["technologies"] = techProfile.Technologies
	}
	return result, nil
}

// companyContext condenses the gathered signals into prompt material.
func (t *AccountTask) companyContext(org *provider.Organization, tech *provider.TechProfile, page *provider.PageContent) map[string]any {
	profile := map[string]any{}
	if org != nil {
		profile["name"] = org.Name
		profile["industry"] = org.Industry
		profile["employee_count"] = org.EmployeeCount
	}
	if tech != nil {
		profile["technologies"] = string(tech.Technologies)
	}
	if page != nil {
		summary := page.Markdown
		if len(summary) > 4000 {
			summary = summary[:4000]
		}
		profile["website_summary"] = summary
	}
	return profile
}

func (t *AccountTask) qualifyLeads(ctx context.Context, tenantID string, company map[string]any, leads []map[string]any) ([]map[string]any, error) {
	if len(leads) == 0 {
		return nil, nil
	}
	companyJSON, _ := json.Marshal(company)
	leadsJSON, _ := json.Marshal(leads)

	comp, err := t.llm.Complete(ctx, provider.CompletionRequest{
		Model: t.model,
		Prompt: fmt.Sprintf(
			"Given this company profile:\n%s\n\nSelect the leads most likely to be buyers for a B2B sales outreach from this list:\n%s\n\nReturn their ids.",
			companyJSON, leadsJSON),
		Schema:   qualificationSchema,
		TenantID: tenantID,
	})
	if err != nil {
		return nil, task.NewError(task.KindProvider, "lead qualification failed", err)
	}

	var out struct {
		QualifiedLeadIDs []string `json:"qualified_lead_ids"`
	}
	if err := json.Unmarshal(comp.Content, &out); err != nil {
		return nil, task.NewError(task.KindParse, "decode qualification response", err)
	}

	wanted := make(map[string]bool, len(out.QualifiedLeadIDs))
	for _, id := range out.QualifiedLeadIDs {
		wanted[id] = true
	}
	var qualified []map[string]any
	for _, lead := range leads {
		if id, _ := lead["id"].(string); wanted[id] {
			qualified = append(qualified, lead)
		}
	}
	return qualified, nil
}

func (t *AccountTask) structureLeads(ctx context.Context, tenantID string, company map[string]any, qualified []map[string]any) ([]any, error) {
	if len(qualified) == 0 {
		return nil, nil
	}
	companyJSON, _ := json.Marshal(company)
	leadsJSON, _ := json.Marshal(qualified)

	var structured []any
	err := t.pools.RunCPU(ctx, func(ctx context.Context) error {
		comp, err := t.llm.Complete(ctx, provider.CompletionRequest{
			Model: t.model,
			Prompt: fmt.Sprintf(
				"Company profile:\n%s\n\nFor each qualified lead below, produce a structured record with seniority, department, and a one-line outreach angle:\n%s",
				companyJSON, leadsJSON),
			Schema:   structuringSchema,
			TenantID: tenantID,
		})
		if err != nil {
			return task.NewError(task.KindProvider, "lead structuring failed", err)
		}
		var out struct {
			Leads []any `json:"leads"`
		}
		if err := json.Unmarshal(comp.Content, &out); err != nil {
			return task.NewError(task.KindParse, "decode structuring response", err)
		}
		structured = out.Leads
		return nil
	})
	return structured, err
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAny(leads []map[string]any) []any {
	out := make([]any, len(leads))
	for i, lead := range leads {
		out[i] = lead
	}
	return out
}
