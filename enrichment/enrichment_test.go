package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfoundry/enrichworker/offload"
	"github.com/leadfoundry/enrichworker/provider"
	"github.com/leadfoundry/enrichworker/task"
)

type fakeTech struct {
	profile *provider.TechProfile
	err     error
}

func (f *fakeTech) Lookup(context.Context, string, string) (*provider.TechProfile, error) {
	return f.profile, f.err
}

type fakeOrgs struct {
	org       *provider.Organization
	orgErr    error
	people    []provider.Person
	peopleErr error
}

func (f *fakeOrgs) EnrichOrganization(context.Context, string, string) (*provider.Organization, error) {
	return f.org, f.orgErr
}

func (f *fakeOrgs) SearchPeople(context.Context, string, string, []string, int) ([]provider.Person, error) {
	return f.people, f.peopleErr
}

type fakePages struct {
	content *provider.PageContent
	err     error
}

func (f *fakePages) Read(context.Context, string) (*provider.PageContent, error) {
	return f.content, f.err
}

// scriptedLLM answers by matching a substring of the prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	answers map[string]string // prompt substring -> JSON content
	errFor  string
	calls   []string
}

func (f *scriptedLLM) Complete(_ context.Context, req provider.CompletionRequest) (*provider.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Prompt)
	f.mu.Unlock()
	if f.errFor != "" && strings.Contains(req.Prompt, f.errFor) {
		return nil, errors.New("llm unavailable")
	}
	for needle, content := range f.answers {
		if strings.Contains(req.Prompt, needle) {
			return &provider.Completion{Content: json.RawMessage(content), Model: req.Model}, nil
		}
	}
	return nil, errors.New("no scripted answer for prompt")
}

type fakeCollector struct {
	rows []json.RawMessage
	err  error
}

func (f *fakeCollector) Collect(context.Context, string, []map[string]string) ([]json.RawMessage, error) {
	return f.rows, f.err
}

type fakeEntities struct {
	records map[string]map[string]any
	err     error
}

func (f *fakeEntities) Entities(context.Context, string, []string) (map[string]map[string]any, error) {
	return f.records, f.err
}

type noopReporter struct{}

func (noopReporter) Progress(context.Context, float64, map[string]any) {}

func testPools(t *testing.T) *offload.Pools {
	t.Helper()
	p := offload.New(4, 2)
	t.Cleanup(p.Shutdown)
	return p
}

func sampleOrgs() *fakeOrgs {
	return &fakeOrgs{
		org: &provider.Organization{Name: "Acme", Industry: "Manufacturing", EmployeeCount: 250},
		people: []provider.Person{
			{ID: "p1", FirstName: "Jane", LastName: "Doe", Title: "VP Sales", Email: "jane@acme.example"},
			{ID: "p2", FirstName: "Joe", LastName: "Bloggs", Title: "Intern"},
			{ID: "p3", FirstName: "Ada", LastName: "Smith", Title: "CTO"},
		},
	}
}

func TestAccountTask_Pipeline(t *testing.T) {
	llm := &scriptedLLM{answers: map[string]string{
		"Select the leads":          `{"qualified_lead_ids": ["p1", "p3"], "reasoning": "decision makers"}`,
		"produce a structured record": `{"leads": [{"id": "p1", "seniority": "vp"}, {"id": "p3", "seniority": "c-level"}]}`,
	}}
	tk := NewAccountTask(
		&fakeTech{profile: &provider.TechProfile{Domain: "acme.example", Technologies: json.RawMessage(`["salesforce"]`)}},
		sampleOrgs(),
		&fakePages{content: &provider.PageContent{Markdown: "# Acme\nAnvils."}},
		llm, testPools(t), "gpt-4o-mini", nil)

	p, err := tk.CreatePayload(map[string]any{
		"account_id": "acct-1", "domain": "acme.example", "tenant_id": "tenant-1",
	})
	require.NoError(t, err)
	p.JobID = "job-1"

	result, err := tk.Execute(context.Background(), p, noopReporter{})
	require.NoError(t, err)

	assert.Len(t, result["all_leads"], 3)
	qualified := result["qualified_leads"].([]any)
	require.Len(t, qualified, 2)
	assert.Equal(t, "p1", qualified[0].(map[string]any)["id"])
	assert.Len(t, result["structured_leads"], 2)

	company := result["company"].(map[string]any)
	assert.Equal(t, "Acme", company["name"])
	assert.Contains(t, company["website_summary"], "Anvils")
}

func TestAccountTask_SupplementaryFailuresTolerated(t *testing.T) {
	llm := &scriptedLLM{answers: map[string]string{
		"Select the leads":          `{"qualified_lead_ids": []}`,
		"produce a structured record": `{"leads": []}`,
	}}
	tk := NewAccountTask(
		&fakeTech{err: errors.New("builtwith down")},
		sampleOrgs(),
		&fakePages{err: errors.New("site unreachable")},
		llm, testPools(t), "gpt-4o-mini", nil)

	p, _ := tk.CreatePayload(map[string]any{"account_id": "a", "domain": "acme.example"})
	result, err := tk.Execute(context.Background(), p, noopReporter{})
	require.NoError(t, err)
	assert.Len(t, result["all_leads"], 3)
	assert.Empty(t, result["qualified_leads"])
}

func TestAccountTask_OrgFailureIsFatal(t *testing.T) {
	orgs := sampleOrgs()
	orgs.orgErr = errors.New("apollo 502")
	tk := NewAccountTask(&fakeTech{}, orgs, &fakePages{}, &scriptedLLM{}, testPools(t), "m", nil)

	p, _ := tk.CreatePayload(map[string]any{"account_id": "a", "domain": "acme.example"})
	_, err := tk.Execute(context.Background(), p, noopReporter{})
	require.Error(t, err)
	assert.Equal(t, task.KindProvider, task.KindOf(err))
}

func TestAccountTask_CreatePayloadValidation(t *testing.T) {
	tk := NewAccountTask(&fakeTech{}, &fakeOrgs{}, &fakePages{}, &scriptedLLM{}, testPools(t), "m", nil)

	_, err := tk.CreatePayload(map[string]any{"domain": "acme.example"})
	assert.Equal(t, task.KindValidation, task.KindOf(err))
	_, err = tk.CreatePayload(map[string]any{"account_id": "a"})
	assert.Equal(t, task.KindValidation, task.KindOf(err))
}

func TestLeadTask_Pipeline(t *testing.T) {
	llm := &scriptedLLM{answers: map[string]string{
		"Summarize this professional profile": `{"summary": "VP with 10 years in manufacturing", "seniority": "vp"}`,
	}}
	tk := NewLeadTask(
		&fakeCollector{rows: []json.RawMessage{json.RawMessage(`{"name": "Jane Doe", "position": "VP Sales"}`)}},
		llm, testPools(t), "gemini-2.0-flash", nil)

	p, err := tk.CreatePayload(map[string]any{
		"lead_id": "lead-1", "linkedin_url": "https://linkedin.com/in/jane", "account_id": "acct-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", p.LeadID)

	result, err := tk.Execute(context.Background(), p, noopReporter{})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", result["lead_id"])
	summary := result["summary"].(map[string]any)
	assert.Contains(t, summary["summary"], "manufacturing")
}

func TestLeadTask_NoProfileData(t *testing.T) {
	tk := NewLeadTask(&fakeCollector{rows: nil}, &scriptedLLM{}, testPools(t), "m", nil)
	p, _ := tk.CreatePayload(map[string]any{"lead_id": "l", "linkedin_url": "https://linkedin.com/in/x"})

	_, err := tk.Execute(context.Background(), p, noopReporter{})
	require.Error(t, err)
	assert.Equal(t, task.KindNotFound, task.KindOf(err))
}

func TestColumnTask_AllEntitiesSucceed(t *testing.T) {
	llm := &scriptedLLM{answers: map[string]string{
		"Generate the": `{"value": "expansion-ready", "confidence": 0.8}`,
	}}
	tk := NewColumnTask(
		&fakeEntities{records: map[string]map[string]any{
			"e1": {"name": "Acme"}, "e2": {"name": "Globex"},
		}},
		llm, testPools(t), "m", nil)

	p, err := tk.CreatePayload(map[string]any{
		"column": "growth_signal", "entity_ids": []any{"e1", "e2"}, "tenant_id": "tenant-1",
	})
	require.NoError(t, err)

	result, err := tk.Execute(context.Background(), p, noopReporter{})
	require.NoError(t, err)
	values := result["values"].(map[string]any)
	require.Len(t, values, 2)
	assert.Equal(t, "expansion-ready", values["e1"].(map[string]any)["value"])
}

func TestColumnTask_PartialFailure(t *testing.T) {
	llm := &scriptedLLM{
		answers: map[string]string{"Generate the": `{"value": "ok"}`},
		errFor:  "Globex",
	}
	tk := NewColumnTask(
		&fakeEntities{records: map[string]map[string]any{
			"e1": {"name": "Acme"}, "e2": {"name": "Globex"},
		}},
		llm, testPools(t), "m", nil)

	p, _ := tk.CreatePayload(map[string]any{"column": "growth_signal", "entity_ids": []any{"e1", "e2", "e3"}})
	result, err := tk.Execute(context.Background(), p, noopReporter{})

	require.Error(t, err)
	assert.Equal(t, task.KindPartial, task.KindOf(err))

	var te *task.Error
	require.ErrorAs(t, err, &te)
	require.Len(t, te.Partial, 2)

	values := result["values"].(map[string]any)
	assert.Contains(t, values, "e1")
	assert.NotContains(t, values, "e2")
}

func TestColumnTask_TotalFailure(t *testing.T) {
	tk := NewColumnTask(&fakeEntities{records: map[string]map[string]any{}}, &scriptedLLM{}, testPools(t), "m", nil)

	p, _ := tk.CreatePayload(map[string]any{"column": "c", "entity_ids": []any{"e1", "e2"}})
	_, err := tk.Execute(context.Background(), p, noopReporter{})
	require.Error(t, err)
	assert.Equal(t, task.KindProvider, task.KindOf(err))
	assert.Contains(t, err.Error(), "all 2 entities")
}
