package callback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLeads(prefix string, n int) []any {
	leads := make([]any, n)
	for i := range leads {
		leads[i] = map[string]any{
			"id":   fmt.Sprintf("%s-%03d", prefix, i),
			"name": fmt.Sprintf("Lead %d", i),
		}
	}
	return leads
}

func pickIDs(leads []any) []string {
	ids := make([]string, 0, len(leads))
	for _, l := range leads {
		m := l.(map[string]any)
		ids = append(ids, m["id"].(string))
	}
	return ids
}

func TestPaginate_SingleShotWhenSmall(t *testing.T) {
	env := &Envelope{
		JobID:  "job-1",
		Status: "completed",
		ProcessedData: map[string]any{
			keyAllLeads: makeLeads("lead", 20),
		},
	}

	pages := Paginate(env, 20)
	require.Len(t, pages, 1)
	assert.Same(t, env, pages[0])
	assert.Nil(t, pages[0].Pagination)
}

func TestPaginate_SplitsAndAlignsByID(t *testing.T) {
	all := makeLeads("lead", 45)
	// qualified and structured are subsets of all, in scrambled order
	qualified := []any{all[30], all[2], all[41]}
	structured := []any{all[41], all[5]}

	env := &Envelope{
		JobID:          "job-45",
		AccountID:      "acct-1",
		Status:         "completed",
		EnrichmentType: "account",
		ProcessedData: map[string]any{
			keyAllLeads:        all,
			keyQualifiedLeads:  qualified,
			keyStructuredLeads: structured,
			"summary":          "forty-five leads",
		},
	}

	pages := Paginate(env, 20)
	require.Len(t, pages, 3)

	sizes := []int{20, 20, 5}
	var seenAll []string
	for i, page := range pages {
		require.NotNil(t, page.Pagination)
		assert.Equal(t, i+1, page.Pagination.Page)
		assert.Equal(t, 3, page.Pagination.TotalPages)
		assert.Equal(t, 45, page.Pagination.TotalLeads)
		assert.Equal(t, 20, page.Pagination.LeadsPerPage)

		pageAll := page.ProcessedData[keyAllLeads].([]any)
		assert.Len(t, pageAll, sizes[i])
		seenAll = append(seenAll, pickIDs(pageAll)...)

		// every qualified/structured lead on a page must also be in the
		// page's all_leads chunk
		chunk := map[string]bool{}
		for _, id := range pickIDs(pageAll) {
			chunk[id] = true
		}
		for _, id := range pickIDs(page.ProcessedData[keyQualifiedLeads].([]any)) {
			assert.True(t, chunk[id], "qualified lead %s outside its chunk", id)
		}
		for _, id := range pickIDs(page.ProcessedData[keyStructuredLeads].([]any)) {
			assert.True(t, chunk[id], "structured lead %s outside its chunk", id)
		}

		// envelope identity fields carried on every page
		assert.Equal(t, "job-45", page.JobID)
		assert.Equal(t, "acct-1", page.AccountID)
		assert.Equal(t, "completed", page.Status)
		assert.Equal(t, "forty-five leads", page.ProcessedData["summary"])
	}

	// canonical order preserved across the union of pages
	assert.Equal(t, pickIDs(all), seenAll)

	// union of qualified leads across pages equals the original set
	var unionQualified []string
	for _, page := range pages {
		unionQualified = append(unionQualified, pickIDs(page.ProcessedData[keyQualifiedLeads].([]any))...)
	}
	assert.ElementsMatch(t, pickIDs(qualified), unionQualified)

	// original envelope untouched
	assert.Nil(t, env.Pagination)
	assert.Len(t, env.ProcessedData[keyAllLeads].([]any), 45)
}

func TestPaginate_QualifiedOnlyLeadsGetPages(t *testing.T) {
	// leads present only in qualified_leads still appear in the canonical
	// order after all_leads
	all := makeLeads("a", 20)
	extra := makeLeads("q", 5)

	env := &Envelope{
		JobID:  "job-q",
		Status: "completed",
		ProcessedData: map[string]any{
			keyAllLeads:       all,
			keyQualifiedLeads: extra,
		},
	}

	pages := Paginate(env, 20)
	require.Len(t, pages, 2)
	assert.Equal(t, pickIDs(all), pickIDs(pages[0].ProcessedData[keyAllLeads].([]any)))
	assert.Equal(t, pickIDs(extra), pickIDs(pages[1].ProcessedData[keyQualifiedLeads].([]any)))
	assert.Equal(t, 25, pages[0].Pagination.TotalLeads)
}

func TestCanonicalOrder_Deduplicates(t *testing.T) {
	a := map[string]any{"id": "a"}
	b := map[string]any{"id": "b"}
	c := map[string]any{"id": "c"}

	order := canonicalOrder(
		[]map[string]any{a, b},
		[]map[string]any{b, c},
		[]map[string]any{c, a},
	)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
