package callback

// Lead list keys recognized in processed_data. Pagination realigns all
// three lists by lead ID so every page is internally consistent.
const (
	keyAllLeads        = "all_leads"
	keyQualifiedLeads  = "qualified_leads"
	keyStructuredLeads = "structured_leads"
)

// DefaultLeadsPerPage is the fragment size for paginated terminal
// deliveries.
const DefaultLeadsPerPage = 20

// leadList extracts a lead list from processed_data. Entries without a
// string "id" get no key and are carried in the first page they appear in.
func leadList(data map[string]any, key string) []map[string]any {
	raw, ok := data[key].([]any)
	if !ok {
		return nil
	}
	leads := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			leads = append(leads, m)
		}
	}
	return leads
}

func leadID(lead map[string]any) string {
	id, _ := lead["id"].(string)
	return id
}

// indexByID builds an id-keyed map preserving nothing about order; ordering
// is owned by the canonical ID list.
func indexByID(leads []map[string]any) map[string]map[string]any {
	idx := make(map[string]map[string]any, len(leads))
	for _, lead := range leads {
		if id := leadID(lead); id != "" {
			idx[id] = lead
		}
	}
	return idx
}

// canonicalOrder returns the deterministic lead ID ordering: all_leads
// first, then qualified IDs not yet seen, then structured IDs not yet seen.
func canonicalOrder(all, qualified, structured []map[string]any) []string {
	seen := make(map[string]bool)
	var order []string
	appendIDs := func(leads []map[string]any) {
		for _, lead := range leads {
			id := leadID(lead)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			order = append(order, id)
		}
	}
	appendIDs(all)
	appendIDs(qualified)
	appendIDs(structured)
	return order
}

// Paginate splits a terminal envelope into ordered, ID-aligned pages. When
// the lead count does not exceed leadsPerPage the envelope is returned
// unchanged as a single-element slice, preserving the single-shot path.
func Paginate(env *Envelope, leadsPerPage int) []*Envelope {
	if leadsPerPage <= 0 {
		leadsPerPage = DefaultLeadsPerPage
	}

	all := leadList(env.ProcessedData, keyAllLeads)
	qualified := leadList(env.ProcessedData, keyQualifiedLeads)
	structured := leadList(env.ProcessedData, keyStructuredLeads)

	order := canonicalOrder(all, qualified, structured)
	if len(order) <= leadsPerPage {
		return []*Envelope{env}
	}

	allIdx := indexByID(all)
	qualifiedIdx := indexByID(qualified)
	structuredIdx := indexByID(structured)

	totalPages := (len(order) + leadsPerPage - 1) / leadsPerPage
	pages := make([]*Envelope, 0, totalPages)

	for page := 1; page <= totalPages; page++ {
		start := (page - 1) * leadsPerPage
		end := min(start+leadsPerPage, len(order))
		chunk := order[start:end]

		pick := func(idx map[string]map[string]any) []any {
			var out []any
			for _, id := range chunk {
				if lead, ok := idx[id]; ok {
					out = append(out, lead)
				}
			}
			return out
		}
		pageAll := pick(allIdx)
		pageQualified := pick(qualifiedIdx)
		pageStructured := pick(structuredIdx)

		dup := env.clone()
		data := make(map[string]any, len(env.ProcessedData))
		for k, v := range env.ProcessedData {
			data[k] = v
		}
		data[keyAllLeads] = pageAll
		data[keyQualifiedLeads] = pageQualified
		data[keyStructuredLeads] = pageStructured
		dup.ProcessedData = data
		dup.Pagination = &Pagination{
			Page:         page,
			TotalPages:   totalPages,
			LeadsPerPage: leadsPerPage,
			TotalLeads:   len(order),
			CurrentChunk: map[string]int{
				keyAllLeads:        len(pageAll),
				keyQualifiedLeads:  len(pageQualified),
				keyStructuredLeads: len(pageStructured),
			},
		}
		pages = append(pages, dup)
	}
	return pages
}
