package webhook

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/payload"
)

// defaultMissingFields are requested from company research when the
// candidate does not say otherwise.
var defaultMissingFields = []string{
	"units", "single_family_flag", "property_mix", "agent_summary",
	"pms", "employees", "decision_makers",
}

// CompanyEnricher researches candidate companies.
type CompanyEnricher struct {
	client   *Client
	endpoint Endpoint
}

// NewCompanyEnricher creates a company-enrichment webhook client.
func NewCompanyEnricher(c *Client, ep Endpoint) *CompanyEnricher {
	return &CompanyEnricher{client: c, endpoint: ep}
}

// EnrichCompany researches c. It returns nil when the response holds no
// company record.
func (e *CompanyEnricher) EnrichCompany(ctx context.Context, c *model.Candidate) (*model.Candidate, error) {
	if c == nil {
		return nil, eris.New("webhook: enrich company: nil candidate")
	}
	resp, err := e.client.Post(ctx, "company_enrichment", e.endpoint.URL, e.endpoint.Timeout, companyPayload(c))
	if err != nil {
		return nil, eris.Wrapf(err, "webhook: enrich company %s", c.Key())
	}
	return ParseEnrichedCompany(resp, c), nil
}

func companyPayload(c *model.Candidate) map[string]any {
	domain := c.Key()
	website := c.Website
	fill(&website, c.CompanyURL)
	if website == "" && domain != "" {
		website = "https://" + domain
	}
	missing := payload.Strings(c.Extra["missing_fields"])
	if len(missing) == 0 {
		missing = defaultMissingFields
	}
	return map[string]any{
		"company_name":   c.Name,
		"domain":         domain,
		"website":        website,
		"company_url":    firstNonEmpty(c.CompanyURL, website),
		"city":           c.City,
		"state":          c.State,
		"hq_city":        c.City,
		"hq_state":       c.State,
		"missing_fields": missing,
	}
}

// ParseEnrichedCompany extracts the researched company from resp. Identity
// and geography absent from the response are filled from original.
func ParseEnrichedCompany(resp any, original *model.Candidate) *model.Candidate {
	rec := object(resp, jsonText, keyed("data"), head, messageContent)
	if len(rec) == 0 {
		return nil
	}

	// Nested sections take precedence over the top level.
	fields := make(map[string]any, len(rec))
	for k, v := range rec {
		fields[k] = v
	}
	for _, section := range []string{"extra_fields", "research_packet", "company"} {
		if sub, ok := rec[section].(map[string]any); ok {
			for k, v := range sub {
				fields[k] = v
			}
		}
	}

	out := &model.Candidate{
		Domain:     model.NormalizeDomain(firstNonEmpty(payload.String(fields, "domain"), payload.String(fields, "website"))),
		Name:       payload.String(fields, "company_name", "name"),
		Website:    payload.String(fields, "website"),
		CompanyURL: payload.String(fields, "company_url"),
		City:       payload.String(fields, "city", "hq_city"),
		State:      payload.String(fields, "state", "hq_state"),
		PMS:        payload.String(fields, "pms_vendor", "pms"),
		ICPTier:    payload.String(fields, "icp_tier"),
		Summary:    payload.String(fields, "summary", "agent_summary", "notes"),
		Source:     "company_enrichment",
	}
	if s, ok := rec["company"].(string); ok {
		fill(&out.Name, s)
	}
	if v, ok := firstInt(fields, "units_estimate", "unit_count", "units"); ok {
		out.UnitCount = &v
	} else if v, ok := estimate(fields["estimated_units_managed"]); ok {
		out.UnitCount = &v
	}
	if v, ok := firstInt(fields, "employees_estimate", "employee_count", "employees"); ok {
		out.EmployeeCount = &v
	}
	if fit, ok := payload.Bool(fields["icp_fit"]); ok {
		out.ICPFit = &fit
	}
	out.Disqualifiers = payload.Strings(fields["disqualifiers"])
	out.PositiveSignals = payload.Strings(fields["positive_signals"])
	out.StateOfOperations = payload.Strings(fields["service_areas"])

	if list, ok := fields["decision_makers"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if p, ok := parseDecisionMaker(m); ok {
				out.DecisionMakers = append(out.DecisionMakers, p)
			}
		}
	}

	if original != nil {
		fill(&out.Domain, original.Key())
		fill(&out.Name, original.Name)
		fill(&out.Website, original.Website)
		fill(&out.CompanyURL, original.CompanyURL)
		fill(&out.Location, original.Location)
		fill(&out.City, original.City)
		fill(&out.State, original.State)
		fill(&out.Region, original.Region)
		fill(&out.PMS, original.PMS)
	}
	return out
}

func parseDecisionMaker(m map[string]any) (model.Person, bool) {
	p := model.Person{
		FullName:        payload.String(m, "full_name", "name"),
		Title:           payload.String(m, "title", "role"),
		Email:           payload.String(m, "email"),
		LinkedIn:        payload.String(m, "linkedin", "linkedin_url"),
		Personalization: payload.String(m, "personalization"),
		Source:          payload.String(m, "source"),
	}
	if p.Source == "" {
		p.Source = "company_enrichment"
	}
	return p, p.FullName != ""
}
