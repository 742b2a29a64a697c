package webhook

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/payload"
)

// Endpoint is a webhook URL with its per-attempt timeout.
type Endpoint struct {
	URL     string
	Timeout time.Duration
}

// Discovery finds new candidate companies.
type Discovery struct {
	client   *Client
	endpoint Endpoint
}

// NewDiscovery creates a discovery webhook client.
func NewDiscovery(c *Client, ep Endpoint) *Discovery {
	return &Discovery{client: c, endpoint: ep}
}

// Discover posts q and returns the companies in the response. Records
// without a usable domain are dropped.
func (d *Discovery) Discover(ctx context.Context, q model.DiscoveryQuery) ([]model.Candidate, error) {
	resp, err := d.client.Post(ctx, "discovery", d.endpoint.URL, d.endpoint.Timeout, discoveryPayload(q))
	if err != nil {
		return nil, eris.Wrap(err, "webhook: discover")
	}
	return ParseCompanies(resp), nil
}

func discoveryPayload(q model.DiscoveryQuery) map[string]any {
	suppression := payload.DedupeStrings(q.Suppression)
	for i, s := range suppression {
		suppression[i] = strings.ToLower(s)
	}
	sort.Strings(suppression)

	location := q.Location
	if location == "" {
		location = strings.TrimSpace(strings.Join(nonEmpty(q.City, q.State), ", "))
	}
	body := map[string]any{
		"location":         location,
		"state":            q.State,
		"pms":              q.PMS,
		"quantity":         q.Quantity,
		"suppression_list": suppression,
		"requirements":     q.Requirements,
		"attempt":          q.Attempt,
	}
	if q.UnitMin != nil {
		body["unit_count_min"] = *q.UnitMin
	}
	if q.UnitMax != nil {
		body["unit_count_max"] = *q.UnitMax
	}
	return body
}

// ParseCompanies extracts company records from a discovery response.
func ParseCompanies(resp any) []model.Candidate {
	inner := unwrap(resp, jsonText, messageContent, singleton, keyed("companies", "final_results", "results"))
	var out []model.Candidate
	for _, m := range records(inner, jsonText, messageContent) {
		if c, ok := parseCompany(m); ok {
			out = append(out, c)
		}
	}
	return out
}

func parseCompany(m map[string]any) (model.Candidate, bool) {
	c := model.Candidate{
		Name:   payload.String(m, "company_name", "name", "company"),
		City:   payload.String(m, "city", "hq_city", "headquarters_city"),
		State:  payload.String(m, "state", "hq_state", "headquarters_state"),
		Region: payload.String(m, "region"),
		Source: "discovery",
	}

	var locWebsite string
	switch loc := m["location"].(type) {
	case map[string]any:
		fill(&c.City, payload.String(loc, "headquarters_city", "hq_city", "city"))
		fill(&c.State, payload.String(loc, "state", "headquarters_state", "region"))
		locWebsite = payload.String(loc, "website")
		c.Location = strings.Join(nonEmpty(c.City, c.State), ", ")
	case string:
		c.Location = strings.TrimSpace(loc)
	}

	c.Domain = model.NormalizeDomain(firstNonEmpty(
		payload.String(m, "domain"),
		payload.String(m, "website"),
		locWebsite,
		payload.String(m, "portal_url"),
		provenanceURL(m["website_provenance"]),
	))
	if c.Domain == "" {
		return c, false
	}

	c.Website = payload.String(m, "website")
	fill(&c.Website, locWebsite)
	fill(&c.Website, "https://"+c.Domain)
	c.CompanyURL = payload.String(m, "company_url")
	fill(&c.CompanyURL, c.Website)

	c.StateOfOperations = payload.Strings(m["service_areas"])
	if v, ok := estimate(m["estimated_units_managed"]); ok {
		c.UnitCount = &v
	} else if v, ok := firstInt(m, "units", "unit_count"); ok {
		c.UnitCount = &v
	}
	if v, ok := estimate(m["estimated_employee_count"]); ok {
		c.EmployeeCount = &v
	} else if v, ok := firstInt(m, "employees", "employee_count"); ok {
		c.EmployeeCount = &v
	}
	c.PMS = parsePMS(m["identified_pms"])
	fill(&c.PMS, payload.String(m, "pms", "software"))
	return c, true
}

// estimate reads a count given as a number, a numeric string, or an object
// with an estimate or a "low-high" range.
func estimate(v any) (int, bool) {
	if m, ok := v.(map[string]any); ok {
		if n, ok := payload.Int(m["estimate"]); ok {
			return n, true
		}
		return rangeLow(m["range"])
	}
	if n, ok := payload.Int(v); ok {
		return n, true
	}
	return rangeLow(v)
}

// rangeLow returns the lower bound of a range such as "100-250" or [100, 250].
func rangeLow(v any) (int, bool) {
	switch r := v.(type) {
	case []any:
		if len(r) > 0 {
			return payload.Int(r[0])
		}
	case string:
		lo, _, _ := strings.Cut(r, "-")
		return payload.Int(strings.TrimSuffix(strings.TrimSpace(lo), "+"))
	}
	return 0, false
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if n, ok := payload.Int(m[k]); ok {
			return n, true
		}
	}
	return 0, false
}

// parsePMS reads identified_pms given as a name, an object or a list.
func parsePMS(v any) string {
	switch p := v.(type) {
	case string:
		return strings.TrimSpace(p)
	case map[string]any:
		return payload.String(p, "name", "pms")
	case []any:
		for _, item := range p {
			if s := parsePMS(item); s != "" {
				return s
			}
		}
	}
	return ""
}

func provenanceURL(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case map[string]any:
		return payload.String(p, "url", "website", "source")
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
