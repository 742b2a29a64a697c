package webhook

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/payload"
)

// ContactDiscovery finds people at a company.
type ContactDiscovery struct {
	client   *Client
	endpoint Endpoint
}

// NewContactDiscovery creates a contact-discovery webhook client.
func NewContactDiscovery(c *Client, ep Endpoint) *ContactDiscovery {
	return &ContactDiscovery{client: c, endpoint: ep}
}

// DiscoverContacts returns the distinct named people found for c.
func (d *ContactDiscovery) DiscoverContacts(ctx context.Context, c *model.Candidate) ([]model.Person, error) {
	if c == nil {
		return nil, eris.New("webhook: discover contacts: nil candidate")
	}
	body := map[string]any{
		"company_name":   c.Name,
		"company_domain": c.Key(),
		"company_city":   c.City,
		"company_state":  c.State,
		"domain":         c.Key(),
		"website":        firstNonEmpty(c.Website, c.CompanyURL),
		"hq_city":        c.City,
		"hq_state":       c.State,
	}
	resp, err := d.client.Post(ctx, "contact_discovery", d.endpoint.URL, d.endpoint.Timeout, body)
	if err != nil {
		return nil, eris.Wrapf(err, "webhook: discover contacts %s", c.Key())
	}
	return ParseContacts(resp), nil
}

// ParseContacts extracts contact-shaped records from resp, dropping
// nameless entries and repeats of the same name, email and profile.
func ParseContacts(resp any) []model.Person {
	inner := unwrap(resp, jsonText, messageContent, singleton)
	var found []map[string]any
	if m, ok := inner.(map[string]any); ok && payload.LooksLikeContact(m) {
		found = []map[string]any{m}
	} else {
		found = payload.FindContacts(inner)
	}

	seen := make(map[string]struct{}, len(found))
	var out []model.Person
	for _, m := range found {
		p := model.Person{
			FullName: payload.String(m, "full_name", "name"),
			Title:    payload.String(m, "title", "role", "job_title"),
			Email:    payload.String(m, "email"),
			LinkedIn: payload.String(m, "linkedin", "linkedin_url"),
			Domain:   payload.String(m, "domain"),
			Source:   "contact_discovery",
		}
		if p.FullName == "" {
			continue
		}
		key := strings.ToLower(p.FullName + "|" + p.Email + "|" + p.LinkedIn)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// ContactEnricher gathers personal and professional evidence about a person.
type ContactEnricher struct {
	client   *Client
	endpoint Endpoint
}

// NewContactEnricher creates a contact-enrichment webhook client.
func NewContactEnricher(c *Client, ep Endpoint) *ContactEnricher {
	return &ContactEnricher{client: c, endpoint: ep}
}

// EnrichContact researches p at company c. It returns nil when the response
// is empty.
func (e *ContactEnricher) EnrichContact(ctx context.Context, p *model.Person, c *model.Candidate) (*model.Person, error) {
	if p == nil {
		return nil, eris.New("webhook: enrich contact: nil person")
	}
	body := map[string]any{
		"contact": compact(map[string]any{
			"full_name": p.FullName,
			"title":     p.Title,
			"email":     p.Email,
			"linkedin":  p.LinkedIn,
			"seed_urls": p.SeedURLs,
		}),
	}
	if c != nil {
		body["company"] = compact(map[string]any{
			"name":    c.Name,
			"domain":  c.Key(),
			"website": firstNonEmpty(c.Website, c.CompanyURL),
			"city":    c.City,
			"state":   c.State,
		})
	}
	resp, err := e.client.Post(ctx, "contact_enrichment", e.endpoint.URL, e.endpoint.Timeout, body)
	if err != nil {
		return nil, eris.Wrapf(err, "webhook: enrich contact %q", p.FullName)
	}
	return ParseContactEnrichment(resp), nil
}

// ParseContactEnrichment extracts evidence lists and the summary from resp.
// The unwrapped response is kept in Raw for later salvage.
func ParseContactEnrichment(resp any) *model.Person {
	inner := unwrap(resp, jsonText, head, messageContent)
	var raw map[string]any
	switch v := inner.(type) {
	case map[string]any:
		raw = v
	case string:
		if s := strings.TrimSpace(v); s != "" {
			raw = map[string]any{"output": s}
		}
	}
	if len(raw) == 0 {
		return nil
	}
	return &model.Person{
		PersonalAnecdotes:     payload.ExtractList(raw, "personal"),
		ProfessionalAnecdotes: payload.ExtractList(raw, "professional"),
		SeedURLs:              payload.ExtractList(raw, "seed_urls"),
		Sources:               payload.ExtractList(raw, "sources"),
		Summary:               payload.ExtractString(raw, "agent_summary", "summary", "output"),
		Personalization:       payload.ExtractString(raw, "personalization"),
		Raw:                   raw,
	}
}
