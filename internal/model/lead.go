package model

import "strings"

// Candidate is a company record flowing through discovery, enrichment,
// and the final result set. Domain is the identity key.
type Candidate struct {
	Domain            string         `json:"domain"`
	Name              string         `json:"company_name,omitempty"`
	Website           string         `json:"website,omitempty"`
	CompanyURL        string         `json:"company_url,omitempty"`
	Location          string         `json:"location,omitempty"`
	City              string         `json:"city,omitempty"`
	State             string         `json:"state,omitempty"`
	Region            string         `json:"region,omitempty"`
	PMS               string         `json:"pms,omitempty"`
	UnitCount         *int           `json:"unit_count,omitempty"`
	EmployeeCount     *int           `json:"employee_count,omitempty"`
	ICPFit            *bool          `json:"icp_fit,omitempty"`
	ICPTier           string         `json:"icp_tier,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	Disqualifiers     []string       `json:"disqualifiers,omitempty"`
	PositiveSignals   []string       `json:"positive_signals,omitempty"`
	StateOfOperations []string       `json:"state_of_operations,omitempty"`
	DecisionMakers    []Person       `json:"decision_makers,omitempty"`
	Source            string         `json:"source,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Merge fills empty fields of c from other. ICP classification and decision
// makers are taken from other whenever other carries them, since enrichment
// is authoritative for those.
func (c *Candidate) Merge(other *Candidate) {
	if other == nil {
		return
	}
	fillString(&c.Domain, other.Domain)
	fillString(&c.Name, other.Name)
	fillString(&c.Website, other.Website)
	fillString(&c.CompanyURL, other.CompanyURL)
	fillString(&c.Location, other.Location)
	fillString(&c.City, other.City)
	fillString(&c.State, other.State)
	fillString(&c.Region, other.Region)
	fillString(&c.PMS, other.PMS)
	fillString(&c.Summary, other.Summary)
	fillString(&c.Source, other.Source)
	if c.UnitCount == nil && other.UnitCount != nil {
		v := *other.UnitCount
		c.UnitCount = &v
	}
	if c.EmployeeCount == nil && other.EmployeeCount != nil {
		v := *other.EmployeeCount
		c.EmployeeCount = &v
	}
	if len(c.Disqualifiers) == 0 {
		c.Disqualifiers = append([]string(nil), other.Disqualifiers...)
	}
	if len(c.PositiveSignals) == 0 {
		c.PositiveSignals = append([]string(nil), other.PositiveSignals...)
	}
	if len(c.StateOfOperations) == 0 {
		c.StateOfOperations = append([]string(nil), other.StateOfOperations...)
	}

	// Override fields.
	if other.ICPFit != nil {
		v := *other.ICPFit
		c.ICPFit = &v
	}
	if other.ICPTier != "" {
		c.ICPTier = other.ICPTier
	}
	if len(other.DecisionMakers) > 0 {
		c.DecisionMakers = append([]Person(nil), other.DecisionMakers...)
	}

	for k, v := range other.Extra {
		if c.Extra == nil {
			c.Extra = make(map[string]any, len(other.Extra))
		}
		if _, ok := c.Extra[k]; !ok {
			c.Extra[k] = v
		}
	}
}

// Clone returns a deep-enough copy of c for concurrent mutation.
func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}
	out := &Candidate{}
	out.Merge(c)
	return out
}

// Key returns the normalized identity key of the candidate.
func (c *Candidate) Key() string {
	if c == nil {
		return ""
	}
	if d := NormalizeDomain(c.Domain); d != "" {
		return d
	}
	if d := NormalizeDomain(c.Website); d != "" {
		return d
	}
	return NormalizeDomain(c.CompanyURL)
}

// Person is a contact attached to a company.
type Person struct {
	FullName              string         `json:"full_name"`
	Title                 string         `json:"title,omitempty"`
	Email                 string         `json:"email,omitempty"`
	LinkedIn              string         `json:"linkedin,omitempty"`
	Domain                string         `json:"domain,omitempty"`
	Personalization       string         `json:"personalization,omitempty"`
	Summary               string         `json:"summary,omitempty"`
	PersonalAnecdotes     []string       `json:"personal_anecdotes,omitempty"`
	ProfessionalAnecdotes []string       `json:"professional_anecdotes,omitempty"`
	SeedURLs              []string       `json:"seed_urls,omitempty"`
	Sources               []string       `json:"sources,omitempty"`
	EmailVerified         bool           `json:"email_verified"`
	Verification          *Verification  `json:"verification,omitempty"`
	QualityReason         string         `json:"quality_reason,omitempty"`
	Source                string         `json:"source,omitempty"`
	Raw                   map[string]any `json:"-"`
}

// MergeEnrichment copies enrichment output onto p without discarding fields
// p already has.
func (p *Person) MergeEnrichment(e *Person) {
	if e == nil {
		return
	}
	fillString(&p.Title, e.Title)
	fillString(&p.Email, e.Email)
	fillString(&p.LinkedIn, e.LinkedIn)
	fillString(&p.Domain, e.Domain)
	if e.Personalization != "" {
		p.Personalization = e.Personalization
	}
	if e.Summary != "" {
		p.Summary = e.Summary
	}
	if len(e.PersonalAnecdotes) > 0 {
		p.PersonalAnecdotes = append([]string(nil), e.PersonalAnecdotes...)
	}
	if len(e.ProfessionalAnecdotes) > 0 {
		p.ProfessionalAnecdotes = append([]string(nil), e.ProfessionalAnecdotes...)
	}
	if len(e.SeedURLs) > 0 {
		p.SeedURLs = append([]string(nil), e.SeedURLs...)
	}
	if len(e.Sources) > 0 {
		p.Sources = append([]string(nil), e.Sources...)
	}
	if e.Raw != nil {
		p.Raw = e.Raw
	}
}

// Verification is the result of an email verification call.
type Verification struct {
	Email     string         `json:"email,omitempty"`
	Verified  bool           `json:"verified"`
	RoleBased bool           `json:"role_based,omitempty"`
	Raw       map[string]any `json:"-"`
}

// Lead is a finished result entry: an accepted company with its verified
// contacts.
type Lead struct {
	Company  Candidate `json:"company"`
	Contacts []Person  `json:"contacts"`
}

func fillString(dst *string, src string) {
	if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
		*dst = src
	}
}
