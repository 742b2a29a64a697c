package pipeline

import (
	"context"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/planner"
)

// SourceStore supplies existing candidates and receives enriched leads.
type SourceStore interface {
	FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.Candidate, error)
	UpsertCandidate(ctx context.Context, c *model.Candidate) error
	UpsertContact(ctx context.Context, domain string, p *model.Person) error
}

// Suppressor decides whether a candidate may be contacted.
type Suppressor interface {
	IsAllowed(ctx context.Context, c *model.Candidate) (bool, error)
}

// Discoverer finds new candidates for a query.
type Discoverer interface {
	Discover(ctx context.Context, q model.DiscoveryQuery) ([]model.Candidate, error)
}

// CompanyEnricher researches a candidate. A nil result with a nil error
// means enrichment produced nothing.
type CompanyEnricher interface {
	EnrichCompany(ctx context.Context, c *model.Candidate) (*model.Candidate, error)
}

// ContactDiscoverer finds people at an enriched company.
type ContactDiscoverer interface {
	DiscoverContacts(ctx context.Context, c *model.Candidate) ([]model.Person, error)
}

// Verifier finds and verifies an email address for a person.
type Verifier interface {
	VerifyEmail(ctx context.Context, fullName, companyName, domain string) (*model.Verification, error)
}

// ContactEnricher gathers evidence about a verified person.
type ContactEnricher interface {
	EnrichContact(ctx context.Context, p *model.Person, c *model.Candidate) (*model.Person, error)
}

// Deps bundles the orchestrator's collaborators. Discovery and Companies are
// required; the rest may be nil.
type Deps struct {
	Store            SourceStore
	Suppressor       Suppressor
	Discovery        Discoverer
	Companies        CompanyEnricher
	ContactDiscovery ContactDiscoverer
	Verifier         Verifier
	Contacts         ContactEnricher
	Splitter         planner.Splitter
}
