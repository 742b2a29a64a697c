package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.Candidate, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Candidate), args.Error(1)
}

func (m *mockStore) UpsertCandidate(ctx context.Context, c *model.Candidate) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockStore) UpsertContact(ctx context.Context, domain string, p *model.Person) error {
	args := m.Called(ctx, domain, p)
	return args.Error(0)
}

// --- Suppressor Mock ---

type mockSuppressor struct {
	mock.Mock
}

func (m *mockSuppressor) IsAllowed(ctx context.Context, c *model.Candidate) (bool, error) {
	args := m.Called(ctx, c)
	return args.Bool(0), args.Error(1)
}

// --- Discovery Mock ---

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, q model.DiscoveryQuery) ([]model.Candidate, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Candidate), args.Error(1)
}

// --- Company Enrichment Mock ---

type mockCompanyEnricher struct {
	mock.Mock
}

func (m *mockCompanyEnricher) EnrichCompany(ctx context.Context, c *model.Candidate) (*model.Candidate, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Candidate), args.Error(1)
}

// --- Contact Discovery Mock ---

type mockContactDiscoverer struct {
	mock.Mock
}

func (m *mockContactDiscoverer) DiscoverContacts(ctx context.Context, c *model.Candidate) ([]model.Person, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Person), args.Error(1)
}

// --- Verifier Mock ---

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyEmail(ctx context.Context, fullName, companyName, domain string) (*model.Verification, error) {
	args := m.Called(ctx, fullName, companyName, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Verification), args.Error(1)
}

// --- Contact Enrichment Mock ---

type mockContactEnricher struct {
	mock.Mock
}

func (m *mockContactEnricher) EnrichContact(ctx context.Context, p *model.Person, c *model.Candidate) (*model.Person, error) {
	args := m.Called(ctx, p, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Person), args.Error(1)
}
