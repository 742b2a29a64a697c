package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/checkpoint"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/planner"
)

func matchDomain(domain string) any {
	return mock.MatchedBy(func(c *model.Candidate) bool { return c.Domain == domain })
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.EnrichmentConcurrency = 3
	cfg.Pipeline.BufferSteps = []planner.Step{{Limit: 10, Multiplier: 1.9}}

	stored := candidates("store", 2)
	store := &mockStore{}
	store.On("FindCandidates", mock.Anything, mock.Anything).Return(stored, nil)
	store.On("UpsertCandidate", mock.Anything, mock.Anything).Return(nil)
	store.On("UpsertContact", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// Nine discovered, one of which repeats a stored domain.
	found := append([]model.Candidate{candidate("store1.com")}, candidates("disc", 8)...)
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.MatchedBy(func(q model.DiscoveryQuery) bool {
		return q.Quantity == 8 && q.Attempt == 1 &&
			assert.ObjectsAreEqual([]string{"store1.com", "store2.com"}, q.Suppression)
	})).Return(found, nil).Once()

	succeed := []string{"store1.com", "disc2.com", "disc4.com", "disc5.com", "disc7.com", "disc8.com"}
	fail := []string{"store2.com", "disc1.com", "disc3.com", "disc6.com"}

	companies := &mockCompanyEnricher{}
	verifier := &mockVerifier{}
	for i, d := range succeed {
		c := candidate(d)
		first := []string{"Alice", "Brian", "Carla", "David", "Elena", "Frank"}[i]
		companies.On("EnrichCompany", mock.Anything, matchDomain(d)).Return(enrichedWithContact(&c, first, "Moss"), nil)
		verifier.On("VerifyEmail", mock.Anything, first+" Moss", c.Name, d).Return(verified(first+"@"+d), nil)
	}
	for _, d := range fail {
		companies.On("EnrichCompany", mock.Anything, matchDomain(d)).Return(nil, eris.New("enrichment webhook: status 502"))
	}

	contacts := &mockContactEnricher{}
	contacts.On("EnrichContact", mock.Anything, mock.Anything, mock.Anything).
		Return(withEvidence(&model.Person{}), nil)

	o, _ := newTestOrchestrator(t, cfg, Deps{
		Store:     store,
		Discovery: disc,
		Companies: companies,
		Verifier:  verifier,
		Contacts:  contacts,
	})

	res, err := o.Run(context.Background(), model.RequestParams{Quantity: 5})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 10, res.BufferTarget)
	assert.Equal(t, 5, res.Returned)
	require.Len(t, res.Companies, 5)

	seen := map[string]bool{}
	for _, l := range res.Companies {
		assert.False(t, seen[l.Company.Domain], "duplicate company %s", l.Company.Domain)
		seen[l.Company.Domain] = true
		assert.Contains(t, succeed, l.Company.Domain)
		require.NotEmpty(t, l.Contacts)
		assert.True(t, l.Contacts[0].EmailVerified)
		assert.NotEmpty(t, l.Contacts[0].Email)
		assert.Equal(t, "thresholds_met", l.Contacts[0].QualityReason)
	}

	counters := res.Metrics.Counters
	assert.Equal(t, int64(2), counters["source_loaded"])
	assert.Equal(t, int64(9), counters["discovered"])
	assert.Equal(t, int64(1), counters["duplicates"])
	assert.Equal(t, int64(1), counters["discovery_rounds"])
	assert.Equal(t, int64(0), counters["topup_rounds"])
	disc.AssertNumberOfCalls(t, "Discover", 1)

	for _, name := range []string{inputFile, outputFile, metricsFile, summaryFile, runLogFile, checkpoint.FileName} {
		assert.FileExists(t, filepath.Join(res.RunDir, name))
	}
	assert.NoFileExists(t, filepath.Join(res.RunDir, partialFile))

	data, err := os.ReadFile(filepath.Join(res.RunDir, outputFile))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(5), out["companies_returned"])
	assert.Equal(t, res.RunID, out["run_id"])

	snap, ok := checkpoint.New(res.RunDir, 0).Load()
	require.True(t, ok)
	assert.Equal(t, string(PhaseDone), snap.Phase)
}

func TestRun_InsufficientResults(t *testing.T) {
	cfg := testConfig(t)

	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.Anything).Return(candidates("only", 2), nil).Once()
	disc.On("Discover", mock.Anything, mock.Anything).Return([]model.Candidate{}, nil)

	companies := &mockCompanyEnricher{}
	verifier := &mockVerifier{}
	for i, c := range candidates("only", 2) {
		first := []string{"Grace", "Henry"}[i]
		companies.On("EnrichCompany", mock.Anything, matchDomain(c.Domain)).Return(enrichedWithContact(&c, first, "Lane"), nil)
		verifier.On("VerifyEmail", mock.Anything, first+" Lane", mock.Anything, mock.Anything).Return(verified(first+"@"+c.Domain), nil)
	}

	cfg.Quality.Evidence.MinTotal = 0
	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: companies, Verifier: verifier})

	res, err := o.Run(context.Background(), model.RequestParams{Quantity: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientResults)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Returned)
	assert.Len(t, res.Companies, 2)
	assert.Positive(t, res.Metrics.Counters["topup_rounds"])

	assert.FileExists(t, filepath.Join(res.RunDir, partialFile))
	assert.FileExists(t, filepath.Join(res.RunDir, metricsFile))
	assert.FileExists(t, filepath.Join(res.RunDir, summaryFile))
	assert.NoFileExists(t, filepath.Join(res.RunDir, outputFile))

	summary, err := os.ReadFile(filepath.Join(res.RunDir, summaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "insufficient results")

	snap, ok := checkpoint.New(res.RunDir, 0).Load()
	require.True(t, ok)
	assert.Equal(t, string(PhaseFailed), snap.Phase)
}

func TestRun_SourceStoreFailureDegrades(t *testing.T) {
	cfg := testConfig(t)

	store := &mockStore{}
	store.On("FindCandidates", mock.Anything, mock.Anything).Return(nil, eris.New("connection refused"))
	store.On("UpsertCandidate", mock.Anything, mock.Anything).Return(eris.New("connection refused"))

	c := candidate("solo.com")
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.Anything).Return([]model.Candidate{c}, nil).Once()
	disc.On("Discover", mock.Anything, mock.Anything).Return(nil, nil)

	companies := &mockCompanyEnricher{}
	companies.On("EnrichCompany", mock.Anything, matchDomain("solo.com")).Return(enrichedWithContact(&c, "Irene", "Park"), nil)
	verifier := &mockVerifier{}
	verifier.On("VerifyEmail", mock.Anything, "Irene Park", mock.Anything, "solo.com").Return(verified("irene@solo.com"), nil)

	cfg.Quality.Evidence.MinTotal = 0
	o, _ := newTestOrchestrator(t, cfg, Deps{Store: store, Discovery: disc, Companies: companies, Verifier: verifier})

	res, err := o.Run(context.Background(), model.RequestParams{Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Returned)
	assert.Equal(t, "solo.com", res.Companies[0].Company.Domain)
	store.AssertNotCalled(t, "UpsertContact", mock.Anything, mock.Anything, mock.Anything)

	var storeErrors int
	for _, e := range res.Metrics.Errors {
		if e.Service == ServiceStore {
			storeErrors++
		}
	}
	assert.Equal(t, 2, storeErrors)
}

func TestRun_Canceled(t *testing.T) {
	cfg := testConfig(t)
	disc := &mockDiscoverer{}
	companies := &mockCompanyEnricher{}

	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: companies})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, model.RequestParams{Quantity: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Zero(t, res.Returned)
	disc.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything)
	assert.FileExists(t, filepath.Join(res.RunDir, partialFile))
}

func TestRun_PanicPersistsFailureArtifacts(t *testing.T) {
	cfg := testConfig(t)
	store := &mockStore{}
	store.On("FindCandidates", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("store driver bug") }).
		Return(nil, nil)

	o, _ := newTestOrchestrator(t, cfg, Deps{Store: store, Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})

	var (
		res *Result
		err error
	)
	require.NotPanics(t, func() {
		res, err = o.Run(context.Background(), model.RequestParams{Quantity: 2})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: panic in loading_source")
	assert.Contains(t, err.Error(), "store driver bug")
	require.NotNil(t, res)
	assert.Zero(t, res.Returned)

	for _, name := range []string{partialFile, metricsFile, summaryFile, checkpoint.FileName} {
		assert.FileExists(t, filepath.Join(res.RunDir, name))
	}
	snap, ok := checkpoint.New(res.RunDir, 0).Load()
	require.True(t, ok)
	assert.Equal(t, string(PhaseFailed), snap.Phase)
	assert.Contains(t, snap.Payload["error"], "store driver bug")
}

func TestRun_QuantityClamped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.MaxCompaniesPerRun = 4
	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})

	q, target, mult := o.Plan(50)
	assert.Equal(t, 4, q)
	assert.Equal(t, 4, target) // capped by max intake
	assert.InDelta(t, 3.0, mult, 0.001)

	q, target, mult = o.Plan(0)
	assert.Equal(t, 1, q)
	assert.Equal(t, 4, target)
	assert.InDelta(t, 4.0, mult, 0.001)
}

func TestNew_BreakersDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.Enabled = false
	o := New(cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})
	assert.Nil(t, o.Breakers())

	cfg.Breaker.Enabled = true
	o = New(cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})
	require.NotNil(t, o.Breakers())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	assert.Panics(t, func() { New(testConfig(t), Deps{}) })
}

func TestFinalGate_TrimsToRequested(t *testing.T) {
	cfg := testConfig(t)
	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 2})

	leads := []model.Lead{
		{Company: candidate("a.com")},
		{Company: candidate("a.com")},
		{Company: candidate("b.com")},
		{Company: candidate("c.com")},
	}
	out, err := o.finalGate(context.Background(), rc, leads)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a.com", out[0].Company.Domain)
	assert.Equal(t, "b.com", out[1].Company.Domain)
}
