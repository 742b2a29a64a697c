package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/planner"
)

// discoverFunc adapts a function to Discoverer.
type discoverFunc func(ctx context.Context, q model.DiscoveryQuery) ([]model.Candidate, error)

func (f discoverFunc) Discover(ctx context.Context, q model.DiscoveryQuery) ([]model.Candidate, error) {
	return f(ctx, q)
}

func TestDiscoveryRounds_StopsAtTarget(t *testing.T) {
	cfg := testConfig(t)
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.MatchedBy(func(q model.DiscoveryQuery) bool { return q.Attempt == 1 })).
		Return(candidates("r1-", 3), nil).Once()
	disc.On("Discover", mock.Anything, mock.MatchedBy(func(q model.DiscoveryQuery) bool { return q.Attempt == 2 })).
		Return(candidates("r2-", 5), nil).Once()

	o, sleeps := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 2}) // target 8

	intake := o.discoveryRounds(context.Background(), rc, nil)
	assert.Len(t, intake, 8)
	disc.AssertNumberOfCalls(t, "Discover", 2)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps.calls)

	second := disc.Calls[1].Arguments.Get(1).(model.DiscoveryQuery)
	assert.Equal(t, 5, second.Quantity)
	assert.Len(t, second.Suppression, 3)
	for _, c := range intake {
		assert.Equal(t, "discovery", c.Source)
	}
}

func TestDiscoveryRounds_FailureLimitAndBackoff(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.Enabled = false
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.Anything).Return(nil, eris.New("discovery webhook: status 503"))

	o, sleeps := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 2})

	intake := o.discoveryRounds(context.Background(), rc, nil)
	assert.Empty(t, intake)
	disc.AssertNumberOfCalls(t, "Discover", 3)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeps.calls)
	assert.Equal(t, int64(3), rc.Metrics.DiscoveryFailures.Load())
}

func TestDiscoveryRounds_BackoffCapped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.Enabled = false
	cfg.Pipeline.DiscoveryFailureLimit = 10
	cfg.Pipeline.DiscoveryMaxRounds = 10
	cfg.Pipeline.DiscoveryBackoffStepSecs = 20
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.Anything).Return(nil, eris.New("timeout"))

	o, sleeps := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 2})

	o.discoveryRounds(context.Background(), rc, nil)
	require.GreaterOrEqual(t, len(sleeps.calls), 3)
	assert.Equal(t, 20*time.Second, sleeps.calls[0])
	assert.Equal(t, 30*time.Second, sleeps.calls[1])
	assert.Equal(t, 30*time.Second, sleeps.calls[2])
}

func TestDiscoveryRounds_SuccessResetsFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.Enabled = false
	disc := &mockDiscoverer{}
	boom := eris.New("status 500")
	disc.On("Discover", mock.Anything, mock.Anything).Return(nil, boom).Twice()
	disc.On("Discover", mock.Anything, mock.Anything).Return(candidates("ok", 1), nil).Once()
	disc.On("Discover", mock.Anything, mock.Anything).Return(nil, boom).Twice()
	disc.On("Discover", mock.Anything, mock.Anything).Return(candidates("late", 1), nil).Once()

	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 1, MaxRounds: 6})

	intake := o.discoveryRounds(context.Background(), rc, nil)
	assert.Len(t, intake, 2)
	disc.AssertNumberOfCalls(t, "Discover", 6)
}

func TestDiscoveryRounds_MaxRoundsOverride(t *testing.T) {
	cfg := testConfig(t)
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.Anything).Return([]model.Candidate{}, nil)

	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 1, MaxRounds: 2})

	o.discoveryRounds(context.Background(), rc, nil)
	disc.AssertNumberOfCalls(t, "Discover", 2)
}

func TestDiscoveryRounds_FiltersDuplicatesAndExcluded(t *testing.T) {
	cfg := testConfig(t)
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.Anything).Return([]model.Candidate{
		candidate("keep.com"),
		candidate("www.keep.com"),
		candidate("blocked.com"),
		{Name: "No Domain"},
	}, nil).Once()
	disc.On("Discover", mock.Anything, mock.Anything).Return([]model.Candidate{}, nil)

	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: disc, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 1, MaxRounds: 1, Exclude: []string{"blocked.com"}})

	intake := o.discoveryRounds(context.Background(), rc, nil)
	require.Len(t, intake, 1)
	assert.Equal(t, "keep.com", intake[0].Domain)

	first := disc.Calls[0].Arguments.Get(1).(model.DiscoveryQuery)
	assert.Contains(t, first.Suppression, "blocked.com")
	assert.Equal(t, int64(1), rc.Metrics.Duplicates.Load())
	assert.Equal(t, int64(1), rc.Metrics.Suppressed.Load())
}

func TestDiscoverRound_ParallelChunks(t *testing.T) {
	cfg := testConfig(t)

	var (
		mu    sync.Mutex
		areas []string
		n     int
	)
	disc := discoverFunc(func(_ context.Context, q model.DiscoveryQuery) ([]model.Candidate, error) {
		mu.Lock()
		defer mu.Unlock()
		areas = append(areas, q.Requirements)
		out := make([]model.Candidate, q.Quantity)
		for i := range out {
			n++
			out[i] = candidate(fmt.Sprintf("chunk%d.com", n))
		}
		return out, nil
	})

	o, _ := newTestOrchestrator(t, cfg, Deps{
		Discovery: disc,
		Companies: &mockCompanyEnricher{},
		Splitter:  planner.NewGeographicSplitter(10),
	})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 10})

	found, err := o.discoverRound(context.Background(), rc, model.DiscoveryQuery{Quantity: 25, Requirements: "Residential only."})
	require.NoError(t, err)
	assert.Len(t, found, 25)
	require.Len(t, areas, 3)
	for _, r := range areas {
		assert.True(t, strings.HasPrefix(r, "Residential only. "), r)
		assert.Contains(t, r, "Focus on")
	}
}

func TestDiscoverRound_PartialChunkFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.ParallelChunks = false

	disc := discoverFunc(func(_ context.Context, q model.DiscoveryQuery) ([]model.Candidate, error) {
		if strings.Contains(q.Requirements, "Focus on North") {
			return nil, eris.New("chunk timeout")
		}
		return []model.Candidate{candidate(fmt.Sprintf("q%d.com", q.Quantity))}, nil
	})

	o, _ := newTestOrchestrator(t, cfg, Deps{
		Discovery: disc,
		Companies: &mockCompanyEnricher{},
		Splitter:  planner.NewGeographicSplitter(10),
	})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 10})

	found, err := o.discoverRound(context.Background(), rc, model.DiscoveryQuery{Quantity: 20})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestDiscoverRound_AllChunksFail(t *testing.T) {
	cfg := testConfig(t)
	cfg.Breaker.Enabled = false

	disc := discoverFunc(func(context.Context, model.DiscoveryQuery) ([]model.Candidate, error) {
		return nil, eris.New("chunk timeout")
	})
	o, _ := newTestOrchestrator(t, cfg, Deps{
		Discovery: disc,
		Companies: &mockCompanyEnricher{},
		Splitter:  planner.NewGeographicSplitter(10),
	})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 10})

	_, err := o.discoverRound(context.Background(), rc, model.DiscoveryQuery{Quantity: 30})
	assert.ErrorIs(t, err, errAllChunksFailed)
}

func TestDiscoverRound_SmallQueryRunsWhole(t *testing.T) {
	cfg := testConfig(t)
	disc := &mockDiscoverer{}
	disc.On("Discover", mock.Anything, mock.MatchedBy(func(q model.DiscoveryQuery) bool { return q.Quantity == 7 })).
		Return(candidates("whole", 7), nil).Once()

	o, _ := newTestOrchestrator(t, cfg, Deps{
		Discovery: disc,
		Companies: &mockCompanyEnricher{},
		Splitter:  planner.NewGeographicSplitter(10),
	})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 3})

	found, err := o.discoverRound(context.Background(), rc, model.DiscoveryQuery{Quantity: 7})
	require.NoError(t, err)
	assert.Len(t, found, 7)
	disc.AssertExpectations(t)
}

func TestAdmit_ClassificationAndLocation(t *testing.T) {
	cfg := testConfig(t)
	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 1, State: "TX"})

	hoa := candidate("hoa.com")
	hoa.Summary = "HOA management and community association services"
	tierD := candidate("tierd.com")
	tierD.ICPTier = "D"
	elsewhere := candidate("elsewhere.com")
	elsewhere.State = "OH"
	local := candidate("local.com")
	local.State = "Texas"
	unknown := candidate("unknown.com")

	out := o.admit(context.Background(), rc, []model.Candidate{hoa, tierD, elsewhere, local, unknown}, requestLocation(rc.Params))
	var got []string
	for _, c := range out {
		got = append(got, c.Domain)
	}
	assert.Equal(t, []string{"local.com", "unknown.com"}, got)
	assert.Equal(t, int64(2), rc.Metrics.ClassificationRejected.Load())
	assert.Equal(t, int64(1), rc.Metrics.LocationRejected.Load())

	snap := rc.Metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Rejections["state_mismatch"])
	assert.Equal(t, int64(1), snap.Rejections["low_tier"])
}

func TestAdmit_FlaggedWhenNotStrict(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quality.ClassificationStrict = false
	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 1})

	c := candidate("storage.com")
	c.Summary = "Self storage operator"
	out := o.admit(context.Background(), rc, []model.Candidate{c}, requestLocation(rc.Params))
	require.Len(t, out, 1)
	assert.Equal(t, "negative_keyword", out[0].Extra["classification_flag"])
	assert.Equal(t, int64(1), rc.Metrics.Flagged.Load())
}

func TestAdmit_SuppressorErrorFailsClosed(t *testing.T) {
	cfg := testConfig(t)
	sup := &mockSuppressor{}
	sup.On("IsAllowed", mock.Anything, mock.MatchedBy(func(c *model.Candidate) bool { return c.Domain == "crm.com" })).
		Return(false, eris.New("salesforce unavailable"))
	sup.On("IsAllowed", mock.Anything, mock.Anything).Return(true, nil)

	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}, Suppressor: sup})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 1})

	out := o.admit(context.Background(), rc, []model.Candidate{candidate("crm.com"), candidate("fine.com")}, requestLocation(rc.Params))
	require.Len(t, out, 1)
	assert.Equal(t, "fine.com", out[0].Domain)
	assert.Equal(t, int64(1), rc.Metrics.Suppressed.Load())
}

func TestLoadSource_UsesFilterAndLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.SourceLimit = 3
	store := &mockStore{}
	store.On("FindCandidates", mock.Anything, model.CandidateFilter{State: "KS", City: "Wichita", Limit: 3}).
		Return(candidates("src", 2), nil)

	o, _ := newTestOrchestrator(t, cfg, Deps{Store: store, Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 5, State: "KS", City: "Wichita"})

	out := o.loadSource(context.Background(), rc)
	require.Len(t, out, 2)
	assert.Equal(t, "store", out[0].Source)
	store.AssertExpectations(t)
}

func TestSuppressionList_SortedAndMerged(t *testing.T) {
	cfg := testConfig(t)
	o, _ := newTestOrchestrator(t, cfg, Deps{Discovery: &mockDiscoverer{}, Companies: &mockCompanyEnricher{}})
	rc := newTestRun(t, o, model.RequestParams{Quantity: 1, Exclude: []string{"zeta.com", "alpha.com"}})
	rc.Attempted.MarkSeen("mid.com")
	rc.Attempted.MarkSeen("alpha.com")

	assert.Equal(t, []string{"alpha.com", "mid.com", "zeta.com"}, suppressionList(rc))
}
