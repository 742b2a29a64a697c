package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/quality"
)

// testConfig returns a config with production-like pipeline settings and
// serial workers so call order is deterministic.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Pipeline.RunsDir = t.TempDir()
	cfg.Pipeline.EnrichmentConcurrency = 1
	cfg.Pipeline.ContactConcurrency = 1
	cfg.Pipeline.DiscoveryMaxRounds = 6
	cfg.Pipeline.DiscoveryRoundDelaySecs = 2
	cfg.Pipeline.DiscoveryFailureLimit = 3
	cfg.Pipeline.DiscoveryBackoffStepSecs = 5
	cfg.Pipeline.DiscoveryBackoffMaxSecs = 30
	cfg.Pipeline.DiscoveryTimeoutSecs = 1800
	cfg.Pipeline.ChunkSize = 10
	cfg.Pipeline.ChunkConcurrency = 2
	cfg.Pipeline.ChunkMaxConcurrency = 4
	cfg.Pipeline.EnrichmentRetryDelaySecs = 5
	cfg.Pipeline.MaxEnrichmentRetries = 2
	cfg.Pipeline.MaxCompaniesPerRun = 500
	cfg.Pipeline.MaxContactsPerCompany = 10
	cfg.Pipeline.TopUpMaxRounds = 3
	cfg.Pipeline.CheckpointIntervalSecs = 300
	cfg.Pipeline.IncrementalFlushEvery = 5
	cfg.Breaker.Enabled = true
	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.RecoveryTimeoutSecs = 300
	cfg.Quality.ClassificationStrict = true
	cfg.Quality.LocationGate = true
	cfg.Quality.Evidence = quality.DefaultEvidenceConfig()
	return cfg
}

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

// newTestOrchestrator builds an orchestrator whose sleeps are recorded
// instead of waited.
func newTestOrchestrator(t *testing.T, cfg *config.Config, deps Deps) (*Orchestrator, *sleepRecorder) {
	t.Helper()
	o := New(cfg, deps)
	rec := &sleepRecorder{}
	o.sleep = rec.sleep
	return o, rec
}

// newTestRun creates a run context for driving single phases.
func newTestRun(t *testing.T, o *Orchestrator, params model.RequestParams) *RunContext {
	t.Helper()
	rc, err := o.newRun(params)
	require.NoError(t, err)
	rc.Log = zap.NewNop()
	t.Cleanup(rc.Close)
	return rc
}

func candidate(domain string) model.Candidate {
	return model.Candidate{
		Domain:  domain,
		Name:    companyName(domain),
		Website: "https://" + domain,
		Summary: "Residential property management company",
	}
}

func candidates(prefix string, n int) []model.Candidate {
	out := make([]model.Candidate, n)
	for i := range n {
		out[i] = candidate(fmt.Sprintf("%s%d.com", prefix, i+1))
	}
	return out
}

func companyName(domain string) string {
	return "Company " + domain
}

// enrichedWithContact is company enrichment carrying a single decision maker.
func enrichedWithContact(c *model.Candidate, first, last string) *model.Candidate {
	fit := true
	return &model.Candidate{
		Domain:  c.Domain,
		Name:    c.Name,
		ICPFit:  &fit,
		ICPTier: "A",
		DecisionMakers: []model.Person{{
			FullName: first + " " + last,
			Title:    "Owner",
		}},
	}
}

func verified(email string) *model.Verification {
	return &model.Verification{Email: email, Verified: true}
}

func withEvidence(p *model.Person) *model.Person {
	out := *p
	out.PersonalAnecdotes = []string{"Coaches youth soccer"}
	out.ProfessionalAnecdotes = []string{"Grew the portfolio to 900 doors"}
	return &out
}
