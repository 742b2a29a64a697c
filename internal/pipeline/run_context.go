package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/checkpoint"
	"github.com/sells-group/lead-pipeline/internal/dedupe"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/suppression"
	"github.com/sells-group/lead-pipeline/internal/workerpool"
)

// Phase names a step of the orchestrator state machine.
type Phase string

// Phases in execution order, plus the absorbing failure state.
const (
	PhaseLoadingSource Phase = "loading_source"
	PhaseDiscovery     Phase = "discovery_rounds"
	PhaseEnrichment    Phase = "enrichment"
	PhaseTopUp         Phase = "topup"
	PhaseFinalGate     Phase = "final_gate"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// RunContext carries all mutable state of a single run. Nothing here is
// shared between runs except the breaker registry.
type RunContext struct {
	ID           string
	Dir          string
	Params       model.RequestParams
	Requested    int
	BufferTarget int
	Multiplier   float64

	Metrics     *Metrics
	Breakers    *resilience.ServiceBreakers
	Attempted   *dedupe.Index
	Enrichment  *dedupe.Index
	Contacts    *dedupe.Contacts
	Checkpoint  *checkpoint.Checkpointer
	Suppression *suppression.Cache
	Exclude     *suppression.DomainList
	Chunks      *workerpool.Adaptive
	Log         *zap.Logger

	mu           sync.Mutex
	phase        Phase
	incremental  []model.Lead
	flushEvery   int
	topUpAttempt int
	closeLog     func()
}

// Phase returns the current phase.
func (rc *RunContext) Phase() Phase {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.phase
}

func (rc *RunContext) setPhase(p Phase) {
	rc.mu.Lock()
	rc.phase = p
	rc.mu.Unlock()
}

// breaker returns the named breaker, or nil when breakers are disabled.
func (rc *RunContext) breaker(service string) *resilience.CircuitBreaker {
	if rc.Breakers == nil {
		return nil
	}
	return rc.Breakers.Get(service)
}

// trackPhase runs fn as the named phase, logging and timing it.
func (rc *RunContext) trackPhase(p Phase, fn func() error) error {
	rc.setPhase(p)
	log := rc.Log.With(zap.String("phase", string(p)))
	log.Info("pipeline: phase starting")

	start := time.Now()
	err := fn()
	d := time.Since(start)
	rc.Metrics.RecordPhase(p, d)

	if err != nil {
		log.Error("pipeline: phase failed", zap.Int64("duration_ms", d.Milliseconds()), zap.Error(err))
		return err
	}
	log.Info("pipeline: phase complete", zap.Int64("duration_ms", d.Milliseconds()))
	return nil
}

// save writes a checkpoint for the current phase. Failures are logged only.
func (rc *RunContext) save(candidates, persons int, payload map[string]any) {
	if rc.Checkpoint == nil {
		return
	}
	err := rc.Checkpoint.Save(checkpoint.Snapshot{
		Phase:          string(rc.Phase()),
		CandidateCount: candidates,
		PersonCount:    persons,
		Metrics:        rc.Metrics.Snapshot().Map(),
		Payload:        payload,
	})
	if err != nil {
		rc.Log.Warn("pipeline: checkpoint save failed", zap.Error(err))
	}
}

// saveIfDue checkpoints the running lead list once the checkpoint interval
// has elapsed since the last save.
func (rc *RunContext) saveIfDue() {
	if rc.Checkpoint == nil || !rc.Checkpoint.ShouldCheckpoint() {
		return
	}
	leads := rc.incrementalLeads()
	rc.save(len(leads), countContacts(leads), map[string]any{"leads": leads})
}

// addIncremental records an enriched lead, periodically flushes the running
// list to disk, and checkpoints when due.
func (rc *RunContext) addIncremental(l model.Lead) {
	rc.mu.Lock()
	rc.incremental = append(rc.incremental, l)
	n := len(rc.incremental)
	var snapshot []model.Lead
	if rc.flushEvery > 0 && n%rc.flushEvery == 0 {
		snapshot = append([]model.Lead(nil), rc.incremental...)
	}
	rc.mu.Unlock()

	if snapshot != nil {
		if err := writeJSON(rc.Dir, incrementalFile, snapshot); err != nil {
			rc.Log.Warn("pipeline: incremental flush failed", zap.Error(err))
		}
	}
	rc.saveIfDue()
}

func (rc *RunContext) incrementalLeads() []model.Lead {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]model.Lead(nil), rc.incremental...)
}

// partial returns the best partial result: leads, unless more enriched
// leads were recorded incrementally.
func (rc *RunContext) partial(leads []model.Lead) []model.Lead {
	if inc := rc.incrementalLeads(); len(inc) > len(leads) {
		return inc
	}
	return leads
}

// nextTopUpAttempt returns a monotonically increasing discovery attempt
// number for top-up queries.
func (rc *RunContext) nextTopUpAttempt(base int) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.topUpAttempt++
	return base + rc.topUpAttempt
}

// Close releases the run log.
func (rc *RunContext) Close() {
	if rc.closeLog != nil {
		rc.closeLog()
	}
}

// guarded runs fn behind the service's breaker and records the outcome.
func guarded[T any](ctx context.Context, rc *RunContext, service string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	if cb := rc.breaker(service); cb != nil {
		v, err = resilience.ExecuteVal(ctx, cb, fn)
	} else {
		v, err = fn(ctx)
	}
	rc.Metrics.RecordCall(service, err)
	return v, err
}
