// Package pipeline drives a lead request through source loading, discovery,
// enrichment, top-up and the final quality gate.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/checkpoint"
	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/dedupe"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/planner"
	"github.com/sells-group/lead-pipeline/internal/quality"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/suppression"
	"github.com/sells-group/lead-pipeline/internal/workerpool"
)

// Result is the outcome of a run. On ErrInsufficientResults it holds the
// partial set.
type Result struct {
	RunID        string          `json:"run_id"`
	RunDir       string          `json:"run_directory"`
	Requested    int             `json:"requested_quantity"`
	BufferTarget int             `json:"buffer_target"`
	Returned     int             `json:"companies_returned"`
	Companies    []model.Lead    `json:"companies"`
	Metrics      MetricsSnapshot `json:"metrics"`
}

// Orchestrator runs lead requests. Breakers persist across runs; all other
// state is created per run.
type Orchestrator struct {
	cfg      *config.Config
	deps     Deps
	buffer   *planner.BufferPlanner
	classify *quality.ClassificationGate
	breakers *resilience.ServiceBreakers

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an Orchestrator. It panics if the required collaborators
// are missing.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Discovery == nil || deps.Companies == nil {
		panic("pipeline: discovery and company enrichment are required")
	}

	buffer := planner.NewBufferPlanner(cfg.Pipeline.MaxCompaniesPerRun)
	if len(cfg.Pipeline.BufferSteps) > 0 {
		buffer.Steps = cfg.Pipeline.BufferSteps
	}

	classCfg := quality.DefaultClassificationConfig()
	classCfg.Strict = cfg.Quality.ClassificationStrict

	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		buffer:   buffer,
		classify: quality.NewClassificationGate(classCfg),
		sleep:    resilience.SleepContext,
		now:      time.Now,
	}
	if cfg.Breaker.Enabled {
		bc := resilience.FromCircuitConfig(cfg.Breaker.FailureThreshold, secs(cfg.Breaker.RecoveryTimeoutSecs))
		bc.OnStateChange = func(name string, from, to resilience.CircuitState) {
			zap.L().Warn("pipeline: circuit breaker state change",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		o.breakers = resilience.NewServiceBreakers(bc)
	}
	return o
}

// Breakers returns the breaker registry, or nil when breakers are disabled.
func (o *Orchestrator) Breakers() *resilience.ServiceBreakers { return o.breakers }

// Plan returns the buffer target for a requested quantity after clamping.
func (o *Orchestrator) Plan(requested int) (quantity, target int, multiplier float64) {
	quantity = o.clampQuantity(requested)
	target, multiplier = o.buffer.Target(quantity)
	return quantity, target, multiplier
}

func (o *Orchestrator) clampQuantity(q int) int {
	if q < 1 {
		return 1
	}
	if maxQ := o.cfg.Pipeline.MaxCompaniesPerRun; maxQ > 0 && q > maxQ {
		zap.L().Warn("pipeline: quantity capped", zap.Int("requested", q), zap.Int("max", maxQ))
		return maxQ
	}
	return q
}

// Run executes one lead request end to end. A panic inside a phase is
// converted into a failed run: the checkpoint, partial results and metrics
// are written before the error is returned.
func (o *Orchestrator) Run(ctx context.Context, params model.RequestParams) (res *Result, err error) {
	rc, err := o.newRun(params)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		intake []model.Candidate
		leads  []model.Lead
	)
	defer func() {
		if r := recover(); r != nil {
			phase := rc.Phase()
			res, err = o.fail(rc, rc.partial(leads), eris.Errorf("pipeline: panic in %s: %v", phase, r))
		}
	}()

	rc.Log.Info("pipeline: run starting",
		zap.Int("requested", rc.Requested),
		zap.Int("buffer_target", rc.BufferTarget),
		zap.Float64("multiplier", rc.Multiplier),
	)

	_ = rc.trackPhase(PhaseLoadingSource, func() error {
		intake = o.loadSource(ctx, rc)
		rc.save(len(intake), 0, map[string]any{"candidates": intake})
		return nil
	})
	if ctx.Err() != nil {
		return o.fail(rc, leads, eris.Wrap(ctx.Err(), "pipeline: canceled"))
	}

	_ = rc.trackPhase(PhaseDiscovery, func() error {
		intake = o.discoveryRounds(ctx, rc, intake)
		return nil
	})
	if ctx.Err() != nil {
		return o.fail(rc, leads, eris.Wrap(ctx.Err(), "pipeline: canceled"))
	}

	_ = rc.trackPhase(PhaseEnrichment, func() error {
		if len(intake) > rc.BufferTarget {
			intake = intake[:rc.BufferTarget]
		}
		leads = o.enrichCandidates(ctx, rc, intake, rc.Requested)
		rc.save(len(intake), countContacts(leads), map[string]any{"leads": leads})
		return nil
	})
	if ctx.Err() != nil {
		return o.fail(rc, leads, eris.Wrap(ctx.Err(), "pipeline: canceled"))
	}

	if len(leads) < rc.Requested {
		_ = rc.trackPhase(PhaseTopUp, func() error {
			leads = o.topUp(ctx, rc, leads, o.cfg.Pipeline.TopUpMaxRounds)
			rc.save(len(leads), countContacts(leads), map[string]any{"leads": leads})
			return nil
		})
	}

	gateErr := rc.trackPhase(PhaseFinalGate, func() error {
		var gerr error
		leads, gerr = o.finalGate(ctx, rc, leads)
		return gerr
	})
	if gateErr != nil {
		return o.fail(rc, leads, gateErr)
	}

	return o.finish(rc, leads)
}

func (o *Orchestrator) newRun(params model.RequestParams) (*RunContext, error) {
	id := newRunID(o.now())
	base := o.cfg.Pipeline.RunsDir
	if base == "" {
		base = "runs"
	}
	dir := filepath.Join(base, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run dir")
	}

	requested := o.clampQuantity(params.Quantity)
	params.Quantity = requested
	target, mult := o.buffer.Target(requested)

	logger, closeLog, err := openRunLog(zap.L(), dir)
	if err != nil {
		zap.L().Warn("pipeline: run log unavailable", zap.Error(err))
		logger, closeLog = zap.L(), nil
	}
	logger = logger.With(zap.String("run_id", id))

	exclude := suppression.NewDomainList(params.Exclude)
	var checker suppression.Checker = exclude
	if o.deps.Suppressor != nil {
		checker = suppression.Chain{exclude, o.deps.Suppressor}
	}

	p := o.cfg.Pipeline
	rc := &RunContext{
		ID:           id,
		Dir:          dir,
		Params:       params,
		Requested:    requested,
		BufferTarget: target,
		Multiplier:   mult,
		Metrics:      NewMetrics(),
		Breakers:     o.breakers,
		Attempted:    dedupe.NewIndex(),
		Enrichment:   dedupe.NewIndex(),
		Contacts:     dedupe.NewContacts(),
		Checkpoint:   checkpoint.New(dir, secs(p.CheckpointIntervalSecs)),
		Suppression:  suppression.NewCache(checker),
		Exclude:      exclude,
		Chunks:       workerpool.NewAdaptive(p.ChunkConcurrency, p.ChunkMaxConcurrency, secs(p.DiscoveryTimeoutSecs)),
		Log:          logger,
		flushEvery:   p.IncrementalFlushEvery,
		closeLog:     closeLog,
	}

	if err := writeJSON(dir, inputFile, map[string]any{
		"run_id":        id,
		"params":        params,
		"buffer_target": target,
		"multiplier":    mult,
		"started_at":    o.now().UTC(),
	}); err != nil {
		logger.Warn("pipeline: write input failed", zap.Error(err))
	}
	return rc, nil
}

// finalGate collapses duplicates and checks the result set, running one
// extra top-up pass before giving up.
func (o *Orchestrator) finalGate(ctx context.Context, rc *RunContext, leads []model.Lead) ([]model.Lead, error) {
	leads = quality.CollapseDuplicates(leads)
	ok, reason := quality.EvaluateFinalSet(leads, rc.Requested)
	if !ok {
		rc.Log.Warn("pipeline: final gate failed, attempting one more top-up",
			zap.String("reason", reason),
			zap.Int("have", len(leads)),
			zap.Int("requested", rc.Requested),
		)
		leads = quality.CollapseDuplicates(o.topUp(ctx, rc, leads, 1))
		ok, reason = quality.EvaluateFinalSet(leads, rc.Requested)
	}
	if !ok {
		return leads, eris.Wrapf(ErrInsufficientResults, "%s: %d of %d", reason, len(leads), rc.Requested)
	}
	if len(leads) > rc.Requested {
		leads = leads[:rc.Requested]
	}
	return leads, nil
}

func (o *Orchestrator) result(rc *RunContext, leads []model.Lead) *Result {
	return &Result{
		RunID:        rc.ID,
		RunDir:       rc.Dir,
		Requested:    rc.Requested,
		BufferTarget: rc.BufferTarget,
		Returned:     len(leads),
		Companies:    leads,
		Metrics:      rc.Metrics.Snapshot(),
	}
}

func (o *Orchestrator) finish(rc *RunContext, leads []model.Lead) (*Result, error) {
	rc.setPhase(PhaseDone)
	res := o.result(rc, leads)
	rc.save(len(leads), countContacts(leads), map[string]any{"companies_returned": len(leads)})

	for name, v := range map[string]any{metricsFile: res.Metrics, outputFile: res} {
		if err := writeJSON(rc.Dir, name, v); err != nil {
			rc.Log.Warn("pipeline: write artifact failed", zap.String("file", name), zap.Error(err))
		}
	}
	if err := writeSummary(rc, res, nil); err != nil {
		rc.Log.Warn("pipeline: write summary failed", zap.Error(err))
	}

	rc.Log.Info("pipeline: run complete",
		zap.Int("companies_returned", res.Returned),
		zap.Float64("duration_secs", res.Metrics.DurationSecs),
	)
	return res, nil
}

// fail persists partial results and metrics, then returns err with the
// partial result.
func (o *Orchestrator) fail(rc *RunContext, leads []model.Lead, err error) (*Result, error) {
	rc.setPhase(PhaseFailed)
	rc.Metrics.RecordError("pipeline", "run", err)
	res := o.result(rc, leads)
	rc.save(len(leads), countContacts(leads), map[string]any{"leads": leads, "error": err.Error()})

	if werr := writeJSON(rc.Dir, partialFile, leads); werr != nil {
		rc.Log.Warn("pipeline: write partial results failed", zap.Error(werr))
	}
	if werr := writeJSON(rc.Dir, metricsFile, res.Metrics); werr != nil {
		rc.Log.Warn("pipeline: write metrics failed", zap.Error(werr))
	}
	if werr := writeSummary(rc, res, err); werr != nil {
		rc.Log.Warn("pipeline: write summary failed", zap.Error(werr))
	}

	rc.Log.Error("pipeline: run failed", zap.Int("companies_returned", len(leads)), zap.Error(err))
	return res, err
}

func countContacts(leads []model.Lead) int {
	n := 0
	for _, l := range leads {
		n += len(l.Contacts)
	}
	return n
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
