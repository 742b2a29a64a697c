package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/planner"
	"github.com/sells-group/lead-pipeline/internal/workerpool"
)

// discoveryRounds calls discovery until the intake reaches the buffer target,
// the round limit is hit, or consecutive failures exceed the limit.
func (o *Orchestrator) discoveryRounds(ctx context.Context, rc *RunContext, intake []model.Candidate) []model.Candidate {
	p := o.cfg.Pipeline
	maxRounds := p.DiscoveryMaxRounds
	if rc.Params.MaxRounds > 0 {
		maxRounds = rc.Params.MaxRounds
	}

	failures := 0
	for round := 1; round <= maxRounds && len(intake) < rc.BufferTarget; round++ {
		if ctx.Err() != nil {
			break
		}
		need := rc.BufferTarget - len(intake)
		q := rc.Params.DiscoveryQuery(need)
		q.Attempt = round
		q.Suppression = suppressionList(rc)

		log := rc.Log.With(zap.Int("round", round), zap.Int("need", need))
		rc.Metrics.DiscoveryRounds.Add(1)

		found, err := o.discoverRound(ctx, rc, q)
		if err != nil {
			failures++
			rc.Metrics.DiscoveryFailures.Add(1)
			rc.Metrics.RecordError(ServiceDiscovery, "discover", err)
			if failures >= max(1, p.DiscoveryFailureLimit) {
				log.Error("pipeline: discovery failure limit reached", zap.Int("failures", failures), zap.Error(err))
				break
			}
			backoff := min(secs(p.DiscoveryBackoffMaxSecs), secs(failures*p.DiscoveryBackoffStepSecs))
			log.Warn("pipeline: discovery round failed, backing off",
				zap.Int("failures", failures),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if o.sleep(ctx, backoff) != nil {
				break
			}
			continue
		}
		failures = 0

		for i := range found {
			if found[i].Source == "" {
				found[i].Source = "discovery"
			}
		}
		rc.Metrics.Discovered.Add(int64(len(found)))
		admitted := o.admit(ctx, rc, found, requestLocation(rc.Params))
		intake = append(intake, admitted...)
		log.Info("pipeline: discovery round complete",
			zap.Int("found", len(found)),
			zap.Int("admitted", len(admitted)),
			zap.Int("intake", len(intake)),
			zap.Int("target", rc.BufferTarget),
		)
		rc.save(len(intake), 0, map[string]any{"round": round, "candidates": intake})

		if len(intake) < rc.BufferTarget && round < maxRounds {
			if o.sleep(ctx, secs(p.DiscoveryRoundDelaySecs)) != nil {
				break
			}
		}
	}
	return intake
}

// discoverRound runs one discovery query, fanning it out as chunks when the
// splitter produces a plan. A chunked round fails only if every chunk fails.
func (o *Orchestrator) discoverRound(ctx context.Context, rc *RunContext, q model.DiscoveryQuery) ([]model.Candidate, error) {
	p := o.cfg.Pipeline
	chunks := o.planChunks(ctx, rc, q)
	if len(chunks) == 0 {
		return o.discoverOnce(ctx, rc, q)
	}

	rc.Log.Debug("pipeline: discovery split",
		zap.Int("chunks", len(chunks)),
		zap.String("strategy", chunks[0].Strategy),
		zap.Int("concurrency", rc.Chunks.Limit()),
	)

	worker := func(ctx context.Context, ch planner.Chunk) ([]model.Candidate, error) {
		return o.discoverOnce(ctx, rc, ch.Apply(q))
	}

	var out workerpool.Outcome[planner.Chunk, []model.Candidate]
	if p.ParallelChunks {
		out = workerpool.RunAdaptive(ctx, rc.Chunks, chunks, worker, 0)
	} else {
		out = workerpool.RunAll(ctx, chunks, worker, workerpool.Options{Concurrency: 1})
	}

	for _, f := range out.Failed {
		rc.Log.Warn("pipeline: discovery chunk failed",
			zap.Int("chunk", f.Item.Index),
			zap.String("area", f.Item.Area),
			zap.Error(f.Err),
		)
	}
	if len(out.Values) == 0 && len(out.Failed) > 0 {
		return nil, errAllChunksFailed
	}

	var merged []model.Candidate
	for _, v := range out.Values {
		merged = append(merged, v...)
	}
	return merged, nil
}

func (o *Orchestrator) planChunks(ctx context.Context, rc *RunContext, q model.DiscoveryQuery) []planner.Chunk {
	size := o.cfg.Pipeline.ChunkSize
	if o.deps.Splitter == nil || size <= 0 || q.Quantity <= size {
		return nil
	}
	chunks, err := o.deps.Splitter.Split(ctx, q)
	if err != nil {
		rc.Log.Warn("pipeline: discovery split failed, running whole query", zap.Error(err))
		return nil
	}
	return chunks
}

func (o *Orchestrator) discoverOnce(ctx context.Context, rc *RunContext, q model.DiscoveryQuery) ([]model.Candidate, error) {
	return guarded(ctx, rc, ServiceDiscovery, func(ctx context.Context) ([]model.Candidate, error) {
		return o.deps.Discovery.Discover(ctx, q)
	})
}

// suppressionList is every domain discovery should not return again.
func suppressionList(rc *RunContext) []string {
	keys := rc.Attempted.Keys()
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	if rc.Exclude != nil {
		for _, d := range rc.Exclude.Domains() {
			if !seen[d] {
				seen[d] = true
				keys = append(keys, d)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
