package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/quality"
)

// loadSource pulls existing candidates from the store. Store errors degrade
// to an empty intake.
func (o *Orchestrator) loadSource(ctx context.Context, rc *RunContext) []model.Candidate {
	if o.deps.Store == nil {
		return nil
	}
	limit := rc.BufferTarget
	if sl := o.cfg.Store.SourceLimit; sl > 0 {
		limit = min(sl, limit)
	}

	cands, err := guarded(ctx, rc, ServiceStore, func(ctx context.Context) ([]model.Candidate, error) {
		return o.deps.Store.FindCandidates(ctx, rc.Params.Filter(limit))
	})
	if err != nil {
		rc.Metrics.RecordError(ServiceStore, "find_candidates", err)
		rc.Log.Warn("pipeline: source store lookup failed, continuing with discovery", zap.Error(err))
		return nil
	}
	rc.Metrics.SourceLoaded.Add(int64(len(cands)))

	for i := range cands {
		if cands[i].Source == "" {
			cands[i].Source = "store"
		}
	}
	admitted := o.admit(ctx, rc, cands, requestLocation(rc.Params))
	rc.Log.Info("pipeline: source candidates loaded",
		zap.Int("loaded", len(cands)),
		zap.Int("admitted", len(admitted)),
	)
	return admitted
}

// admit filters raw candidates through identity dedupe, suppression and
// the classification and location gates. Admitted candidates are marked
// as attempted so later rounds never see them again.
func (o *Orchestrator) admit(ctx context.Context, rc *RunContext, cands []model.Candidate, loc quality.LocationRequest) []model.Candidate {
	out := make([]model.Candidate, 0, len(cands))
	for _, c := range cands {
		key := c.Key()
		if key == "" {
			rc.Metrics.RecordRejection("missing_domain")
			continue
		}
		if rc.Attempted.CheckAndMark(key) {
			rc.Metrics.Duplicates.Add(1)
			continue
		}
		c.Domain = key

		if !rc.Suppression.Allowed(ctx, &c) {
			rc.Metrics.Suppressed.Add(1)
			rc.Metrics.RecordRejection("suppressed")
			continue
		}

		ok, reason := o.classify.Evaluate(&c)
		if !ok {
			rc.Metrics.ClassificationRejected.Add(1)
			rc.Metrics.RecordRejection(reason)
			continue
		}
		if strings.HasPrefix(reason, quality.FlaggedPrefix) {
			rc.Metrics.Flagged.Add(1)
			if c.Extra == nil {
				c.Extra = map[string]any{}
			}
			c.Extra["classification_flag"] = strings.TrimPrefix(reason, quality.FlaggedPrefix)
		}

		if o.cfg.Quality.LocationGate {
			if ok, reason := quality.EvaluateLocation(&c, loc); !ok {
				rc.Metrics.LocationRejected.Add(1)
				rc.Metrics.RecordRejection(reason)
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func requestLocation(p model.RequestParams) quality.LocationRequest {
	return quality.LocationRequest{City: p.City, State: p.State, Location: p.Location}
}

func queryLocation(q model.DiscoveryQuery) quality.LocationRequest {
	return quality.LocationRequest{City: q.City, State: q.State, Location: q.Location}
}
