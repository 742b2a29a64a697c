package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// topUp runs up to maxRounds extra discovery and enrichment passes to fill
// the gap between leads and the requested quantity. A round whose query
// finds nothing new is retried once with a widened location; a second empty
// result ends the top-up.
func (o *Orchestrator) topUp(ctx context.Context, rc *RunContext, leads []model.Lead, maxRounds int) []model.Lead {
	for round := 1; round <= maxRounds && len(leads) < rc.Requested; round++ {
		if ctx.Err() != nil {
			break
		}
		missing := rc.Requested - len(leads)
		rc.Metrics.TopUpRounds.Add(1)
		log := rc.Log.With(zap.Int("topup_round", round), zap.Int("missing", missing))

		q := rc.Params.DiscoveryQuery(missing)
		q.Attempt = rc.nextTopUpAttempt(o.cfg.Pipeline.DiscoveryMaxRounds)
		q.Suppression = suppressionList(rc)

		fresh, err := o.topUpDiscover(ctx, rc, q)
		if err == nil && len(fresh) == 0 {
			if wq, ok := widen(q); ok {
				log.Info("pipeline: top-up found nothing, widening search",
					zap.String("city", wq.City),
					zap.String("location", wq.Location),
					zap.String("state", wq.State),
				)
				wq.Attempt = rc.nextTopUpAttempt(o.cfg.Pipeline.DiscoveryMaxRounds)
				fresh, err = o.topUpDiscover(ctx, rc, wq)
			}
		}
		if err != nil {
			rc.Metrics.RecordError(ServiceDiscovery, "topup_discover", err)
			log.Warn("pipeline: top-up discovery failed", zap.Error(err))
			break
		}
		if len(fresh) == 0 {
			log.Info("pipeline: top-up exhausted")
			break
		}

		added := o.enrichCandidates(ctx, rc, fresh, missing)
		leads = append(leads, added...)
		log.Info("pipeline: top-up round complete",
			zap.Int("candidates", len(fresh)),
			zap.Int("added", len(added)),
			zap.Int("leads", len(leads)),
		)
		rc.save(len(leads), countContacts(leads), map[string]any{"topup_round": round, "leads": leads})
	}
	return leads
}

func (o *Orchestrator) topUpDiscover(ctx context.Context, rc *RunContext, q model.DiscoveryQuery) ([]model.Candidate, error) {
	found, err := o.discoverRound(ctx, rc, q)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if found[i].Source == "" {
			found[i].Source = "topup"
		}
	}
	rc.Metrics.Discovered.Add(int64(len(found)))
	return o.admit(ctx, rc, found, queryLocation(q)), nil
}

// widen relaxes a query's geography one step: drop the city first, then the
// free-text location. The state always stays. A location that merely
// restates the city is dropped with it when a state is known.
func widen(q model.DiscoveryQuery) (model.DiscoveryQuery, bool) {
	switch {
	case q.City != "":
		q.City = ""
		if q.State != "" {
			q.Location = ""
		}
		return q, true
	case q.Location != "" && q.State != "":
		q.Location = ""
		return q, true
	}
	return q, false
}
