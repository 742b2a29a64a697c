package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/workerpool"
)

// enrichCandidates enriches cands concurrently until want leads exist, then
// retries failed candidates once, serially.
func (o *Orchestrator) enrichCandidates(ctx context.Context, rc *RunContext, cands []model.Candidate, want int) []model.Lead {
	if len(cands) == 0 || want <= 0 {
		return nil
	}
	p := o.cfg.Pipeline

	worker := func(ctx context.Context, c model.Candidate) (model.Lead, error) {
		return o.enrichOne(ctx, rc, c)
	}
	out := workerpool.RunAll(ctx, cands, worker, workerpool.Options{
		Concurrency: p.EnrichmentConcurrency,
		EarlyStop:   want,
	})
	leads := out.Values
	rc.Log.Info("pipeline: enrichment pass complete",
		zap.Int("candidates", len(cands)),
		zap.Int("leads", len(leads)),
		zap.Int("failed", len(out.Failed)),
		zap.Int("skipped", out.Skipped),
		zap.Int("abandoned", out.Abandoned),
		zap.Int("discarded", out.Discarded),
	)

	retry := o.retryable(rc, out.FailedItems())
	if len(retry) == 0 || len(leads) >= want || ctx.Err() != nil {
		return leads
	}
	if o.sleep(ctx, secs(p.EnrichmentRetryDelaySecs)) != nil {
		return leads
	}
	for _, c := range retry {
		if len(leads) >= want || ctx.Err() != nil {
			break
		}
		rc.Metrics.EnrichmentRetried.Add(1)
		if l, err := o.enrichOne(ctx, rc, c); err == nil {
			leads = append(leads, l)
		}
	}
	return leads
}

// retryable keeps the failed candidates that still have retry budget. A
// non-positive max_enrichment_retries disables the retry pass.
func (o *Orchestrator) retryable(rc *RunContext, cands []model.Candidate) []model.Candidate {
	out := cands[:0]
	for _, c := range cands {
		if rc.Enrichment.AttemptCount(c.Key()) <= o.cfg.Pipeline.MaxEnrichmentRetries {
			out = append(out, c)
		}
	}
	return out
}

// enrichOne enriches c, finds contacts and persists the lead. It returns
// workerpool.ErrNoResult when the company yields no acceptable contact.
func (o *Orchestrator) enrichOne(ctx context.Context, rc *RunContext, c model.Candidate) (model.Lead, error) {
	key := c.Key()
	rc.Enrichment.MarkSeen(key)
	rc.Metrics.EnrichmentAttempted.Add(1)
	log := rc.Log.With(zap.String("domain", key))

	enriched, err := guarded(ctx, rc, ServiceEnrichment, func(ctx context.Context) (*model.Candidate, error) {
		return o.deps.Companies.EnrichCompany(ctx, &c)
	})
	if err == nil && enriched == nil {
		err = errEmptyEnrichment
	}
	if err != nil {
		rc.Metrics.EnrichmentFailed.Add(1)
		rc.Metrics.RecordError(ServiceEnrichment, "enrich_company", err)
		log.Warn("pipeline: company enrichment failed", zap.Error(err))
		return model.Lead{}, eris.Wrapf(err, "enrich %s", key)
	}

	merged := c.Clone()
	merged.Merge(enriched)
	merged.Domain = key

	contacts := o.findContacts(ctx, rc, merged, &c)
	if len(contacts) == 0 {
		rc.Metrics.CompaniesWithoutContacts.Add(1)
		log.Info("pipeline: no verified contacts")
		return model.Lead{}, workerpool.ErrNoResult
	}
	rc.Metrics.EnrichmentSucceeded.Add(1)

	lead := model.Lead{Company: *merged, Contacts: contacts}
	o.persist(ctx, rc, lead)
	rc.addIncremental(lead)
	log.Info("pipeline: company enriched", zap.Int("contacts", len(contacts)))
	return lead, nil
}

// persist writes the lead back to the source store. Failures are logged.
func (o *Orchestrator) persist(ctx context.Context, rc *RunContext, l model.Lead) {
	if o.deps.Store == nil {
		return
	}
	company := l.Company
	if _, err := guarded(ctx, rc, ServiceStore, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.deps.Store.UpsertCandidate(ctx, &company)
	}); err != nil {
		rc.Metrics.RecordError(ServiceStore, "upsert_candidate", err)
		rc.Log.Warn("pipeline: persist company failed", zap.String("domain", company.Domain), zap.Error(err))
		return
	}
	for i := range l.Contacts {
		p := l.Contacts[i]
		if _, err := guarded(ctx, rc, ServiceStore, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Store.UpsertContact(ctx, company.Domain, &p)
		}); err != nil {
			rc.Metrics.RecordError(ServiceStore, "upsert_contact", err)
			rc.Log.Warn("pipeline: persist contact failed", zap.String("domain", company.Domain), zap.Error(err))
		}
	}
}
