package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/quality"
	"github.com/sells-group/lead-pipeline/internal/workerpool"
)

// maxContactsPerLead caps accepted contacts per company regardless of
// configuration.
const maxContactsPerLead = 3

// reEnrichDelay is the pause before a second contact enrichment attempt.
const reEnrichDelay = time.Second

// Contact rejection reasons.
const (
	rejectInvalidName    = "invalid_name"
	rejectDuplicate      = "duplicate_contact"
	rejectUnverified     = "email_unverified"
	rejectRoleBased      = "role_based_email"
	rejectEvidence       = "insufficient_evidence"
	rejectVerifyFailure  = "verification_error"
	contactSourceDM      = "decision_makers"
	contactSourceDiscovr = "contact_discovery"
)

// findContacts returns up to the per-lead limit of verified contacts for
// company. Decision makers from company enrichment are tried first with
// contact discovery as the fallback; a second contact discovery round runs
// when the first produced no verified contact.
func (o *Orchestrator) findContacts(ctx context.Context, rc *RunContext, company, original *model.Candidate) []model.Person {
	limit := min(maxContactsPerLead, max(1, o.cfg.Pipeline.MaxContactsPerCompany))

	round1 := company.DecisionMakers
	source := contactSourceDM
	if len(round1) == 0 {
		round1 = o.discoverContacts(ctx, rc, company)
		source = contactSourceDiscovr
	}
	accepted := o.processContacts(ctx, rc, tagSource(round1, source), company, original, limit)
	if len(accepted) > 0 {
		return accepted
	}

	round2 := o.discoverContacts(ctx, rc, company)
	return o.processContacts(ctx, rc, tagSource(round2, contactSourceDiscovr), company, original, limit)
}

func (o *Orchestrator) discoverContacts(ctx context.Context, rc *RunContext, company *model.Candidate) []model.Person {
	if o.deps.ContactDiscovery == nil {
		return nil
	}
	people, err := guarded(ctx, rc, ServiceContactDiscovery, func(ctx context.Context) ([]model.Person, error) {
		return o.deps.ContactDiscovery.DiscoverContacts(ctx, company)
	})
	if err != nil {
		rc.Metrics.RecordError(ServiceContactDiscovery, "discover_contacts", err)
		rc.Log.Warn("pipeline: contact discovery failed", zap.String("domain", company.Domain), zap.Error(err))
		return nil
	}
	return people
}

func (o *Orchestrator) processContacts(ctx context.Context, rc *RunContext, people []model.Person, company, original *model.Candidate, limit int) []model.Person {
	if len(people) == 0 {
		return nil
	}
	worker := func(ctx context.Context, p model.Person) (model.Person, error) {
		return o.processContact(ctx, rc, p, company, original)
	}
	out := workerpool.RunAll(ctx, people, worker, workerpool.Options{
		Concurrency: o.cfg.Pipeline.ContactConcurrency,
		EarlyStop:   limit,
	})
	for _, f := range out.Failed {
		rc.Log.Warn("pipeline: contact processing failed",
			zap.String("domain", company.Domain),
			zap.String("contact", f.Item.FullName),
			zap.Error(f.Err),
		)
	}
	if len(out.Values) > limit {
		return out.Values[:limit]
	}
	return out.Values
}

// processContact verifies and enriches one person. Rejections return
// workerpool.ErrNoResult.
func (o *Orchestrator) processContact(ctx context.Context, rc *RunContext, p model.Person, company, original *model.Candidate) (model.Person, error) {
	rc.Metrics.ContactsConsidered.Add(1)
	p.FullName = strings.TrimSpace(p.FullName)

	if !quality.ValidPersonName(p.FullName) {
		return o.rejectContact(rc, p, rejectInvalidName)
	}
	key := model.PersonKey(p, company.Name)
	if rc.Contacts.CheckAndMark(p, company.Name) {
		return o.rejectContact(rc, p, rejectDuplicate)
	}

	// Without a verifier no email can be verified.
	if o.deps.Verifier == nil {
		return o.rejectContact(rc, p, rejectUnverified)
	}
	domain := contactDomain(p, company, original)
	v, err := guarded(ctx, rc, ServiceVerification, func(ctx context.Context) (*model.Verification, error) {
		return o.deps.Verifier.VerifyEmail(ctx, p.FullName, company.Name, domain)
	})
	if err != nil {
		rc.Metrics.RecordError(ServiceVerification, "verify_email", err)
		return o.rejectContact(rc, p, rejectVerifyFailure)
	}
	if v == nil || !v.Verified || strings.TrimSpace(v.Email) == "" {
		return o.rejectContact(rc, p, rejectUnverified)
	}
	if v.RoleBased || quality.IsRoleBasedEmail(v.Email) {
		return o.rejectContact(rc, p, rejectRoleBased)
	}
	p.Email = v.Email
	p.EmailVerified = true
	p.Verification = v

	// The verified email is the strongest identity; two names may resolve
	// to the same mailbox.
	if model.PersonKey(p, company.Name) != key && rc.Contacts.CheckAndMark(p, company.Name) {
		return o.rejectContact(rc, p, rejectDuplicate)
	}
	rc.Metrics.ContactsVerified.Add(1)

	o.enrichContact(ctx, rc, &p, company)

	evCfg := o.cfg.Quality.Evidence
	res := quality.EvaluateEvidence(&p, evCfg)
	if !res.Passed && o.deps.Contacts != nil {
		rc.Log.Debug("pipeline: re-enriching contact", zap.String("contact", p.FullName), zap.String("reason", res.Reason))
		if o.sleep(ctx, reEnrichDelay) == nil && o.enrichContact(ctx, rc, &p, company) {
			res = quality.EvaluateEvidence(&p, evCfg)
		}
	}
	if !res.Passed {
		salvageEvidence(&p)
		res = quality.EvaluateEvidence(&p, evCfg)
		if !res.Passed {
			return o.rejectContact(rc, p, rejectEvidence)
		}
		res.Reason = quality.ReasonSalvaged
		rc.Metrics.ContactsSalvaged.Add(1)
	}
	p.QualityReason = res.Reason
	return p, nil
}

// enrichContact merges contact enrichment into p. It reports false when no
// enricher is configured or the call failed; p keeps what it had.
func (o *Orchestrator) enrichContact(ctx context.Context, rc *RunContext, p *model.Person, company *model.Candidate) bool {
	if o.deps.Contacts == nil {
		return false
	}
	in := *p
	e, err := guarded(ctx, rc, ServiceContactEnrichment, func(ctx context.Context) (*model.Person, error) {
		return o.deps.Contacts.EnrichContact(ctx, &in, company)
	})
	if err != nil {
		rc.Metrics.RecordError(ServiceContactEnrichment, "enrich_contact", err)
		rc.Log.Warn("pipeline: contact enrichment failed",
			zap.String("domain", company.Domain),
			zap.String("contact", p.FullName),
			zap.Error(err),
		)
		return false
	}
	p.MergeEnrichment(e)
	return true
}

func (o *Orchestrator) rejectContact(rc *RunContext, p model.Person, reason string) (model.Person, error) {
	rc.Metrics.ContactsRejected.Add(1)
	rc.Metrics.RecordRejection("contact_" + reason)
	rc.Log.Debug("pipeline: contact rejected", zap.String("contact", p.FullName), zap.String("reason", reason))
	return p, workerpool.ErrNoResult
}

// contactDomain picks the domain to verify against: the contact's own
// domain unless it is a property-management portal host.
func contactDomain(p model.Person, company, original *model.Candidate) string {
	if d := strings.TrimSpace(p.Domain); d != "" && !model.IsPMSPortalHost(model.HostFromURL(d)) {
		return model.NormalizeDomain(d)
	}
	return model.VerificationDomain(company, original)
}

func tagSource(people []model.Person, source string) []model.Person {
	out := make([]model.Person, len(people))
	for i, p := range people {
		if p.Source == "" {
			p.Source = source
		}
		out[i] = p
	}
	return out
}
