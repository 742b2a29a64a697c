package webhook

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/payload"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Verifier finds and verifies a person's email address. A call that returns
// no verified address is repeated up to attempts times, delay apart.
type Verifier struct {
	client   *Client
	endpoint Endpoint
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewVerifier creates an email-verification webhook client.
func NewVerifier(c *Client, ep Endpoint, attempts int, delay time.Duration) *Verifier {
	return &Verifier{
		client:   c,
		endpoint: ep,
		attempts: max(attempts, 1),
		delay:    delay,
		sleep:    resilience.SleepContext,
	}
}

// VerifyEmail returns the last verification result, verified or not. It
// returns nil when no attempt produced a parseable result.
func (v *Verifier) VerifyEmail(ctx context.Context, fullName, companyName, domain string) (*model.Verification, error) {
	body := map[string]any{
		"full_name":    fullName,
		"company_name": companyName,
		"domain":       domain,
	}
	var last *model.Verification
	for attempt := 1; attempt <= v.attempts; attempt++ {
		resp, err := v.client.Post(ctx, "email_verification", v.endpoint.URL, v.endpoint.Timeout, body)
		if err != nil {
			return last, eris.Wrapf(err, "webhook: verify email for %q", fullName)
		}
		if res := ParseVerification(resp); res != nil {
			last = res
			if res.Verified && res.Email != "" {
				return res, nil
			}
		}
		if attempt == v.attempts {
			break
		}
		zap.L().Debug("email not verified, retrying",
			zap.String("full_name", fullName),
			zap.String("domain", domain),
			zap.Int("attempt", attempt),
		)
		if err := v.sleep(ctx, v.delay); err != nil {
			return last, eris.Wrap(err, "webhook: verify email")
		}
	}
	return last, nil
}

// ParseVerification reads the email, verified flag and role-based flag
// from resp.
func ParseVerification(resp any) *model.Verification {
	m := object(resp, jsonText, head, messageContent)
	if len(m) == 0 {
		return nil
	}
	res := &model.Verification{
		Email: payload.String(m, "email", "verified_email"),
		Raw:   m,
	}
	if ok, present := payload.Bool(m["verified"]); present {
		res.Verified = ok
	} else if vals, isMap := m["validations"].(map[string]any); isMap {
		mailbox, _ := payload.Bool(vals["mailbox_exists"])
		syntax, _ := payload.Bool(vals["syntax"])
		res.Verified = mailbox && syntax
	}
	res.RoleBased, _ = payload.Bool(m["is_role_based"])
	return res
}
