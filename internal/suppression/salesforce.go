package suppression

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/pkg/salesforce"
)

// SalesforceConfig parameterizes the CRM checker.
type SalesforceConfig struct {
	// BlockedAccountTypes suppress on an exact (case-insensitive) Account.Type match.
	BlockedAccountTypes []string
	// OpenStages suppress when any open opportunity is in one of these stages.
	// Empty means any open opportunity suppresses.
	OpenStages []string
	// RecentActivity suppresses accounts with LastActivityDate inside the window.
	RecentActivity time.Duration
	// RatePerSec paces lookups. Zero disables pacing.
	RatePerSec float64
}

// SalesforceChecker suppresses candidates that are existing customers, have
// an open opportunity, or were recently worked in the CRM.
type SalesforceChecker struct {
	client  salesforce.Client
	cfg     SalesforceConfig
	limiter *rate.Limiter
	nowFunc func() time.Time
}

// NewSalesforceChecker creates a checker over client.
func NewSalesforceChecker(client salesforce.Client, cfg SalesforceConfig) *SalesforceChecker {
	sc := &SalesforceChecker{client: client, cfg: cfg, nowFunc: time.Now}
	if cfg.RatePerSec > 0 {
		sc.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(int(cfg.RatePerSec), 1))
	}
	return sc
}

// IsAllowed implements Checker.
func (sc *SalesforceChecker) IsAllowed(ctx context.Context, c *model.Candidate) (bool, error) {
	domain := c.Key()
	if domain == "" {
		return false, eris.New("suppression: candidate has no domain")
	}
	if sc.limiter != nil {
		if err := sc.limiter.Wait(ctx); err != nil {
			return false, eris.Wrap(err, "suppression: rate limit")
		}
	}

	accounts, err := salesforce.FindAccountsByDomain(ctx, sc.client, domain)
	if err != nil {
		return false, eris.Wrap(err, "suppression: account lookup")
	}
	if len(accounts) == 0 {
		return true, nil
	}

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if reason := sc.accountReason(a); reason != "" {
			zap.L().Debug("suppression: crm account blocks candidate",
				zap.String("domain", domain),
				zap.String("account_id", a.ID),
				zap.String("reason", reason),
			)
			return false, nil
		}
		ids = append(ids, a.ID)
	}

	opps, err := salesforce.FindOpenOpportunities(ctx, sc.client, ids)
	if err != nil {
		return false, eris.Wrap(err, "suppression: opportunity lookup")
	}
	for _, o := range opps {
		if sc.stageBlocks(o.StageName) {
			zap.L().Debug("suppression: open opportunity blocks candidate",
				zap.String("domain", domain),
				zap.String("stage", o.StageName),
			)
			return false, nil
		}
	}
	return true, nil
}

func (sc *SalesforceChecker) accountReason(a salesforce.Account) string {
	for _, t := range sc.cfg.BlockedAccountTypes {
		if a.Type != "" && strings.EqualFold(strings.TrimSpace(a.Type), t) {
			return "account_type"
		}
	}
	if sc.cfg.RecentActivity > 0 && a.LastActivityDate != "" {
		if last, err := parseSFDate(a.LastActivityDate); err == nil {
			if sc.nowFunc().Sub(last) <= sc.cfg.RecentActivity {
				return "recent_activity"
			}
		}
	}
	return ""
}

func (sc *SalesforceChecker) stageBlocks(stage string) bool {
	if len(sc.cfg.OpenStages) == 0 {
		return true
	}
	for _, s := range sc.cfg.OpenStages {
		if strings.EqualFold(s, stage) {
			return true
		}
	}
	return false
}

func parseSFDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("suppression: unparseable date %q", s)
}
