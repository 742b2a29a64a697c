package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/pkg/webhook"
)

const alertTimeout = 10 * time.Second

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRequestFailureRate AlertType = "request_failure_rate"
	AlertStuckRequests      AlertType = "stuck_requests"
	AlertBreakerOpen        AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *webhook.Client
}

// NewAlerter creates a new Alerter. Alerts are posted through client, which
// owns retries.
func NewAlerter(cfg config.MonitoringConfig, client *webhook.Client) *Alerter {
	if client == nil {
		client = webhook.NewClient()
	}
	return &Alerter{cfg: cfg, client: client}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	finished := snap.Completed + snap.Failed
	if finished >= max(a.cfg.MinFinished, 1) && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRequestFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Lead request failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if len(snap.StuckIDs) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckRequests,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d lead request(s) processing for more than %d minutes",
				len(snap.StuckIDs), a.cfg.StuckAfterMins,
			),
			Details: map[string]any{
				"request_ids": snap.StuckIDs,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message:  "Circuit open for: " + strings.Join(snap.OpenBreakers, ", "),
			Details: map[string]any{
				"services": snap.OpenBreakers,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if _, err := a.client.Post(ctx, "alert", a.cfg.WebhookURL, alertTimeout, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}
