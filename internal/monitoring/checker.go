package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
)

// Checker runs periodic alert checks in the background. An alert is sent
// once per distinct message; it is raised again only after its condition
// clears or its message changes.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu     sync.Mutex
	raised map[AlertType]string
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		raised:    make(map[AlertType]string),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot and sends the alerts it triggers that were
// not already raised. It returns the number of alerts sent.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}
	log = log.With(
		zap.Int("requests", snap.RequestsTotal),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("stuck_requests", len(snap.StuckIDs)),
		zap.Strings("open_breakers", snap.OpenBreakers),
	)

	alerts := c.alerter.Evaluate(snap)
	pending := c.pending(alerts)
	if len(pending) == 0 {
		log.Debug("monitoring: no new alerts", zap.Int("alerts_active", len(alerts)))
		return 0
	}

	sent := 0
	for _, a := range pending {
		if c.alerter.SendAlerts(ctx, []Alert{a}) == 0 {
			continue
		}
		c.markRaised(a)
		sent++
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(pending)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// pending forgets alert types that have cleared and returns the alerts whose
// message differs from the one last raised for their type.
func (c *Checker) pending(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		active[a.Type] = true
		if c.raised[a.Type] != a.Message {
			out = append(out, a)
		}
	}
	for t := range c.raised {
		if !active[t] {
			delete(c.raised, t)
		}
	}
	return out
}

func (c *Checker) markRaised(a Alert) {
	c.mu.Lock()
	c.raised[a.Type] = a.Message
	c.mu.Unlock()
}
