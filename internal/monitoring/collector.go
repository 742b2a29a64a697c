// Package monitoring watches the lead request queue and dependency breakers
// and raises alerts through a webhook.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// maxRequests bounds the requests read per collection.
const maxRequests = 10000

// MetricsSnapshot holds a point-in-time view of queue health.
type MetricsSnapshot struct {
	// Requests touched within the lookback window.
	RequestsTotal int     `json:"requests_total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Processing    int     `json:"processing"`
	Waiting       int     `json:"waiting"`
	FailRate      float64 `json:"fail_rate"`

	// Requests left in processing past the stuck threshold.
	StuckIDs []string `json:"stuck_ids,omitempty"`

	// Names of open or half-open breakers.
	OpenBreakers []string `json:"open_breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RequestLister is the request-history half of store.Store.
type RequestLister interface {
	ListRequests(ctx context.Context, since time.Time, limit int) ([]model.Request, error)
}

// BreakerSource reports dependency breaker state.
type BreakerSource interface {
	Snapshots() []resilience.Snapshot
}

// Collector gathers metrics from the request store and breaker registry.
type Collector struct {
	requests   RequestLister
	breakers   BreakerSource
	stuckAfter time.Duration
	nowFunc    func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(requests RequestLister, breakers BreakerSource, stuckAfter time.Duration) *Collector {
	return &Collector{requests: requests, breakers: breakers, stuckAfter: stuckAfter, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	reqs, err := c.requests.ListRequests(ctx, cutoff, maxRequests)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list requests")
	}

	snap.RequestsTotal = len(reqs)
	for _, r := range reqs {
		switch r.Status {
		case model.RequestCompleted:
			snap.Completed++
		case model.RequestFailed:
			snap.Failed++
		case model.RequestProcessing:
			snap.Processing++
			if c.isStuck(r, now) {
				snap.StuckIDs = append(snap.StuckIDs, r.ID)
			}
		default:
			snap.Waiting++
		}
	}
	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	if c.breakers != nil {
		for _, b := range c.breakers.Snapshots() {
			if b.State != resilience.CircuitClosed.String() {
				snap.OpenBreakers = append(snap.OpenBreakers, b.Name)
			}
		}
		sort.Strings(snap.OpenBreakers)
	}

	return snap, nil
}

func (c *Collector) isStuck(r model.Request, now time.Time) bool {
	if c.stuckAfter <= 0 {
		return false
	}
	started := r.UpdatedAt
	if r.LastAttemptAt != nil {
		started = *r.LastAttemptAt
	}
	return now.Sub(started) > c.stuckAfter
}
