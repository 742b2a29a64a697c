package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// maxErrorLog bounds the number of error entries kept per run.
const maxErrorLog = 200

// Metrics accumulates run counters. Counters are safe for concurrent use.
type Metrics struct {
	start time.Time

	SourceLoaded             atomic.Int64
	Discovered               atomic.Int64
	Duplicates               atomic.Int64
	Suppressed               atomic.Int64
	ClassificationRejected   atomic.Int64
	LocationRejected         atomic.Int64
	Flagged                  atomic.Int64
	DiscoveryRounds          atomic.Int64
	DiscoveryFailures        atomic.Int64
	EnrichmentAttempted      atomic.Int64
	EnrichmentSucceeded      atomic.Int64
	EnrichmentFailed         atomic.Int64
	EnrichmentRetried        atomic.Int64
	CompaniesWithoutContacts atomic.Int64
	ContactsConsidered       atomic.Int64
	ContactsVerified         atomic.Int64
	ContactsRejected         atomic.Int64
	ContactsSalvaged         atomic.Int64
	TopUpRounds              atomic.Int64

	mu       sync.Mutex
	calls    map[string]*CallTally
	errors   []ErrorEntry
	phases   map[string]time.Duration
	rejected map[string]int64
}

// CallTally counts outcomes of calls to one dependency.
type CallTally struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// ErrorEntry is one recorded dependency or phase error.
type ErrorEntry struct {
	Time      time.Time `json:"time"`
	Service   string    `json:"service"`
	Operation string    `json:"operation,omitempty"`
	Class     string    `json:"class"`
	Message   string    `json:"message"`
}

// NewMetrics returns zeroed metrics starting now.
func NewMetrics() *Metrics {
	return &Metrics{
		start:    time.Now(),
		calls:    make(map[string]*CallTally),
		phases:   make(map[string]time.Duration),
		rejected: make(map[string]int64),
	}
}

// RecordCall tallies one call outcome. Callers record the error itself with
// RecordError, naming the operation.
func (m *Metrics) RecordCall(service string, err error) {
	m.mu.Lock()
	t, ok := m.calls[service]
	if !ok {
		t = &CallTally{}
		m.calls[service] = t
	}
	if err == nil {
		t.Success++
	} else {
		t.Failure++
	}
	m.mu.Unlock()
}

// RecordError appends to the bounded error log.
func (m *Metrics) RecordError(service, operation string, err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, ErrorEntry{
		Time:      time.Now().UTC(),
		Service:   service,
		Operation: operation,
		Class:     string(resilience.Classify(err)),
		Message:   err.Error(),
	})
	if len(m.errors) > maxErrorLog {
		m.errors = m.errors[len(m.errors)-maxErrorLog:]
	}
}

// RecordRejection counts a quality-gate rejection by reason.
func (m *Metrics) RecordRejection(reason string) {
	m.mu.Lock()
	m.rejected[reason]++
	m.mu.Unlock()
}

// RecordPhase stores how long a phase took.
func (m *Metrics) RecordPhase(phase Phase, d time.Duration) {
	m.mu.Lock()
	m.phases[string(phase)] += d
	m.mu.Unlock()
}

// MetricsSnapshot is the serialized form of Metrics.
type MetricsSnapshot struct {
	Counters        map[string]int64     `json:"counters"`
	APICalls        map[string]CallTally `json:"api_calls"`
	SuccessRates    map[string]float64   `json:"success_rates"`
	Rejections      map[string]int64     `json:"rejections,omitempty"`
	PhaseDurationMs map[string]int64     `json:"phase_duration_ms,omitempty"`
	Errors          []ErrorEntry         `json:"errors,omitempty"`
	DurationSecs    float64              `json:"duration_secs"`
}

// Snapshot returns a consistent copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters: map[string]int64{
			"source_loaded":              m.SourceLoaded.Load(),
			"discovered":                 m.Discovered.Load(),
			"duplicates":                 m.Duplicates.Load(),
			"suppressed":                 m.Suppressed.Load(),
			"classification_rejected":    m.ClassificationRejected.Load(),
			"location_rejected":          m.LocationRejected.Load(),
			"flagged":                    m.Flagged.Load(),
			"discovery_rounds":           m.DiscoveryRounds.Load(),
			"discovery_failures":         m.DiscoveryFailures.Load(),
			"enrichment_attempted":       m.EnrichmentAttempted.Load(),
			"enrichment_succeeded":       m.EnrichmentSucceeded.Load(),
			"enrichment_failed":          m.EnrichmentFailed.Load(),
			"enrichment_retried":         m.EnrichmentRetried.Load(),
			"companies_without_contacts": m.CompaniesWithoutContacts.Load(),
			"contacts_considered":        m.ContactsConsidered.Load(),
			"contacts_verified":          m.ContactsVerified.Load(),
			"contacts_rejected":          m.ContactsRejected.Load(),
			"contacts_salvaged":          m.ContactsSalvaged.Load(),
			"topup_rounds":               m.TopUpRounds.Load(),
		},
		APICalls:        make(map[string]CallTally),
		SuccessRates:    make(map[string]float64),
		Rejections:      make(map[string]int64),
		PhaseDurationMs: make(map[string]int64),
		DurationSecs:    time.Since(m.start).Seconds(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, t := range m.calls {
		s.APICalls[name] = *t
		if total := t.Success + t.Failure; total > 0 {
			s.SuccessRates[name] = float64(t.Success) / float64(total)
		}
	}
	for r, n := range m.rejected {
		s.Rejections[r] = n
	}
	for p, d := range m.phases {
		s.PhaseDurationMs[p] = d.Milliseconds()
	}
	s.Errors = append([]ErrorEntry(nil), m.errors...)
	return s
}

// Map returns the snapshot as a generic map for checkpoint payloads.
func (s MetricsSnapshot) Map() map[string]any {
	out := make(map[string]any, len(s.Counters)+1)
	for k, v := range s.Counters {
		out[k] = v
	}
	out["duration_secs"] = s.DurationSecs
	return out
}
