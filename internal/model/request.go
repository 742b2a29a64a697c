package model

import "time"

// DiscoveryQuery is the input to a single discovery call.
type DiscoveryQuery struct {
	Location     string   `json:"location,omitempty"`
	State        string   `json:"state,omitempty"`
	City         string   `json:"city,omitempty"`
	PMS          string   `json:"pms,omitempty"`
	Quantity     int      `json:"quantity"`
	UnitMin      *int     `json:"unit_count_min,omitempty"`
	UnitMax      *int     `json:"unit_count_max,omitempty"`
	Suppression  []string `json:"suppression_list,omitempty"`
	Requirements string   `json:"requirements,omitempty"`
	Attempt      int      `json:"attempt"`
}

// CandidateFilter narrows a source-store lookup.
type CandidateFilter struct {
	State   string
	City    string
	PMS     string
	UnitMin *int
	UnitMax *int
	Limit   int
}

// RequestParams are the user-facing parameters of a lead request.
type RequestParams struct {
	State        string   `json:"state,omitempty" yaml:"state" validate:"omitempty,len=2,alpha"`
	City         string   `json:"city,omitempty" yaml:"city"`
	Location     string   `json:"location,omitempty" yaml:"location"`
	PMS          string   `json:"pms,omitempty" yaml:"pms"`
	Quantity     int      `json:"quantity" yaml:"quantity" validate:"gte=1"`
	UnitMin      *int     `json:"unit_min,omitempty" yaml:"unit_min" validate:"omitempty,gte=0"`
	UnitMax      *int     `json:"unit_max,omitempty" yaml:"unit_max" validate:"omitempty,gte=0"`
	Requirements string   `json:"requirements,omitempty" yaml:"requirements"`
	Exclude      []string `json:"exclude,omitempty" yaml:"exclude" validate:"dive,required"`
	MaxRounds    int      `json:"max_rounds,omitempty" yaml:"max_rounds" validate:"gte=0"`
}

// DiscoveryQuery builds the base discovery query for these parameters.
func (p RequestParams) DiscoveryQuery(quantity int) DiscoveryQuery {
	return DiscoveryQuery{
		Location:     p.Location,
		State:        p.State,
		City:         p.City,
		PMS:          p.PMS,
		Quantity:     quantity,
		UnitMin:      p.UnitMin,
		UnitMax:      p.UnitMax,
		Requirements: p.Requirements,
	}
}

// Filter builds the source-store filter for these parameters.
func (p RequestParams) Filter(limit int) CandidateFilter {
	return CandidateFilter{
		State:   p.State,
		City:    p.City,
		PMS:     p.PMS,
		UnitMin: p.UnitMin,
		UnitMax: p.UnitMax,
		Limit:   limit,
	}
}

// RequestStatus is the lifecycle state of a queued request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestQueued     RequestStatus = "queued"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Runnable reports whether a request in this status may be picked up.
func (s RequestStatus) Runnable() bool {
	return s == RequestPending || s == RequestQueued
}

// Request is a queued lead request.
type Request struct {
	ID            string         `json:"id"`
	Status        RequestStatus  `json:"status"`
	Raw           map[string]any `json:"request"`
	LastRun       map[string]any `json:"last_run,omitempty"`
	History       []HistoryEntry `json:"run_history,omitempty"`
	Error         string         `json:"error,omitempty"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HistoryEntry records one processing attempt of a request.
type HistoryEntry struct {
	Status    RequestStatus  `json:"status"`
	RunID     string         `json:"run_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MaxRequestHistory bounds Request.History.
const MaxRequestHistory = 20

// AppendHistory appends e and keeps only the most recent entries.
func (r *Request) AppendHistory(e HistoryEntry) {
	r.History = append(r.History, e)
	if n := len(r.History); n > MaxRequestHistory {
		r.History = append([]HistoryEntry(nil), r.History[n-MaxRequestHistory:]...)
	}
}
