// Package store persists candidate companies, verified contacts and the lead
// request queue. Postgres is the production backend; SQLite serves local
// runs and tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// defaultQueryLimit bounds list queries that carry no limit.
const defaultQueryLimit = 100

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Source candidates
	FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.Candidate, error)
	UpsertCandidate(ctx context.Context, c *model.Candidate) error
	UpsertContact(ctx context.Context, domain string, p *model.Person) error
	ImportCandidates(ctx context.Context, cands []model.Candidate) (int64, error)

	// Request queue
	EnqueueRequest(ctx context.Context, raw map[string]any) (*model.Request, error)
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	FetchQueuedRequests(ctx context.Context, limit int) ([]model.Request, error)
	UpdateRequest(ctx context.Context, r *model.Request) error
	// ListRequests returns requests updated at or after since, newest first.
	ListRequests(ctx context.Context, since time.Time, limit int) ([]model.Request, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// companyColumns is the column order of the companies table used by every
// insert path.
var companyColumns = []string{
	"domain", "company_name", "website", "city", "state", "pms",
	"unit_count", "icp_tier", "source", "data", "created_at", "updated_at",
}

// companyUpdateColumns excludes the key and created_at.
var companyUpdateColumns = []string{
	"company_name", "website", "city", "state", "pms",
	"unit_count", "icp_tier", "source", "data", "updated_at",
}

var contactColumns = []string{
	"id", "domain", "person_key", "full_name", "title", "email",
	"email_verified", "quality_reason", "data", "created_at", "updated_at",
}

var contactUpdateColumns = []string{
	"full_name", "title", "email", "email_verified", "quality_reason", "data", "updated_at",
}

// companyRow returns c's column values in companyColumns order. The
// candidate is keyed by its normalized domain.
func companyRow(c *model.Candidate, now time.Time) ([]any, error) {
	if c == nil {
		return nil, eris.New("store: nil candidate")
	}
	key := c.Key()
	if key == "" {
		return nil, eris.Errorf("store: candidate %q has no domain", c.Name)
	}
	rec := *c
	rec.Domain = key
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal candidate %s", key)
	}
	var units any
	if c.UnitCount != nil {
		units = *c.UnitCount
	}
	return []any{
		key, c.Name, c.Website, c.City, strings.ToUpper(c.State), c.PMS,
		units, c.ICPTier, c.Source, data, now, now,
	}, nil
}

// contactRow returns p's column values in contactColumns order.
func contactRow(domain string, p *model.Person, now time.Time) ([]any, error) {
	if p == nil {
		return nil, eris.New("store: nil contact")
	}
	domain = model.CandidateKey(domain)
	if domain == "" {
		return nil, eris.New("store: contact without company domain")
	}
	key := model.PersonKey(*p, domain)
	if key == "" {
		return nil, eris.Errorf("store: contact %q has no identity", p.FullName)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal contact %s", key)
	}
	return []any{
		uuid.NewString(), domain, key, p.FullName, p.Title, strings.ToLower(p.Email),
		p.EmailVerified, p.QualityReason, data, now, now,
	}, nil
}

// candidateWhere renders the WHERE clause and args for f. ph renders the
// n-th (1-based) placeholder for the backend.
func candidateWhere(f model.CandidateFilter, ph func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, ph(len(args))))
	}
	if s := strings.TrimSpace(f.State); s != "" {
		add("state = %s", strings.ToUpper(s))
	}
	if s := strings.TrimSpace(f.City); s != "" {
		add("lower(city) = %s", strings.ToLower(s))
	}
	if s := strings.TrimSpace(f.PMS); s != "" {
		add("lower(pms) = %s", strings.ToLower(s))
	}
	if f.UnitMin != nil {
		add("unit_count >= %s", *f.UnitMin)
	}
	if f.UnitMax != nil {
		add("unit_count <= %s", *f.UnitMax)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func decodeCandidate(domain string, data []byte) (model.Candidate, error) {
	var c model.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return c, eris.Wrapf(err, "store: unmarshal candidate %s", domain)
	}
	c.Domain = domain
	return c, nil
}

// newRequest builds a pending request around raw.
func newRequest(raw map[string]any, now time.Time) *model.Request {
	if raw == nil {
		raw = map[string]any{}
	}
	return &model.Request{
		ID:        uuid.NewString(),
		Status:    model.RequestPending,
		Raw:       raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// requestJSON holds the encoded JSON columns of a request.
type requestJSON struct {
	raw, lastRun, history []byte
}

func encodeRequest(r *model.Request) (requestJSON, error) {
	var out requestJSON
	var err error
	if out.raw, err = json.Marshal(r.Raw); err != nil {
		return out, eris.Wrap(err, "store: marshal request")
	}
	if r.LastRun != nil {
		if out.lastRun, err = json.Marshal(r.LastRun); err != nil {
			return out, eris.Wrap(err, "store: marshal last run")
		}
	}
	history := r.History
	if history == nil {
		history = []model.HistoryEntry{}
	}
	if out.history, err = json.Marshal(history); err != nil {
		return out, eris.Wrap(err, "store: marshal history")
	}
	return out, nil
}

func decodeRequest(r *model.Request, enc requestJSON) error {
	if err := json.Unmarshal(enc.raw, &r.Raw); err != nil {
		return eris.Wrapf(err, "store: unmarshal request %s", r.ID)
	}
	if len(enc.lastRun) > 0 {
		if err := json.Unmarshal(enc.lastRun, &r.LastRun); err != nil {
			return eris.Wrapf(err, "store: unmarshal last run %s", r.ID)
		}
	}
	if len(enc.history) > 0 {
		if err := json.Unmarshal(enc.history, &r.History); err != nil {
			return eris.Wrapf(err, "store: unmarshal history %s", r.ID)
		}
	}
	return nil
}
