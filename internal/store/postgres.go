package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/db"
	"github.com/sells-group/lead-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	companyUpsert = db.UpsertConfig{
		Table:        "companies",
		Columns:      companyColumns,
		ConflictKeys: []string{"domain"},
		UpdateCols:   companyUpdateColumns,
	}
	contactUpsert = db.UpsertConfig{
		Table:        "contacts",
		Columns:      contactColumns,
		ConflictKeys: []string{"domain", "person_key"},
		UpdateCols:   contactUpdateColumns,
	}
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	domain       TEXT PRIMARY KEY,
	company_name TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL DEFAULT '',
	pms          TEXT NOT NULL DEFAULT '',
	unit_count   INTEGER,
	icp_tier     TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_state_city ON companies(state, lower(city));
CREATE INDEX IF NOT EXISTS idx_companies_updated_at ON companies(updated_at DESC);

CREATE TABLE IF NOT EXISTS contacts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	domain         TEXT NOT NULL,
	person_key     TEXT NOT NULL,
	full_name      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	email_verified BOOLEAN NOT NULL DEFAULT false,
	quality_reason TEXT NOT NULL DEFAULT '',
	data           JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (domain, person_key)
);

CREATE INDEX IF NOT EXISTS idx_contacts_domain ON contacts(domain);

CREATE TABLE IF NOT EXISTS lead_requests (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status          TEXT NOT NULL DEFAULT 'pending',
	request         JSONB NOT NULL,
	last_run        JSONB,
	run_history     JSONB NOT NULL DEFAULT '[]'::jsonb,
	error           TEXT NOT NULL DEFAULT '',
	last_attempt_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lead_requests_status_created ON lead_requests(status, created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now().UTC()
	}
	return s.nowFunc().UTC()
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// FindCandidates returns stored companies matching f, most recently
// updated first.
func (s *PostgresStore) FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.Candidate, error) {
	where, args := candidateWhere(f, pgPlaceholder)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit)
	query := `SELECT domain, data FROM companies` + where +
		fmt.Sprintf(` ORDER BY updated_at DESC, domain LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var (
			domain string
			data   []byte
		)
		if err := rows.Scan(&domain, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		c, err := decodeCandidate(domain, data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find candidates iterate")
}

func (s *PostgresStore) UpsertCandidate(ctx context.Context, c *model.Candidate) error {
	row, err := companyRow(c, s.now())
	if err != nil {
		return err
	}
	_, err = db.Upsert(ctx, s.pool, companyUpsert, row...)
	return eris.Wrap(err, "postgres: upsert candidate")
}

func (s *PostgresStore) UpsertContact(ctx context.Context, domain string, p *model.Person) error {
	row, err := contactRow(domain, p, s.now())
	if err != nil {
		return err
	}
	_, err = db.Upsert(ctx, s.pool, contactUpsert, row...)
	return eris.Wrap(err, "postgres: upsert contact")
}

// ImportCandidates bulk-loads candidates through COPY. Records without a
// domain are skipped.
func (s *PostgresStore) ImportCandidates(ctx context.Context, cands []model.Candidate) (int64, error) {
	now := s.now()
	seen := make(map[string]bool, len(cands))
	rows := make([][]any, 0, len(cands))
	for i := range cands {
		row, err := companyRow(&cands[i], now)
		if err != nil {
			continue
		}
		// COPY into the temp table cannot resolve duplicate keys itself.
		if key := row[0].(string); !seen[key] {
			seen[key] = true
			rows = append(rows, row)
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, companyUpsert, rows)
	return n, eris.Wrap(err, "postgres: import candidates")
}

func (s *PostgresStore) EnqueueRequest(ctx context.Context, raw map[string]any) (*model.Request, error) {
	r := newRequest(raw, s.now())
	enc, err := encodeRequest(r)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO lead_requests (id, status, request, run_history, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, string(r.Status), enc.raw, enc.history, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enqueue request")
	}
	return r, nil
}

const requestSelect = `SELECT id, status, request, last_run, run_history, error, last_attempt_at, created_at, updated_at FROM lead_requests`

func scanPGRequest(row pgx.Row) (*model.Request, error) {
	var (
		r       model.Request
		enc     requestJSON
		status  string
		lastRun *[]byte
	)
	if err := row.Scan(&r.ID, &status, &enc.raw, &lastRun, &enc.history, &r.Error, &r.LastAttemptAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	if lastRun != nil {
		enc.lastRun = *lastRun
	}
	if err := decodeRequest(&r, enc); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	r, err := scanPGRequest(s.pool.QueryRow(ctx, requestSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}
	return r, nil
}

// FetchQueuedRequests returns runnable requests, oldest first.
func (s *PostgresStore) FetchQueuedRequests(ctx context.Context, limit int) ([]model.Request, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.pool.Query(ctx,
		requestSelect+` WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT $3`,
		string(model.RequestPending), string(model.RequestQueued), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch queued requests")
	}
	defer rows.Close()

	var out []model.Request
	for rows.Next() {
		r, err := scanPGRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: fetch queued requests iterate")
}

func (s *PostgresStore) ListRequests(ctx context.Context, since time.Time, limit int) ([]model.Request, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.pool.Query(ctx,
		requestSelect+` WHERE updated_at >= $1 ORDER BY updated_at DESC LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()

	var out []model.Request
	for rows.Next() {
		r, err := scanPGRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list requests iterate")
}

// UpdateRequest persists the mutable fields of r.
func (s *PostgresStore) UpdateRequest(ctx context.Context, r *model.Request) error {
	r.UpdatedAt = s.now()
	enc, err := encodeRequest(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE lead_requests SET status = $1, last_run = $2, run_history = $3, error = $4, last_attempt_at = $5, updated_at = $6 WHERE id = $7`,
		string(r.Status), enc.lastRun, enc.history, r.Error, r.LastAttemptAt, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "request %s", r.ID)
	}
	return nil
}
