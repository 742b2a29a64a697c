package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
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
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_companies_state ON companies(state);
CREATE INDEX IF NOT EXISTS idx_companies_updated_at ON companies(updated_at);

CREATE TABLE IF NOT EXISTS contacts (
	id             TEXT PRIMARY KEY,
	domain         TEXT NOT NULL,
	person_key     TEXT NOT NULL,
	full_name      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	email_verified INTEGER NOT NULL DEFAULT 0,
	quality_reason TEXT NOT NULL DEFAULT '',
	data           TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (domain, person_key)
);

CREATE INDEX IF NOT EXISTS idx_contacts_domain ON contacts(domain);

CREATE TABLE IF NOT EXISTS lead_requests (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'pending',
	request         TEXT NOT NULL,
	last_run        TEXT,
	run_history     TEXT NOT NULL DEFAULT '[]',
	error           TEXT NOT NULL DEFAULT '',
	last_attempt_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lead_requests_status_created ON lead_requests(status, created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now().UTC()
	}
	return s.nowFunc().UTC()
}

func sqlitePlaceholder(int) string { return "?" }

// upsertSQL renders INSERT ... ON CONFLICT for SQLite, which shares the
// Postgres upsert syntax but binds with ?.
func upsertSQL(table string, cols, keys, update []string) string {
	set := make([]string, len(update))
	for i, c := range update {
		set[i] = c + " = excluded." + c
	}
	return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ") ON CONFLICT (" +
		strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(set, ", ")
}

var (
	sqliteCompanyUpsert = upsertSQL("companies", companyColumns, []string{"domain"}, companyUpdateColumns)
	sqliteContactUpsert = upsertSQL("contacts", contactColumns, []string{"domain", "person_key"}, contactUpdateColumns)
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FindCandidates returns stored companies matching f, most recently
// updated first.
func (s *SQLiteStore) FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.Candidate, error) {
	where, args := candidateWhere(f, sqlitePlaceholder)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, data FROM companies`+where+` ORDER BY updated_at DESC, domain LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var domain, data string
		if err := rows.Scan(&domain, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		c, err := decodeCandidate(domain, []byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find candidates iterate")
}

func (s *SQLiteStore) UpsertCandidate(ctx context.Context, c *model.Candidate) error {
	return s.upsertCandidate(ctx, s.db, c, s.now())
}

func (s *SQLiteStore) upsertCandidate(ctx context.Context, ex execer, c *model.Candidate, now time.Time) error {
	row, err := companyRow(c, now)
	if err != nil {
		return err
	}
	row[9] = string(row[9].([]byte))
	_, err = ex.ExecContext(ctx, sqliteCompanyUpsert, row...)
	return eris.Wrap(err, "sqlite: upsert candidate")
}

func (s *SQLiteStore) UpsertContact(ctx context.Context, domain string, p *model.Person) error {
	row, err := contactRow(domain, p, s.now())
	if err != nil {
		return err
	}
	row[8] = string(row[8].([]byte))
	_, err = s.db.ExecContext(ctx, sqliteContactUpsert, row...)
	return eris.Wrap(err, "sqlite: upsert contact")
}

// ImportCandidates upserts candidates in one transaction. Records without
// a domain are skipped.
func (s *SQLiteStore) ImportCandidates(ctx context.Context, cands []model.Candidate) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	var n int64
	for i := range cands {
		if cands[i].Key() == "" {
			continue
		}
		if err := s.upsertCandidate(ctx, tx, &cands[i], now); err != nil {
			return 0, err
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import commit")
	}
	return n, nil
}

func (s *SQLiteStore) EnqueueRequest(ctx context.Context, raw map[string]any) (*model.Request, error) {
	r := newRequest(raw, s.now())
	enc, err := encodeRequest(r)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_requests (id, status, request, run_history, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Status), string(enc.raw), string(enc.history), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enqueue request")
	}
	return r, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRequest(row scannable) (*model.Request, error) {
	var (
		r                    model.Request
		status, raw, history string
		lastRun              sql.NullString
		lastAttempt          sql.NullTime
	)
	if err := row.Scan(&r.ID, &status, &raw, &lastRun, &history, &r.Error, &lastAttempt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		r.LastAttemptAt = &t
	}
	enc := requestJSON{raw: []byte(raw), history: []byte(history)}
	if lastRun.Valid {
		enc.lastRun = []byte(lastRun.String)
	}
	if err := decodeRequest(&r, enc); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.Request, error) {
	r, err := scanSQLiteRequest(s.db.QueryRowContext(ctx, requestSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %s", id)
	}
	return r, nil
}

// FetchQueuedRequests returns runnable requests, oldest first.
func (s *SQLiteStore) FetchQueuedRequests(ctx context.Context, limit int) ([]model.Request, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		requestSelect+` WHERE status IN (?, ?) ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		string(model.RequestPending), string(model.RequestQueued), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch queued requests")
	}
	defer rows.Close()

	var out []model.Request
	for rows.Next() {
		r, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fetch queued requests iterate")
}

func (s *SQLiteStore) ListRequests(ctx context.Context, since time.Time, limit int) ([]model.Request, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		requestSelect+` WHERE updated_at >= ? ORDER BY updated_at DESC, rowid DESC LIMIT ?`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close()

	var out []model.Request
	for rows.Next() {
		r, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list requests iterate")
}

// UpdateRequest persists the mutable fields of r.
func (s *SQLiteStore) UpdateRequest(ctx context.Context, r *model.Request) error {
	r.UpdatedAt = s.now()
	enc, err := encodeRequest(r)
	if err != nil {
		return err
	}
	var lastRun any
	if enc.lastRun != nil {
		lastRun = string(enc.lastRun)
	}
	var lastAttempt any
	if r.LastAttemptAt != nil {
		lastAttempt = r.LastAttemptAt.UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE lead_requests SET status = ?, last_run = ?, run_history = ?, error = ?, last_attempt_at = ?, updated_at = ? WHERE id = ?`,
		string(r.Status), lastRun, string(enc.history), r.Error, lastAttempt, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request %s", r.ID)
	}
	return checkRowsAffected(res, "request", r.ID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
