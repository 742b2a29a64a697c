package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, nowFunc: func() time.Time { return fixedNow }}
	return s, mock
}

func TestPostgresStore_FindCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	units := 200

	data, err := json.Marshal(model.Candidate{Name: "Acme PM", City: "Wichita", State: "KS"})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT domain, data FROM companies WHERE state = \$1 AND lower\(city\) = \$2 AND unit_count >= \$3 ORDER BY updated_at DESC, domain LIMIT \$4`).
		WithArgs("KS", "wichita", 200, 25).
		WillReturnRows(pgxmock.NewRows([]string{"domain", "data"}).AddRow("acme.com", data))

	got, err := s.FindCandidates(context.Background(), model.CandidateFilter{
		State:   "ks",
		City:    "Wichita",
		UnitMin: &units,
		Limit:   25,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "acme.com", got[0].Domain)
	assert.Equal(t, "Acme PM", got[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCandidates_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT domain, data FROM companies ORDER BY updated_at DESC, domain LIMIT \$1`).
		WithArgs(defaultQueryLimit).
		WillReturnRows(pgxmock.NewRows([]string{"domain", "data"}))

	got, err := s.FindCandidates(context.Background(), model.CandidateFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCandidate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	units := 320

	mock.ExpectExec(`INSERT INTO "companies" .* ON CONFLICT \("domain"\) DO UPDATE SET`).
		WithArgs("acme.com", "Acme PM", "https://www.acme.com", "Tulsa", "OK", "AppFolio",
			320, "A", "discovery", pgxmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertCandidate(context.Background(), &model.Candidate{
		Name:      "Acme PM",
		Website:   "https://www.acme.com",
		City:      "Tulsa",
		State:     "ok",
		PMS:       "AppFolio",
		UnitCount: &units,
		ICPTier:   "A",
		Source:    "discovery",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCandidate_NoDomain(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.UpsertCandidate(context.Background(), &model.Candidate{Name: "Nameless"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no domain")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertContact(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "contacts" .* ON CONFLICT \("domain", "person_key"\) DO UPDATE SET`).
		WithArgs(pgxmock.AnyArg(), "acme.com", "email:jane@acme.com", "Jane Roe", "Owner", "jane@acme.com",
			true, "passed", pgxmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertContact(context.Background(), "www.acme.com", &model.Person{
		FullName:      "Jane Roe",
		Title:         "Owner",
		Email:         "Jane@Acme.com",
		EmailVerified: true,
		QualityReason: "passed",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertContact_NoIdentity(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	err := s.UpsertContact(context.Background(), "", &model.Person{FullName: "Jane Roe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without company domain")
}

func TestPostgresStore_ImportCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_companies"}, companyColumns).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.ImportCandidates(context.Background(), []model.Candidate{
		{Domain: "a.com"},
		{Website: "https://www.b.com/about"},
		{Domain: "A.com"},
		{Name: "no domain"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRequest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, request, last_run, run_history, error, last_attempt_at, created_at, updated_at FROM lead_requests WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRequest(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FetchQueuedRequests(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	attempted := fixedNow.Add(-time.Hour)
	lastRun := []byte(`{"run_id":"r1"}`)

	rows := pgxmock.NewRows([]string{"id", "status", "request", "last_run", "run_history", "error", "last_attempt_at", "created_at", "updated_at"}).
		AddRow("req-1", "pending", []byte(`{"quantity":5,"state":"KS"}`), (*[]byte)(nil), []byte(`[]`), "", (*time.Time)(nil), fixedNow, fixedNow).
		AddRow("req-2", "queued", []byte(`{"quantity":2}`), &lastRun, []byte(`[{"status":"failed","error":"boom","timestamp":"2026-05-01T11:00:00Z"}]`), "boom", &attempted, fixedNow, fixedNow)
	mock.ExpectQuery(`FROM lead_requests WHERE status IN \(\$1, \$2\) ORDER BY created_at ASC LIMIT \$3`).
		WithArgs("pending", "queued", 10).
		WillReturnRows(rows)

	got, err := s.FetchQueuedRequests(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.RequestPending, got[0].Status)
	assert.EqualValues(t, 5, got[0].Raw["quantity"])
	assert.Nil(t, got[0].LastRun)
	assert.Nil(t, got[0].LastAttemptAt)

	assert.Equal(t, "r1", got[1].LastRun["run_id"])
	require.Len(t, got[1].History, 1)
	assert.Equal(t, model.RequestFailed, got[1].History[0].Status)
	require.NotNil(t, got[1].LastAttemptAt)
	assert.True(t, attempted.Equal(*got[1].LastAttemptAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRequests(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := fixedNow.Add(-24 * time.Hour)

	rows := pgxmock.NewRows([]string{"id", "status", "request", "last_run", "run_history", "error", "last_attempt_at", "created_at", "updated_at"}).
		AddRow("req-9", "failed", []byte(`{"quantity":4}`), (*[]byte)(nil), []byte(`[]`), "discovery unavailable", (*time.Time)(nil), fixedNow, fixedNow)
	mock.ExpectQuery(`FROM lead_requests WHERE updated_at >= \$1 ORDER BY updated_at DESC LIMIT \$2`).
		WithArgs(since, 50).
		WillReturnRows(rows)

	got, err := s.ListRequests(context.Background(), since, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.RequestFailed, got[0].Status)
	assert.Equal(t, "discovery unavailable", got[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO lead_requests \(id, status, request, run_history, created_at, updated_at\)`).
		WithArgs(pgxmock.AnyArg(), "pending", []byte(`{"quantity":3}`), []byte(`[]`), fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r, err := s.EnqueueRequest(context.Background(), map[string]any{"quantity": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.RequestPending, r.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRequest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE lead_requests SET status = \$1`).
		WithArgs("processing", pgxmock.AnyArg(), pgxmock.AnyArg(), "", pgxmock.AnyArg(), fixedNow, "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRequest(context.Background(), &model.Request{ID: "gone", Status: model.RequestProcessing})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS companies`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
