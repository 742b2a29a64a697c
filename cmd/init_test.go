package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/planner"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/suppression"
	"github.com/sells-group/lead-pipeline/pkg/webhook"
)

// withConfig installs c as the global config for one test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "leads.db")
	c.Webhooks.Discovery.URL = "http://discovery.local/hook"
	c.Webhooks.CompanyEnrichment.URL = "http://enrich.local/hook"
	c.Pipeline.EnrichmentConcurrency = 3
	c.Pipeline.ContactConcurrency = 3
	c.Pipeline.DiscoveryTimeoutSecs = 1800
	c.Pipeline.MaxCompaniesPerRun = 500
	c.Pipeline.MaxContactsPerCompany = 10
	c.Pipeline.ChunkSize = planner.DefaultChunkSize
	c.Quality.Evidence.MinTotal = 1
	c.Queue.Source = "store"
	c.Breaker.Enabled = true
	c.Breaker.FailureThreshold = 5
	c.Breaker.RecoveryTimeoutSecs = 300
	return c
}

func TestInitPipeline_SQLite(t *testing.T) {
	withConfig(t, testConfig(t))

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()

	require.NotNil(t, env.Orchestrator)
	require.NoError(t, env.Store.Ping(context.Background()))
	assert.NotNil(t, env.Orchestrator.Breakers())
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Webhooks.Discovery.URL = ""
	withConfig(t, c)

	_, err := initPipeline(context.Background(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhooks.discovery.url is required")
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	withConfig(t, c)

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestBuildDeps_OptionalContactPhases(t *testing.T) {
	c := testConfig(t)
	withConfig(t, c)

	deps, err := buildDeps()
	require.NoError(t, err)
	assert.Nil(t, deps.ContactDiscovery)
	assert.Nil(t, deps.Verifier)
	assert.Nil(t, deps.Contacts)
	assert.IsType(t, &planner.GeographicSplitter{}, deps.Splitter)

	c.Webhooks.ContactDiscovery.URL = "http://contacts.local"
	c.Webhooks.EmailVerification.URL = "http://verify.local"
	c.Webhooks.ContactEnrichment.URL = "http://people.local"
	c.Anthropic.Key = "test-key"
	deps, err = buildDeps()
	require.NoError(t, err)
	assert.IsType(t, &webhook.ContactDiscovery{}, deps.ContactDiscovery)
	assert.IsType(t, &webhook.Verifier{}, deps.Verifier)
	assert.IsType(t, &webhook.ContactEnricher{}, deps.Contacts)
	assert.IsType(t, &planner.AreaPlanner{}, deps.Splitter)
}

func TestInitSuppressor(t *testing.T) {
	c := testConfig(t)
	withConfig(t, c)

	chk, err := initSuppressor()
	require.NoError(t, err)
	assert.IsType(t, suppression.AllowAll{}, chk)

	c.Suppression.Exclude = []string{"acme*.com"}
	chk, err = initSuppressor()
	require.NoError(t, err)
	ok, err := chk.IsAllowed(context.Background(), &model.Candidate{Domain: "acmepm.com"})
	require.NoError(t, err)
	assert.False(t, ok)

	c.Suppression.Provider = "hubspot"
	_, err = initSuppressor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported suppression provider")
}

func TestInitSalesforce_MissingKey(t *testing.T) {
	c := testConfig(t)
	c.Salesforce.ClientID = "client"
	c.Salesforce.KeyPath = filepath.Join(t.TempDir(), "missing.pem")
	withConfig(t, c)

	_, err := initSalesforce()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read salesforce JWT private key")

	c.Salesforce.ClientID = ""
	_, err = initSalesforce()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client ID is required")
}

func TestInitQueueSource(t *testing.T) {
	c := testConfig(t)
	withConfig(t, c)

	src, err := initQueueSource(nil, "")
	require.NoError(t, err)
	assert.IsType(t, &queue.StoreSource{}, src)

	_, err = initQueueSource(nil, "notion")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion token and request DB are required")

	c.Notion.Token = "secret"
	c.Notion.RequestDB = "db-1"
	src, err = initQueueSource(nil, "notion")
	require.NoError(t, err)
	assert.IsType(t, &queue.NotionSource{}, src)

	_, err = initQueueSource(nil, "sqs")
	require.Error(t, err)
}

func TestReadCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "companies.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"companies": [
		{"name": "Acme Property Management", "website": "https://www.acmepm.com/about", "city": "Wichita", "state": "KS"},
		{"name": "No Domain LLC"}
	]}`), 0o644))

	cands, err := readCandidates(path)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "acmepm.com", cands[0].Domain)
	assert.Equal(t, "import", cands[0].Source)
	assert.Equal(t, "Wichita", cands[0].City)
}

func TestReadCandidates_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))

	_, err := readCandidates(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestStartMonitoring(t *testing.T) {
	c := testConfig(t)
	c.Breaker.Enabled = false
	withConfig(t, c)

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, startMonitoring(context.Background(), env))

	c.Monitoring.Enabled = true
	c.Monitoring.WebhookURL = "http://alerts.local/hook"
	c.Monitoring.CheckIntervalSecs = 3600
	c.Monitoring.LookbackWindowHours = 24
	c.Monitoring.StuckAfterMins = 120

	ctx, cancel := context.WithCancel(context.Background())
	checker := startMonitoring(ctx, env)
	cancel()
	require.NotNil(t, checker)

	// No requests and no breakers: nothing to alert on.
	assert.Equal(t, 0, checker.Check(context.Background()))
}
