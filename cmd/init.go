package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/pipeline"
	"github.com/sells-group/lead-pipeline/internal/planner"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/store"
	"github.com/sells-group/lead-pipeline/internal/suppression"
	anthropicpkg "github.com/sells-group/lead-pipeline/pkg/anthropic"
	"github.com/sells-group/lead-pipeline/pkg/notion"
	sfpkg "github.com/sells-group/lead-pipeline/pkg/salesforce"
	"github.com/sells-group/lead-pipeline/pkg/webhook"
)

// pipelineEnv holds the store and orchestrator needed by the run, queue
// and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for mode, opens and migrates the store,
// and builds the orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	deps, err := buildDeps()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	deps.Store = st

	return &pipelineEnv{
		Store:        st,
		Orchestrator: pipeline.New(cfg, deps),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leads.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newWebhookClient returns a webhook client retrying per cfg.Retry.
func newWebhookClient() *webhook.Client {
	return webhook.NewClient(webhook.WithRetry(resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		time.Duration(cfg.Retry.BaseBackoffMs)*time.Millisecond,
		time.Duration(cfg.Retry.MaxBackoffSecs)*time.Second,
		cfg.Retry.JitterFraction,
	)))
}

// buildDeps wires the webhook clients, suppression, and the splitter. The
// store is left for the caller.
func buildDeps() (pipeline.Deps, error) {
	suppressor, err := initSuppressor()
	if err != nil {
		return pipeline.Deps{}, err
	}

	wh := cfg.Webhooks
	client := newWebhookClient()

	deps := pipeline.Deps{
		Suppressor: suppressor,
		Discovery:  webhook.NewDiscovery(client, endpoint(wh.Discovery.URL, wh.Discovery.Timeout())),
		Companies:  webhook.NewCompanyEnricher(client, endpoint(wh.CompanyEnrichment.URL, wh.CompanyEnrichment.Timeout())),
		Splitter:   initSplitter(),
	}
	// Contact phases are optional; an unset URL skips them.
	if wh.ContactDiscovery.URL != "" {
		deps.ContactDiscovery = webhook.NewContactDiscovery(client, endpoint(wh.ContactDiscovery.URL, wh.ContactDiscovery.Timeout()))
	}
	if wh.EmailVerification.URL != "" {
		delay := time.Duration(wh.VerificationDelaySecs * float64(time.Second))
		deps.Verifier = webhook.NewVerifier(client, endpoint(wh.EmailVerification.URL, wh.EmailVerification.Timeout()),
			wh.VerificationAttempts, delay)
	}
	if wh.ContactEnrichment.URL != "" {
		deps.Contacts = webhook.NewContactEnricher(client, endpoint(wh.ContactEnrichment.URL, wh.ContactEnrichment.Timeout()))
	}
	return deps, nil
}

func endpoint(url string, timeout time.Duration) webhook.Endpoint {
	return webhook.Endpoint{URL: url, Timeout: timeout}
}

// initSuppressor combines the configured exclude list with the CRM
// checker. Per-request excludes are added by the orchestrator.
func initSuppressor() (suppression.Checker, error) {
	var chain suppression.Chain
	if dl := suppression.NewDomainList(cfg.Suppression.Exclude); !dl.Empty() {
		chain = append(chain, dl)
	}

	switch cfg.Suppression.Provider {
	case "salesforce":
		sfClient, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		chain = append(chain, suppression.NewSalesforceChecker(sfClient, suppression.SalesforceConfig{
			BlockedAccountTypes: cfg.Suppression.BlockedAccountType,
			OpenStages:          cfg.Suppression.OpenStages,
			RecentActivity:      time.Duration(cfg.Suppression.RecentActivityDays) * 24 * time.Hour,
			RatePerSec:          cfg.Suppression.RatePerSec,
		}))
	case "", "none":
	default:
		return nil, eris.Errorf("unsupported suppression provider: %s", cfg.Suppression.Provider)
	}

	if len(chain) == 0 {
		return suppression.AllowAll{}, nil
	}
	return chain, nil
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADS_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return sfpkg.Connect(sfpkg.Creds{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
	})
}

// initSplitter uses the model-backed area planner when an Anthropic key is
// configured.
func initSplitter() planner.Splitter {
	if cfg.Anthropic.Key == "" {
		zap.L().Debug("LEADS_ANTHROPIC_KEY not set, using broad-area splitting")
		return planner.NewGeographicSplitter(cfg.Pipeline.ChunkSize)
	}
	return planner.NewAreaPlanner(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Pipeline.ChunkSize)
}

// initQueueSource returns the request queue named by source, falling back
// to the configured queue source.
func initQueueSource(st store.Store, source string) (queue.Source, error) {
	if source == "" {
		source = cfg.Queue.Source
	}
	switch source {
	case "store":
		return queue.NewStoreSource(st), nil
	case "notion":
		if cfg.Notion.Token == "" || cfg.Notion.RequestDB == "" {
			return nil, eris.New("notion token and request DB are required (LEADS_NOTION_TOKEN, LEADS_NOTION_REQUEST_DB)")
		}
		return queue.NewNotionSource(notion.NewClient(cfg.Notion.Token), cfg.Notion.RequestDB), nil
	default:
		return nil, eris.Errorf("unsupported queue source: %s", source)
	}
}
