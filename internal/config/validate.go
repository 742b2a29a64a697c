package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	minDiscoveryTimeout = 60 * time.Second
	maxDiscoveryTimeout = 4 * time.Hour
)

// Validate checks the configuration for the given command mode
// ("run", "queue", "serve" or "plan"). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	switch mode {
	case "run", "queue", "serve":
		if c.Webhooks.Discovery.URL == "" {
			add("webhooks.discovery.url is required")
		}
		if c.Webhooks.CompanyEnrichment.URL == "" {
			add("webhooks.company_enrichment.url is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if mode == "queue" && c.Queue.Source == "notion" {
			if c.Notion.Token == "" {
				add("notion.token is required")
			}
			if c.Notion.RequestDB == "" {
				add("notion.request_db is required")
			}
		}
		if mode == "serve" && c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			add("monitoring.webhook_url is required when monitoring is enabled")
		}
		if c.Suppression.Provider == "salesforce" && c.Salesforce.ClientID == "" {
			add("salesforce.client_id is required when suppression.provider is salesforce")
		}
	case "plan":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	p := c.Pipeline
	if p.EnrichmentConcurrency < 1 || p.EnrichmentConcurrency > 20 {
		add("pipeline.enrichment_concurrency must be between 1 and 20")
	}
	if p.ContactConcurrency < 1 || p.ContactConcurrency > 20 {
		add("pipeline.contact_concurrency must be between 1 and 20")
	}
	if d := time.Duration(p.DiscoveryTimeoutSecs) * time.Second; d < minDiscoveryTimeout || d > maxDiscoveryTimeout {
		add("pipeline.discovery_timeout_secs must be between 60 and 14400")
	}
	if p.MaxCompaniesPerRun < 1 {
		add("pipeline.max_companies_per_run must be >= 1")
	}
	if p.MaxContactsPerCompany < 1 {
		add("pipeline.max_contacts_per_company must be >= 1")
	}
	if p.MaxEnrichmentRetries < 0 {
		add("pipeline.max_enrichment_retries must be >= 0")
	}

	ev := c.Quality.Evidence
	if ev.MinPersonal < 0 || ev.MinProfessional < 0 || ev.MinTotal < 0 {
		add("quality.evidence minimums must be >= 0")
	} else if ev.MinTotal < ev.MinPersonal+ev.MinProfessional {
		add("quality.evidence.min_total must be >= min_personal + min_professional")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
