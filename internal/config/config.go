package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-pipeline/internal/planner"
	"github.com/sells-group/lead-pipeline/internal/quality"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Webhooks    WebhooksConfig    `yaml:"webhooks" mapstructure:"webhooks"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Breaker     BreakerConfig     `yaml:"breaker" mapstructure:"breaker"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Quality     QualityConfig     `yaml:"quality" mapstructure:"quality"`
	Suppression SuppressionConfig `yaml:"suppression" mapstructure:"suppression"`
	Salesforce  SalesforceConfig  `yaml:"salesforce" mapstructure:"salesforce"`
	Notion      NotionConfig      `yaml:"notion" mapstructure:"notion"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// SourceLimit caps candidates loaded from the store per run.
	SourceLimit int   `yaml:"source_limit" mapstructure:"source_limit"`
	MaxConns    int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// WebhookConfig configures one automation webhook.
type WebhookConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the request timeout.
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSecs) * time.Second
}

// WebhooksConfig holds the upstream automation endpoints.
type WebhooksConfig struct {
	Discovery         WebhookConfig `yaml:"discovery" mapstructure:"discovery"`
	CompanyEnrichment WebhookConfig `yaml:"company_enrichment" mapstructure:"company_enrichment"`
	ContactDiscovery  WebhookConfig `yaml:"contact_discovery" mapstructure:"contact_discovery"`
	EmailVerification WebhookConfig `yaml:"email_verification" mapstructure:"email_verification"`
	ContactEnrichment WebhookConfig `yaml:"contact_enrichment" mapstructure:"contact_enrichment"`

	VerificationAttempts  int     `yaml:"verification_attempts" mapstructure:"verification_attempts"`
	VerificationDelaySecs float64 `yaml:"verification_delay_secs" mapstructure:"verification_delay_secs"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	RunsDir string `yaml:"runs_dir" mapstructure:"runs_dir"`

	EnrichmentConcurrency int `yaml:"enrichment_concurrency" mapstructure:"enrichment_concurrency"`
	ContactConcurrency    int `yaml:"contact_concurrency" mapstructure:"contact_concurrency"`

	DiscoveryMaxRounds       int `yaml:"discovery_max_rounds" mapstructure:"discovery_max_rounds"`
	DiscoveryRoundDelaySecs  int `yaml:"discovery_round_delay_secs" mapstructure:"discovery_round_delay_secs"`
	DiscoveryFailureLimit    int `yaml:"discovery_failure_limit" mapstructure:"discovery_failure_limit"`
	DiscoveryBackoffStepSecs int `yaml:"discovery_backoff_step_secs" mapstructure:"discovery_backoff_step_secs"`
	DiscoveryBackoffMaxSecs  int `yaml:"discovery_backoff_max_secs" mapstructure:"discovery_backoff_max_secs"`
	DiscoveryTimeoutSecs     int `yaml:"discovery_timeout_secs" mapstructure:"discovery_timeout_secs"`

	ParallelChunks      bool `yaml:"parallel_chunks" mapstructure:"parallel_chunks"`
	ChunkSize           int  `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkConcurrency    int  `yaml:"chunk_concurrency" mapstructure:"chunk_concurrency"`
	ChunkMaxConcurrency int  `yaml:"chunk_max_concurrency" mapstructure:"chunk_max_concurrency"`

	EnrichmentRetryDelaySecs int `yaml:"enrichment_retry_delay_secs" mapstructure:"enrichment_retry_delay_secs"`
	MaxEnrichmentRetries     int `yaml:"max_enrichment_retries" mapstructure:"max_enrichment_retries"`
	MaxCompaniesPerRun       int `yaml:"max_companies_per_run" mapstructure:"max_companies_per_run"`
	MaxContactsPerCompany    int `yaml:"max_contacts_per_company" mapstructure:"max_contacts_per_company"`
	TopUpMaxRounds           int `yaml:"topup_max_rounds" mapstructure:"topup_max_rounds"`
	CheckpointIntervalSecs   int `yaml:"checkpoint_interval_secs" mapstructure:"checkpoint_interval_secs"`
	IncrementalFlushEvery    int `yaml:"incremental_flush_every" mapstructure:"incremental_flush_every"`

	// BufferSteps overrides the buffer multiplier table when set.
	BufferSteps []planner.Step `yaml:"buffer_steps" mapstructure:"buffer_steps"`
}

// BreakerConfig configures per-dependency circuit breakers.
type BreakerConfig struct {
	Enabled             bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold    int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeoutSecs int  `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
}

// RetryConfig configures outbound call retries.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoffMs  int     `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	MaxBackoffSecs int     `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// QualityConfig configures the quality gates.
type QualityConfig struct {
	ClassificationStrict bool                   `yaml:"classification_strict" mapstructure:"classification_strict"`
	LocationGate         bool                   `yaml:"location_gate" mapstructure:"location_gate"`
	Evidence             quality.EvidenceConfig `yaml:"evidence" mapstructure:"evidence"`
}

// SuppressionConfig configures CRM suppression.
type SuppressionConfig struct {
	// Provider is "salesforce" or "none".
	Provider           string   `yaml:"provider" mapstructure:"provider"`
	RecentActivityDays int      `yaml:"recent_activity_days" mapstructure:"recent_activity_days"`
	RatePerSec         float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	BlockedAccountType []string `yaml:"blocked_account_types" mapstructure:"blocked_account_types"`
	OpenStages         []string `yaml:"open_stages" mapstructure:"open_stages"`
	Exclude            []string `yaml:"exclude" mapstructure:"exclude"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotionConfig holds Notion API credentials and database IDs.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	RequestDB string `yaml:"request_db" mapstructure:"request_db"`
}

// AnthropicConfig holds Anthropic API settings for the area planner.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// QueueConfig configures request queue processing.
type QueueConfig struct {
	// Source is "store" or "notion".
	Source string `yaml:"source" mapstructure:"source"`
	Limit  int    `yaml:"limit" mapstructure:"limit"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures background queue health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// MinFinished is the number of finished requests needed before the
	// failure rate is evaluated.
	MinFinished int `yaml:"min_finished" mapstructure:"min_finished"`
	// StuckAfterMins flags requests left in processing longer than this.
	StuckAfterMins int `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.source_limit", 200)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("webhooks.discovery.timeout_secs", 1800)
	v.SetDefault("webhooks.company_enrichment.timeout_secs", 900)
	v.SetDefault("webhooks.contact_discovery.timeout_secs", 600)
	v.SetDefault("webhooks.email_verification.timeout_secs", 300)
	v.SetDefault("webhooks.contact_enrichment.timeout_secs", 600)
	v.SetDefault("webhooks.verification_attempts", 3)
	v.SetDefault("webhooks.verification_delay_secs", 2.5)

	v.SetDefault("pipeline.runs_dir", "runs")
	v.SetDefault("pipeline.enrichment_concurrency", 3)
	v.SetDefault("pipeline.contact_concurrency", 3)
	v.SetDefault("pipeline.discovery_max_rounds", 6)
	v.SetDefault("pipeline.discovery_round_delay_secs", 2)
	v.SetDefault("pipeline.discovery_failure_limit", 3)
	v.SetDefault("pipeline.discovery_backoff_step_secs", 5)
	v.SetDefault("pipeline.discovery_backoff_max_secs", 30)
	v.SetDefault("pipeline.discovery_timeout_secs", 1800)
	v.SetDefault("pipeline.parallel_chunks", true)
	v.SetDefault("pipeline.chunk_size", planner.DefaultChunkSize)
	v.SetDefault("pipeline.chunk_concurrency", 2)
	v.SetDefault("pipeline.chunk_max_concurrency", 4)
	v.SetDefault("pipeline.enrichment_retry_delay_secs", 5)
	v.SetDefault("pipeline.max_enrichment_retries", 2)
	v.SetDefault("pipeline.max_companies_per_run", planner.DefaultMaxIntake)
	v.SetDefault("pipeline.max_contacts_per_company", 10)
	v.SetDefault("pipeline.topup_max_rounds", 3)
	v.SetDefault("pipeline.checkpoint_interval_secs", 300)
	v.SetDefault("pipeline.incremental_flush_every", 5)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout_secs", 300)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_secs", 30)
	v.SetDefault("retry.jitter_fraction", 0.5)

	v.SetDefault("quality.classification_strict", true)
	v.SetDefault("quality.location_gate", true)
	v.SetDefault("quality.evidence.min_personal", 0)
	v.SetDefault("quality.evidence.min_professional", 0)
	v.SetDefault("quality.evidence.min_total", 1)
	v.SetDefault("quality.evidence.allow_personalization_fallback", true)
	v.SetDefault("quality.evidence.allow_seed_url_fallback", true)

	v.SetDefault("suppression.provider", "none")
	v.SetDefault("suppression.recent_activity_days", 120)
	v.SetDefault("suppression.rate_per_sec", 4.0)
	v.SetDefault("suppression.blocked_account_types", []string{"Customer", "Customer - Direct", "Customer - Channel"})
	v.SetDefault("suppression.open_stages", []string{"Prospecting", "Qualification", "Needs Analysis", "Proposal", "Negotiation"})

	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("queue.source", "store")
	v.SetDefault("queue.limit", 1)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished", 5)
	v.SetDefault("monitoring.stuck_after_mins", 120)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
