// Package config defines the global configuration structure for the podflow
// services. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any missing required value or invalid format causes the application to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"podflow/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the podflow services.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"podflow"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Provider  ProviderConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration for the API service.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers
	EngagementQueueURL string `envconfig:"SQS_ENGAGEMENT_QUEUE" validate:"required,url"`
	RateLimitTable     string `envconfig:"DYNAMO_RATE_LIMIT_TABLE" default:"podflow-rate-limits"`
	MetricNamespace    string `envconfig:"METRIC_NAMESPACE" default:"Podflow"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ProviderConfig holds the engagement provider API settings. The provider is
// the upstream social platform API that likes and comments are sent to.
type ProviderConfig struct {
	BaseURL  string        `envconfig:"PROVIDER_BASE_URL" validate:"required,url"`
	APIToken SecretString  `envconfig:"PROVIDER_API_TOKEN" validate:"required"`
	Timeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"25s"`
}

// RateLimitConfig holds per-account action budget settings.
type RateLimitConfig struct {
	DailyActionCap int           `envconfig:"RATE_LIMIT_DAILY_CAP" default:"90"`
	Cooldown       time.Duration `envconfig:"RATE_LIMIT_COOLDOWN" default:"15m"`
}

// WorkerConfig holds worker pool and retry tuning for the engagement worker.
type WorkerConfig struct {
	Concurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"3" validate:"min=2,max=5"`
	LockDuration time.Duration `envconfig:"WORKER_LOCK_DURATION" default:"60s"`
	WaitTime     time.Duration `envconfig:"WORKER_WAIT_TIME" default:"20s"`

	MaxAttempts   int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"3"`
	BackoffBase   time.Duration `envconfig:"WORKER_BACKOFF_BASE" default:"500ms"`
	BackoffFactor float64       `envconfig:"WORKER_BACKOFF_FACTOR" default:"5"`
	BackoffMax    time.Duration `envconfig:"WORKER_BACKOFF_MAX" default:"15m"`
}

// SchedulerConfig holds batch promotion tuning.
type SchedulerConfig struct {
	BatchLimit int `envconfig:"SCHEDULER_BATCH_LIMIT" default:"500"`
	// PostMemberCap bounds how many members engage a single post inside the
	// first-hour window; excess activities stay pending for a later batch.
	PostMemberCap int `envconfig:"SCHEDULER_POST_MEMBER_CAP" default:"10"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
