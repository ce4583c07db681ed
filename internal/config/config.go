// Package config defines the process configuration for the May Roga API.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret Files (<NAME>_FILE, Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"mayroga/internal/types"
)

// SecretString is an alias for types.SecretString so call sites in this
// package do not need to import types for every secret field.
type SecretString = types.SecretString

// Store backends accepted by STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	Server    ServerConfig
	Billing   BillingConfig
	LLM       LLMConfig
	Access    AccessConfig
	Catalog   CatalogConfig
	Store     StoreConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	AWS       AWSConfig
	Security  SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// BaseURL is the public origin used to build Stripe success and cancel
	// redirects (no trailing slash). URL_SITE is accepted as an alias.
	BaseURL        string        `envconfig:"BASE_URL" default:"http://localhost:8080" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// BillingConfig holds Stripe credentials.
type BillingConfig struct {
	StripeSecretKey      SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePublishableKey string       `envconfig:"STRIPE_PUBLISHABLE_KEY"`
	StripeAPIBase        string       `envconfig:"STRIPE_API_BASE" validate:"omitempty,url"`
	Currency             string       `envconfig:"STRIPE_CURRENCY" default:"usd" validate:"len=3"`
}

// LLMConfig holds the chat provider credentials and client tuning.
type LLMConfig struct {
	OpenAIAPIKey  SecretString  `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string        `envconfig:"OPENAI_BASE_URL" validate:"omitempty,url"`
	GeminiAPIKey  SecretString  `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string        `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	GeminiBaseURL string        `envconfig:"GEMINI_BASE_URL" validate:"omitempty,url"`
	Timeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
	// MaxRetries is 0 unless an operator opts in.
	MaxRetries int `envconfig:"LLM_MAX_RETRIES" default:"0" validate:"min=0,max=3"`
}

// AccessConfig holds the secret-code gate and unlock ticket settings.
type AccessConfig struct {
	// Code is the plaintext shared access code. CodeHash, a bcrypt hash, takes
	// precedence when both are set.
	Code      SecretString  `envconfig:"MAYROGA_ACCESS_CODE"`
	CodeHash  SecretString  `envconfig:"MAYROGA_ACCESS_CODE_HASH"`
	Bonus     int           `envconfig:"ACCESS_CODE_BONUS" default:"10" validate:"min=1"`
	TicketKey SecretString  `envconfig:"TICKET_SIGNING_KEY"`
	TicketTTL time.Duration `envconfig:"TICKET_TTL" default:"2h"`
}

// CatalogConfig points at an optional YAML catalog override.
type CatalogConfig struct {
	File string `envconfig:"CATALOG_FILE"`
}

// StoreConfig selects the entitlement store backend.
type StoreConfig struct {
	Backend  string `envconfig:"STORE_BACKEND" default:"memory" validate:"oneof=memory file postgres"`
	FilePath string `envconfig:"STORE_FILE_PATH" default:"data/entitlements.json"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL               SecretString  `envconfig:"DATABASE_URL"`
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	RecordHistory     bool          `envconfig:"RECORD_CHAT_HISTORY" default:"false"`
}

// RateLimitConfig tunes the per-client token bucket on chat and checkout routes.
type RateLimitConfig struct {
	PerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30" validate:"min=0"`
	Burst     int `envconfig:"RATE_LIMIT_BURST" default:"10" validate:"min=0"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region              string `envconfig:"AWS_REGION" default:"us-east-1"`
	GrantEventsQueueURL string `envconfig:"GRANT_EVENTS_QUEUE_URL" validate:"omitempty,url"`
	MetricNamespace     string `envconfig:"METRIC_NAMESPACE" default:"MayRoga"`
	EnableMetrics       bool   `envconfig:"ENABLE_METRICS" default:"false"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure reading a <NAME>_FILE secret.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into its
	// target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
