// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Apply legacy aliases (URL_SITE -> BASE_URL).
//  4. Resolve <NAME>_FILE secret references via the SecretProvider.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Populate BuildInfo from linker-injected variables.
//  7. Validate the struct using go-playground/validator, then check the
//     runtime requirements that depend on mode and backend.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretFileSuffix marks variables that point at a file holding the value of
// the variable named by the prefix (STRIPE_SECRET_KEY_FILE -> STRIPE_SECRET_KEY).
const secretFileSuffix = "_FILE"

// envAliases maps legacy variable names to their canonical names. The alias is
// applied only when the canonical name is unset.
var envAliases = map[string]string{
	"URL_SITE": "BASE_URL",
}

type envLookup func(key string) (string, bool)

type envSet func(key, value string) error

type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the process configuration. The provider
// resolves <NAME>_FILE references; it may be nil when none are present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv.Load does NOT override existing environment variables.
	_ = godotenv.Load()

	if err := applyAliases(deps); err != nil {
		return nil, err
	}

	if err := resolveSecretFiles(provider, deps); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()
	cfg.Server.BaseURL = strings.TrimSuffix(cfg.Server.BaseURL, "/")

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkRuntimeRequirements(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyAliases(deps loaderDeps) error {
	for alias, canonical := range envAliases {
		if _, ok := deps.lookupEnv(canonical); ok {
			continue
		}
		value, ok := deps.lookupEnv(alias)
		if !ok || value == "" {
			continue
		}
		if err := deps.setEnv(canonical, value); err != nil {
			return &ConfigError{
				Type:    ErrParsing,
				Message: fmt.Sprintf("failed to apply alias %s -> %s", alias, canonical),
				Err:     err,
			}
		}
	}
	return nil
}

// resolveSecretFiles scans the environment for <NAME>_FILE variables, reads
// the referenced values through the provider and injects them as <NAME> so
// envconfig can process them. A <NAME> that is already set wins.
func resolveSecretFiles(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	var targets []string

	for _, entry := range deps.environ() {
		eqIdx := strings.IndexByte(entry, '=')
		if eqIdx < 0 {
			continue
		}
		key, path := entry[:eqIdx], entry[eqIdx+1:]
		if !strings.HasSuffix(key, secretFileSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, secretFileSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		pathToTarget[path] = target
		targets = append(targets, target)
	}

	if len(pathToTarget) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("SecretProvider is required to resolve: %s", strings.Join(targets, ", ")),
		}
	}

	paths := make([]string, 0, len(pathToTarget))
	for p := range pathToTarget {
		paths = append(paths, p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret files", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for path, target := range pathToTarget {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret files not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}

// checkRuntimeRequirements enforces the values that are only required outside
// test mode or for a particular backend. Struct tags cannot express these.
func checkRuntimeRequirements(cfg *Config) error {
	var missing []string

	if cfg.Store.Backend == StorePostgres && !cfg.Database.URL.IsSet() {
		missing = append(missing, "DATABASE_URL")
	}

	if !cfg.IsTestMode {
		if !cfg.Billing.StripeSecretKey.IsSet() {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
		if !cfg.Billing.StripeWebhookSecret.IsSet() {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
		if !cfg.LLM.OpenAIAPIKey.IsSet() && !cfg.LLM.GeminiAPIKey.IsSet() {
			missing = append(missing, "OPENAI_API_KEY or GEMINI_API_KEY")
		}
		if !cfg.Access.Code.IsSet() && !cfg.Access.CodeHash.IsSet() {
			missing = append(missing, "MAYROGA_ACCESS_CODE or MAYROGA_ACCESS_CODE_HASH")
		}
	}

	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "missing required configuration: " + strings.Join(missing, ", "),
		}
	}

	if cfg.Access.TicketKey.IsSet() && len(cfg.Access.TicketKey.Unmask()) < 32 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "TICKET_SIGNING_KEY must be at least 32 characters",
		}
	}

	return nil
}
