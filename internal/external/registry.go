package external

import (
	"log/slog"
	"net/http"
	"time"

	"mayroga/internal/catalog"
	"mayroga/internal/config"
)

// ---------------------------------------------------------------------------
// Client Registry
//
// Builds every vendor client from configuration. Test mode and APP_ENV=local
// get stubs; other environments get real clients with strict timeouts.
// ---------------------------------------------------------------------------

// ClientRegistry holds the vendor clients the rest of the application uses.
type ClientRegistry struct {
	Payments PaymentProvider
	Webhooks WebhookVerifier

	// Chat maps provider name (catalog.ProviderOpenAI, catalog.ProviderGemini)
	// to its client. Providers without credentials are absent.
	Chat map[string]ChatProvider
}

// NewClientRegistry initializes all external clients for cfg.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.IsTestMode || cfg.Environment == "local" && !cfg.Billing.StripeSecretKey.IsSet() {
		logger.Info("initializing external clients in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		return newStubRegistry(logger), nil
	}

	logger.Info("initializing external clients in PRODUCTION mode", "environment", cfg.Environment)
	return newProductionRegistry(cfg, logger), nil
}

func newStubRegistry(logger *slog.Logger) *ClientRegistry {
	stubLogger := logger.With("mode", "stub")
	return &ClientRegistry{
		Payments: NewStubPaymentProvider(stubLogger),
		Webhooks: NewStubWebhookVerifier(stubLogger),
		Chat: map[string]ChatProvider{
			catalog.ProviderOpenAI: NewStubChatProvider(catalog.ProviderOpenAI, stubLogger),
			catalog.ProviderGemini: NewStubChatProvider(catalog.ProviderGemini, stubLogger),
		},
	}
}

func newProductionRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	reg := &ClientRegistry{
		Webhooks: StripeVerifier{},
		Chat:     make(map[string]ChatProvider),
	}

	// --- Payments (Stripe) ---
	reg.Payments = NewStripeClient(&http.Client{Timeout: 20 * time.Second}, StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		BaseURL:   cfg.Billing.StripeAPIBase,
		Logger:    logger.With("client", "stripe"),
	})

	// --- Chat ---
	// Provider fallback belongs to the prompt router; retries are opt-in.
	llmHTTP := &http.Client{Timeout: cfg.LLM.Timeout}
	llmRetry := RetryUpTo(cfg.LLM.MaxRetries)
	if cfg.LLM.OpenAIAPIKey.IsSet() {
		reg.Chat[catalog.ProviderOpenAI] = NewOpenAIClient(
			NewBaseClient(llmHTTP, "openai", llmRetry, "MayRoga/1.0"),
			OpenAIConfig{
				APIKey:  cfg.LLM.OpenAIAPIKey.Unmask(),
				Model:   cfg.LLM.OpenAIModel,
				BaseURL: cfg.LLM.OpenAIBaseURL,
				Logger:  logger.With("client", "openai"),
			},
		)
	}
	if cfg.LLM.GeminiAPIKey.IsSet() {
		reg.Chat[catalog.ProviderGemini] = NewGeminiClient(
			NewBaseClient(llmHTTP, "gemini", llmRetry, "MayRoga/1.0"),
			GeminiConfig{
				APIKey:  cfg.LLM.GeminiAPIKey.Unmask(),
				Model:   cfg.LLM.GeminiModel,
				BaseURL: cfg.LLM.GeminiBaseURL,
				Logger:  logger.With("client", "gemini"),
			},
		)
	}
	return reg
}
