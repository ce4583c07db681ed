// Package main is the entry point for the May Roga API server.
//
// It loads the configuration, builds the entitlement store, the vendor
// clients and the domain services, mounts the HTTP chassis and serves until
// SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"mayroga/internal/api/handlers"
	"mayroga/internal/catalog"
	"mayroga/internal/config"
	"mayroga/internal/core"
	"mayroga/internal/db"
	"mayroga/internal/entitlement"
	"mayroga/internal/external"
	"mayroga/internal/gate"
	"mayroga/internal/payment"
	"mayroga/internal/prompt"
	"mayroga/internal/queue"
	"mayroga/internal/stream"
	"mayroga/internal/ticket"
)

// metricsFlushInterval is how often buffered request metrics are published.
const metricsFlushInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewFileSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("may roga API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"store_backend", cfg.Store.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return runHTTPServer(ctx, a, cfg, logger)
}

// app is the assembled process: the HTTP server plus whatever owns
// resources that must be released on shutdown.
type app struct {
	server  *core.Server
	metrics *core.CloudWatchMetrics
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires every component from cfg. On error, resources opened so far
// are released.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.server = srv

	registry, err := loadCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, backend.close)
	srv.HealthProbes = append(srv.HealthProbes, backend.probes...)

	awsCfg, awsErr := loadAWSConfig(ctx, cfg)
	publisher, err := newGrantPublisher(cfg, awsCfg, awsErr, logger)
	if err != nil {
		return nil, err
	}
	store := entitlement.WithPublisher(backend.store, publisher, logger)

	clients, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating external clients: %w", err)
	}

	codeGate, err := gate.New(store, registry, cfg.Access, logger)
	if err != nil {
		return nil, fmt.Errorf("creating access gate: %w", err)
	}

	issuer, err := ticket.NewIssuer(cfg.Access.TicketKey.Unmask(), cfg.Access.TicketTTL)
	if err != nil {
		return nil, fmt.Errorf("creating ticket issuer: %w", err)
	}
	// Keep the interfaces untyped nil when tickets are disabled.
	var (
		ticketIssuer   handlers.TicketIssuer
		ticketVerifier handlers.TicketVerifier
	)
	if issuer != nil {
		ticketIssuer, ticketVerifier = issuer, issuer
	} else {
		logger.Info("TICKET_SIGNING_KEY not set; unlock tickets are disabled")
	}

	var routerOpts []prompt.Option
	if backend.history != nil {
		routerOpts = append(routerOpts, prompt.WithHistory(backend.history))
	}
	router := prompt.NewRouter(registry, clients.Chat, logger, routerOpts...)
	emitter := stream.NewEmitter(registry, router, logger)

	payments := payment.NewService(registry, clients.Payments, store, payment.Config{
		BaseURL:  cfg.Server.BaseURL,
		Currency: cfg.Billing.Currency,
	}, logger)

	if cfg.AWS.EnableMetrics {
		if awsErr != nil {
			return nil, fmt.Errorf("loading AWS config for metrics: %w", awsErr)
		}
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		a.metrics = core.NewCloudWatchMetrics(cw, cfg.AWS.MetricNamespace, logger)
		srv.Metrics = a.metrics
	}

	if cfg.RateLimit.PerMinute > 0 {
		srv.RateLimitStore = core.NewMemoryRateLimitStore(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	}

	catalogHandler := handlers.NewCatalogHandler(registry, store, cfg.Billing.StripePublishableKey)
	accessHandler := handlers.NewAccessHandler(codeGate, ticketIssuer, srv.Validator, logger)
	checkoutHandler := handlers.NewCheckoutHandler(payments, srv.Validator, logger)
	webhookHandler := handlers.NewWebhookHandler(clients.Webhooks, payments, cfg.Billing.StripeWebhookSecret.Unmask(), logger)
	chatHandler := handlers.NewChatHandler(registry, store, router, srv.Validator, logger)
	streamHandler := handlers.NewStreamHandler(emitter, store, codeGate, ticketVerifier, logger)

	srv.Routes = core.Routes{
		JSON: []core.RouteRegistrar{
			catalogHandler.RegisterRoutes,
			checkoutHandler.RegisterRoutes,
			webhookHandler.RegisterRoutes,
		},
		Limited: []core.RouteRegistrar{
			accessHandler.RegisterLimitedRoutes,
			checkoutHandler.RegisterLimitedRoutes,
			chatHandler.RegisterLimitedRoutes,
		},
		Stream: []core.RouteRegistrar{
			streamHandler.RegisterStreamRoutes,
		},
	}
	srv.MountRoutes()

	logger.Info("application wired",
		"services", len(registry.IDs()),
		"chat_providers", len(clients.Chat),
		"access_code_enabled", codeGate.Enabled(),
		"rate_limit_per_minute", cfg.RateLimit.PerMinute,
		"metrics_enabled", a.metrics != nil,
	)
	return a, nil
}

func loadCatalog(cfg *config.Config, logger *slog.Logger) (catalog.Registry, error) {
	if cfg.Catalog.File == "" {
		return catalog.NewDefaultRegistry(), nil
	}
	registry, err := catalog.LoadFile(cfg.Catalog.File)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	logger.Info("catalog loaded", "path", cfg.Catalog.File, "services", len(registry.IDs()))
	return registry, nil
}

// storeBackend is the selected entitlement store and what comes with it.
type storeBackend struct {
	store   entitlement.Store
	probes  []core.HealthProbe
	history prompt.HistoryRecorder
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeBackend, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		pool, err := db.OpenPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		b := &storeBackend{
			store:  db.NewEntitlementRepo(pool, logger),
			probes: []core.HealthProbe{db.NewHealthProbe(pool)},
			close:  pool.Close,
		}
		if cfg.Database.RecordHistory {
			b.history = db.NewChatHistoryRepo(pool)
		}
		return b, nil

	case config.StoreFile:
		fs, err := entitlement.OpenFileStore(cfg.Store.FilePath)
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		logger.Info("file store opened", "path", fs.Path())
		return &storeBackend{
			store:  fs,
			probes: []core.HealthProbe{storeProbe{checker: fs}},
			close:  func() {},
		}, nil

	default:
		logger.Warn("using in-memory entitlement store; credits are lost on restart")
		return &storeBackend{store: entitlement.NewMemoryStore(), close: func() {}}, nil
	}
}

// storeProbe adapts a store with a Check method to core.HealthProbe.
type storeProbe struct {
	checker interface {
		Check(ctx context.Context) error
	}
}

func (storeProbe) Name() string { return "store" }

func (p storeProbe) Check(ctx context.Context) error { return p.checker.Check(ctx) }

// loadAWSConfig is only needed for SQS and CloudWatch; callers decide
// whether its error matters.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	if cfg.AWS.GrantEventsQueueURL == "" && !cfg.AWS.EnableMetrics {
		return aws.Config{}, nil
	}
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
}

func newGrantPublisher(cfg *config.Config, awsCfg aws.Config, awsErr error, logger *slog.Logger) (entitlement.GrantPublisher, error) {
	if cfg.AWS.GrantEventsQueueURL == "" {
		return queue.NoopPublisher{}, nil
	}
	if awsErr != nil {
		return nil, fmt.Errorf("loading AWS config for grant events: %w", awsErr)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	logger.Info("publishing grant events", "queue_url", cfg.AWS.GrantEventsQueueURL)
	return queue.NewGrantPublisher(client, cfg.AWS.GrantEventsQueueURL, logger), nil
}

// runHTTPServer serves until ctx is cancelled, then shuts down gracefully.
// There is no WriteTimeout: guided sessions stream for up to forty minutes.
func runHTTPServer(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	metricsDone := make(chan struct{})
	if a.metrics != nil {
		go func() {
			defer close(metricsDone)
			a.metrics.Run(bgCtx, metricsFlushInterval)
		}()
	} else {
		close(metricsDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	cancelBg()
	<-metricsDone

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
