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

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"vtuplatform/internal/common/amqp"
	"vtuplatform/internal/common/cache"
	"vtuplatform/internal/common/database"
	"vtuplatform/internal/common/events"
	"vtuplatform/internal/common/middleware"
	"vtuplatform/internal/common/nats"
	"vtuplatform/internal/common/observability"
	"vtuplatform/internal/common/resilience"
	"vtuplatform/internal/domain"
	"vtuplatform/internal/funding"
	fundingapi "vtuplatform/internal/funding/api"
	"vtuplatform/internal/ledger"
	ledgerapi "vtuplatform/internal/ledger/api"
	"vtuplatform/internal/ledger/memstore"
	"vtuplatform/internal/ledger/store"
	"vtuplatform/internal/notify"
	"vtuplatform/internal/pricing"
	"vtuplatform/internal/providers"
	"vtuplatform/internal/providers/registry"
	"vtuplatform/internal/server"
	"vtuplatform/internal/settlement"
	settlementapi "vtuplatform/internal/settlement/api"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`

	JWTSecret           string        `envconfig:"JWT_SECRET"`
	TokenTTL            time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	CORSOrigins         []string      `envconfig:"CORS_ORIGINS" default:"*"`
	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	RateLimit           int64         `envconfig:"RATE_LIMIT" default:"120"`
	RateLimitWindow     time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	LockTTL             time.Duration `envconfig:"ACCOUNT_LOCK_TTL" default:"30s"`
	LockWait            time.Duration `envconfig:"ACCOUNT_LOCK_WAIT" default:"20s"`
	PricingCacheTTL     time.Duration `envconfig:"PRICING_CACHE_TTL" default:"30s"`
	BootstrapAdminPhone string        `envconfig:"BOOTSTRAP_ADMIN_PHONE"`

	Database   database.Config
	NATS       nats.Config
	AMQP       amqp.Config
	Cache      cache.Config
	Retry      resilience.Config
	Notify     notify.Config
	Vendor     providers.Config
	Settlement settlement.Config
	Tracing    observability.TracingConfig
	Pricing    pricing.Config
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if cfg.JWTSecret == "" {
		if cfg.Environment == "production" {
			return errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "insecure-development-secret"
		logger.Warn("JWT_SECRET not set, using development secret")
	}
	if err := cfg.Pricing.Validate(); err != nil {
		return fmt.Errorf("pricing defaults: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	metrics := observability.NewMetrics()
	checks := make(map[string]server.HealthCheck)

	repo, seed, closeStore, err := openStore(ctx, cfg, logger, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closeEvents, err := openEvents(ctx, cfg, logger, checks)
	if err != nil {
		return err
	}
	defer closeEvents()

	sink, closeSink, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	rdb, err := cache.NewClient(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	var (
		idem    middleware.IdempotencyStore = cache.NewLocalIdempotencyStore()
		limiter middleware.RateLimiter      = cache.NewLocalRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
		locker  settlement.Locker           = cache.NewLocalLocker()
	)
	if rdb != nil {
		defer rdb.Close()
		idem = cache.NewIdempotencyStore(rdb)
		limiter = cache.NewRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow)
		locker = cache.NewLocker(rdb, cfg.LockTTL, cfg.LockWait, logger)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	monitor := providers.NewMonitor()
	gateway, err := registry.Select(cfg.Vendor, cfg.Environment, monitor, logger)
	if err != nil {
		return fmt.Errorf("selecting vendor: %w", err)
	}

	dispatcher := notify.NewDispatcher(cfg.Notify, sink, publisher, logger, metrics)
	prices := pricing.NewSettingsSource(repo, cfg.Pricing, cfg.PricingCacheTTL, logger)

	ledgerService := ledger.NewService(repo, dispatcher, logger)
	engine := settlement.NewEngine(cfg.Settlement, repo, prices, gateway, locker, dispatcher, logger, metrics)
	fundingService := funding.NewService(repo, locker, dispatcher, logger, metrics)

	secret := []byte(cfg.JWTSecret)
	if seed != nil {
		seed(ctx)
	}
	if err := bootstrapAdmin(ctx, cfg, ledgerService, secret, logger); err != nil {
		return err
	}

	handler := server.NewRouter(server.Deps{
		Logger:         logger,
		Metrics:        metrics,
		JWTSecret:      secret,
		CORSOrigins:    cfg.CORSOrigins,
		Idempotency:    idem,
		IdempotencyTTL: cfg.IdempotencyTTL,
		RateLimiter:    limiter,
		Ledger:         ledgerapi.NewHandler(ledgerService, secret, cfg.TokenTTL, logger),
		Settlement:     settlementapi.NewHandler(engine, monitor, logger),
		Funding:        fundingapi.NewHandler(fundingService, logger),
		Checks:         checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting vtu service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"store", cfg.StoreBackend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openStore returns the configured ledger backend. The seed func is non-nil
// for the in-memory backend, which starts with an empty catalog.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger, checks map[string]server.HealthCheck) (ledger.Repository, func(context.Context), func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		if cfg.Environment == "production" {
			logger.Warn("in-memory store enabled in production, balances will not survive a restart")
		}
		mem := memstore.New()
		seed := func(context.Context) {
			for _, b := range defaultCatalog() {
				mem.PutBundle(b)
			}
		}
		return mem, seed, func() {}, nil

	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(cfg.Database, logger); err != nil {
				return nil, nil, nil, err
			}
		}
		db, err := database.New(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		checks["postgres"] = db.HealthCheck
		return store.New(db), nil, db.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

// openEvents connects the domain event publisher. Events are discarded when
// NATS is not configured.
func openEvents(ctx context.Context, cfg Config, logger *slog.Logger, checks map[string]server.HealthCheck) (events.EventPublisher, func(), error) {
	if cfg.NATS.URL == "" {
		logger.Info("nats not configured, domain events disabled")
		return events.Discard{}, func() {}, nil
	}

	client, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to nats: %w", err)
	}
	if _, err := client.EnsureStream(ctx, nats.EventStreamConfig()); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ensuring event stream: %w", err)
	}
	checks["nats"] = func(context.Context) error { return client.HealthCheck() }
	return nats.NewPublisher(client, logger), client.Close, nil
}

// openSink picks the notification transport. Without RabbitMQ the messages
// are only logged.
func openSink(cfg Config, logger *slog.Logger) (notify.Sink, func(), error) {
	if cfg.AMQP.URL == "" {
		logger.Info("amqp not configured, notifications will be logged")
		return notify.LogSink{Logger: logger}, func() {}, nil
	}

	producer, err := amqp.NewProducer(cfg.AMQP.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to amqp: %w", err)
	}
	return notify.NewAMQPSink(producer, cfg.AMQP.Exchange, cfg.Retry), producer.Close, nil
}

// bootstrapAdmin creates the first admin account when configured and logs
// a token for it. An existing account with the same phone is left alone.
func bootstrapAdmin(ctx context.Context, cfg Config, svc *ledger.Service, secret []byte, logger *slog.Logger) error {
	if cfg.BootstrapAdminPhone == "" {
		return nil
	}

	acct, err := svc.CreateAccount(ctx, ledger.CreateAccountRequest{
		Name:  "Administrator",
		Phone: cfg.BootstrapAdminPhone,
		Role:  domain.RoleAdmin,
	})
	if errors.Is(err, domain.ErrAccountExists) {
		logger.Info("bootstrap admin already exists", "phone", cfg.BootstrapAdminPhone)
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrapping admin: %w", err)
	}

	token, err := middleware.IssueToken(secret, acct.ID, acct.Role, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("issuing admin token: %w", err)
	}
	logger.Info("bootstrap admin created", "account_id", acct.ID, "token", token)
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
