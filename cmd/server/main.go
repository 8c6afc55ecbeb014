package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/getconvive/convive/internal"
	"github.com/getconvive/convive/internal/billing"
	"github.com/getconvive/convive/internal/email"
	"github.com/getconvive/convive/internal/handler/api"
	"github.com/getconvive/convive/internal/handler/webhook"
	"github.com/getconvive/convive/internal/jobs"
	"github.com/getconvive/convive/internal/middleware"
	"github.com/getconvive/convive/internal/repository"
	"github.com/getconvive/convive/internal/router"
	"github.com/getconvive/convive/internal/routes"
	"github.com/getconvive/convive/internal/service"
	"github.com/getconvive/convive/internal/telemetry"
	"github.com/getconvive/convive/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize repository
	repo := repository.New(pool)

	// Register business metrics
	telemetry.InitBillingMetrics("convive")

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	stripeConfig := &billing.StripeConfig{
		APIKey:         cfg.Stripe.SecretKey,
		WebhookSecret:  cfg.Stripe.WebhookSecret,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}
	billingProvider, err := billing.NewStripeProvider(stripeConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	// Initialize email delivery
	emailSender := email.NewSMTPSender(&email.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     int(cfg.Email.Port),
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		FromName: cfg.Email.FromName,
	}, logger)
	emailService := email.NewService(emailSender, cfg.Email.From, cfg.Email.FromName)

	// Initialize services
	userService := service.NewUserService(repo, logger)
	entitlementService := service.NewEntitlementService(repo, logger)
	billingService := service.NewBillingService(repo, billingProvider, service.BillingConfig{
		SuccessURL:      cfg.Billing.SuccessURL,
		CancelURL:       cfg.Billing.CancelURL,
		PortalReturnURL: cfg.Billing.PortalReturnURL,
		Plans:           cfg.Billing.Plans,
	}, logger)
	syncService := service.NewEntitlementSyncService(repo, billingProvider, service.SyncConfig{
		PortalURL: cfg.Billing.PortalReturnURL,
	}, logger)

	// ==========================================================================
	// Build route dependencies
	// ==========================================================================

	apiDeps := routes.APIDeps{
		AuthHandler: api.NewAuthHandler(userService, api.AuthConfig{
			SecureCookies: cfg.Env == "prod",
		}, logger),
		BillingHandler: api.NewBillingHandler(billingService, entitlementService, logger),
	}

	stripeWebhookHandler := webhook.NewStripeHandler(billingProvider, syncService, webhook.StripeWebhookConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, logger)
	webhookDeps := routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	}

	// ==========================================================================
	// Initialize middleware
	// ==========================================================================

	metrics := middleware.NewMetrics("convive")

	securityConfig := middleware.DefaultSecurityHeadersConfig()
	if cfg.Env == "dev" {
		securityConfig.ContentSecurityPolicy = ""
		securityConfig.HSTSMaxAge = 0 // Disable HSTS in development
	}

	defaultRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer defaultRateLimiter.Stop()
	authRateLimiter := middleware.NewRateLimiter(middleware.StrictRateLimiterConfig())
	defer authRateLimiter.Stop()

	systemDeps := routes.SystemDeps{
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		},
		MetricsHandler: metrics.Handler(),
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithClientIP(),
		metrics.Middleware,
		telemetry.SentryMiddleware(),
		middleware.SecurityHeaders(securityConfig),
		middleware.MaxBodySize(middleware.SmallMaxBodySize),
		middleware.Timeout(middleware.DefaultTimeout),
		router.Logger(logger),
		middleware.WithUser(userService),
		middleware.WithRequestLogger(logger),
	)

	routes.RegisterSystemRoutes(r, systemDeps)
	// Per-IP limiting applies to the API only. The webhook endpoint is called
	// by the processor and gated by signature verification; throttling it
	// would turn bursts of retries into dropped events.
	routes.RegisterAPIRoutes(r.Group(defaultRateLimiter.Middleware), apiDeps, authRateLimiter.Middleware)
	routes.RegisterWebhookRoutes(r, webhookDeps)

	// ==========================================================================
	// Start background worker
	// ==========================================================================

	if cfg.Worker.Enabled {
		w := worker.NewWorker(repo, emailService, worker.Config{
			PollInterval:   time.Duration(cfg.Worker.PollSeconds) * time.Second,
			MaxConcurrency: int(cfg.Worker.Concurrency),
		}, logger)
		go func() {
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", "error", err)
			}
		}()

		// Daily maintenance: prune expired sessions and old webhook dedup rows
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := jobs.EnqueueCleanupExpired(ctx, repo); err != nil {
						logger.Error("failed to enqueue cleanup job", "error", err)
					}
				}
			}
		}()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	// CORS wraps the whole router so preflight requests are answered even
	// for method-scoped route patterns.
	var h http.Handler = r
	if len(cfg.AllowedOrigins) > 0 {
		h = router.CORS(cfg.AllowedOrigins)(h)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Server stopped")

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
