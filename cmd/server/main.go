package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/checkout"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/config"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/handlers"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/httpserver"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/logging"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/migrations"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/platform"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/store"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/stripe"
	"github.com/PortNumber53/enrollment-checkout/backend/internal/worker"
)

// sessionStore is what the server needs from either session store.
type sessionStore interface {
	checkout.SessionStore
	worker.Expirer
	Ping(ctx context.Context) error
}

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	sessions, closeStore := openStore(cfg, logger)
	defer closeStore()

	platformClient := platform.NewClient(cfg.Platform, logger)

	var payments checkout.PaymentProvider = platformClient
	var subscriptions handlers.SubscriptionScheduler
	if cfg.PaymentProvider == config.ProviderStripe {
		stripeClient := stripe.NewClient(cfg.Stripe, nil, logger)
		payments = stripeClient
		subscriptions = stripeClient
	}

	orchestrator := checkout.New(checkout.Services{
		Classes:  platformClient,
		Children: platformClient,
		Waivers:  platformClient,
		Orders:   platformClient,
		Payments: payments,
	}, sessions, checkout.Options{
		ProcessingFeePercent: cfg.Checkout.ProcessingFeePercent,
		MultiChild:           cfg.Checkout.MultiChild,
		SessionTTL:           cfg.Checkout.SessionTTL,
		ClassListPath:        cfg.Checkout.ClassListPath,
		StaleLoadAfter:       2 * cfg.Platform.Timeout,
	}, logger)

	sweeper := worker.New(worker.Config{
		Interval:          cfg.Checkout.SweepInterval,
		HeartbeatInterval: cfg.Checkout.SweepHeartbeat,
	}, sessions, logger)
	sweeper.SetInstrumentation(worker.LogInstrumentation(logger))

	srv := httpserver.New(cfg, httpserver.Deps{
		Checkout:      orchestrator,
		Store:         sessions,
		Sweeper:       sweeper,
		Webhooks:      stripe.NewWebhookVerifier(cfg.Stripe.WebhookSecret),
		Subscriptions: subscriptions,
	}, logger)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("checkout service starting",
		zap.String("addr", cfg.ServerAddress),
		zap.String("payment_provider", cfg.PaymentProvider))
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// openStore connects to Postgres when a DSN is configured and falls back to
// process memory otherwise.
func openStore(cfg config.Config, logger *zap.Logger) (sessionStore, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; checkout sessions are kept in memory")
		return store.NewMemoryStore(), func() {}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	logDBTarget(logger, cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	if err := runMigrationsWithDirtyFix(db, logger); err != nil {
		logger.Fatal("failed to apply database migrations", zap.Error(err))
	}

	s, err := store.New(db)
	if err != nil {
		logger.Fatal("failed to create store", zap.Error(err))
	}
	return s, func() { _ = db.Close() }
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, logger *zap.Logger) error {
	err := migrations.Up(db, logger)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "Dirty database version") {
		return err
	}

	logger.Warn("dirty database detected, attempting to fix", zap.Error(err))
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		logger.Error("failed to fix dirty database", zap.Error(fixErr))
		return err
	}
	return migrations.Up(db, logger)
}

func logDBTarget(logger *zap.Logger, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		logger.Info("database configured", zap.NamedError("dsn_parse_error", err))
		return
	}
	logger.Info("database configured", zap.String("host", u.Hostname()), zap.String("db", strings.TrimPrefix(u.Path, "/")))
}
