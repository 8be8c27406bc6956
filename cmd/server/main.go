package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/catalog"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/config"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/handlers"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/httpserver"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/migrations"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/store"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/stripe"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/subscription"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	logDBTarget(log, "primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrationsWithDirtyFix(db, log); err != nil {
		return fmt.Errorf("apply database migrations: %w", err)
	}

	plans, err := catalog.FromConfig(cfg.Plans)
	if err != nil {
		return fmt.Errorf("build plan catalog: %w", err)
	}

	policy, err := subscription.ParseDowngradePolicy(cfg.DowngradePolicy)
	if err != nil {
		return err
	}

	profiles, err := store.New(db)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		return fmt.Errorf("create job store: %w", err)
	}

	billing := stripe.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, log, stripe.DefaultBreakerConfig())

	workerCfg := worker.DefaultConfig()
	workerCfg.MaxConcurrent = cfg.Worker.Concurrency
	workerCfg.PollInterval = cfg.Worker.PollInterval
	workerCfg.SweepInterval = cfg.Worker.SweepInterval
	jobWorker := worker.New(workerCfg, jobStore, log)

	svc := subscription.New(profiles, profiles, billing, plans, log,
		subscription.WithDowngradePolicy(policy),
		subscription.WithJobQueue(jobWorker),
		subscription.WithEmailVerificationExceptions(cfg.EmailVerificationExceptions),
	)
	worker.RegisterBillingJobs(jobWorker, svc)

	log.Infow("plan catalog loaded", "plans", plans.Summary(), "downgrade_policy", policy.String())

	srv := httpserver.New(cfg, httpserver.Deps{
		DB:           db,
		Subscription: handlers.NewSubscriptionHandler(svc, log),
		Webhook:      handlers.NewStripeHandler(billing, svc, log),
		Jobs:         handlers.NewJobHandler(jobStore, jobWorker, log),
		Worker:       jobWorker,
	}, log)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Errorw("graceful shutdown failed", "error", err)
		}
	}()

	log.Infow("backend starting", "addr", cfg.ServerAddress)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, log *logger.Logger) error {
	err := migrations.Up(db, log)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "Dirty database version") {
		return err
	}

	log.Warnw("migrations: dirty database detected, attempting to fix", "error", err)
	if fixErr := migrations.FixDirty(db, log); fixErr != nil {
		log.Errorw("migrations: failed to fix dirty database", "error", fixErr)
		return err
	}
	return migrations.Up(db, log)
}

func logDBTarget(log *logger.Logger, name, dsn string) {
	// Only host and database name; the DSN carries credentials.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Warnw("db configured (dsn parse error)", "name", name, "error", err)
		return
	}
	log.Infow("db target", "name", name, "host", u.Hostname(), "db", strings.TrimPrefix(u.Path, "/"))
}
