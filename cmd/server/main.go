package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fitmenthq/eventpipe/internal/api"
	"github.com/fitmenthq/eventpipe/internal/billing"
	"github.com/fitmenthq/eventpipe/internal/config"
	"github.com/fitmenthq/eventpipe/internal/engine"
	"github.com/fitmenthq/eventpipe/internal/identity"
	"github.com/fitmenthq/eventpipe/internal/pipeline"
	"github.com/fitmenthq/eventpipe/internal/poller"
	"github.com/fitmenthq/eventpipe/internal/store"
	"github.com/fitmenthq/eventpipe/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	queues := engine.NewQueues(redisStore.Client(), logger)
	rateLimiter := engine.NewRateLimiter(redisStore.Client(), logger)
	breaker := engine.NewCircuitBreaker(redisStore.Client(), logger)

	// Outbound collaborators
	identityClient := identity.NewHTTPClient(cfg.IdentityAPIURL, cfg.IdentityAPIKey, rateLimiter, logger)
	paymentClient := billing.NewHTTPPaymentClient(cfg.BillingAPIURL, cfg.BillingAPIKey)
	sink := worker.NewHTTPSink(cfg.SinkURL, cfg.SinkSecret, logger)

	// Event pipeline: both delivery paths converge on the same processor.
	processor := pipeline.NewProcessor(pgStore, pgStore, queues, identityClient, logger)
	reconciler := billing.NewReconciler(paymentClient, pgStore, pgStore, queues, logger)

	// Background work runs under its own context so HTTP shutdown and worker
	// shutdown can be sequenced.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	// Intake queue: verified webhook events awaiting processing.
	intakePool := worker.NewPool("intake", cfg.NumWorkers, worker.NewIntakeRunner(processor, logger), logger)
	intakePool.Start(workerCtx)
	go worker.NewDispatcher(redisStore.Client(), engine.IntakeQueueKey, intakePool, logger).Start(workerCtx)

	// Sync queue: cross-system sync attempts, including scheduled retries.
	syncer := worker.NewSyncer(sink, queues, pgStore, breaker, logger)
	syncPool := worker.NewPool("sync", cfg.NumWorkers, syncer, logger)
	syncPool.Start(workerCtx)
	go worker.NewDispatcher(redisStore.Client(), engine.SyncQueueKey, syncPool, logger).Start(workerCtx)

	// Poll safeguard and ledger retention sweep.
	eventPoller := poller.New(identityClient, pgStore, processor, pgStore, cfg.PollInterval, cfg.PollPageSize, logger)
	go eventPoller.Start(workerCtx)

	cleanup := poller.NewCleanup(pgStore, time.Duration(cfg.RetentionDays)*24*time.Hour, logger)
	go cleanup.Start(workerCtx)

	// Setup router
	router := api.NewRouter(
		api.NewWebhookHandler(queues, cfg.UserWebhookSecret, cfg.OrgWebhookSecret, cfg.MembershipWebhookSecret, logger),
		api.NewBillingWebhookHandler(reconciler, cfg.BillingWebhookSecret, logger),
		api.NewDeadLetterHandler(pgStore, queues, logger),
		api.NewCursorHandler(pgStore, eventPoller, logger),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop dispatchers and let in-flight jobs drain.
	stopWorkers()
	intakePool.Stop()
	syncPool.Stop()

	logger.Info("server stopped")
}
