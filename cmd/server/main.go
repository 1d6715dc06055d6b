package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/aggregate"
	"github.com/xeltica-studio/MisskeyTools/internal/alert"
	"github.com/xeltica-studio/MisskeyTools/internal/api"
	"github.com/xeltica-studio/MisskeyTools/internal/auth"
	"github.com/xeltica-studio/MisskeyTools/internal/config"
	"github.com/xeltica-studio/MisskeyTools/internal/database"
	"github.com/xeltica-studio/MisskeyTools/internal/logging"
	"github.com/xeltica-studio/MisskeyTools/internal/metrics"
	"github.com/xeltica-studio/MisskeyTools/internal/misskey"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
	"github.com/xeltica-studio/MisskeyTools/internal/queue"
	"github.com/xeltica-studio/MisskeyTools/internal/scheduler"
	"github.com/xeltica-studio/MisskeyTools/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting Misskey Tools")

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.Database.URL

	logger.Info("connecting to database")
	db, err := database.Connect(context.Background(), dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	// Run pending migrations (non-fatal to allow app to start even if migrations fail)
	if err := database.RunMigrations(db, "./migrations", logger); err != nil {
		logger.Warn("failed to run migrations, continuing anyway", "error", err)
	}

	// Create repositories
	accountRepo := database.NewAccountRepository(db)
	recordRepo := database.NewRecordRepository(db)
	announcementRepo := database.NewAnnouncementRepository(db)

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	// Job queue and the aggregation pipeline behind it
	jobQueue := queue.New(cfg.Queue.Workers, logger)

	alertOpts := queue.Options{
		Delay:      cfg.Queue.AlertDelay,
		MaxRetries: cfg.Queue.AlertMaxRetries,
		Backoff:    cfg.Queue.AlertBackoff,
	}
	clients := func(host string) aggregate.ProfileFetcher {
		return misskey.NewClient(host, logger)
	}
	worker := aggregate.NewWorker(recordRepo, clients, alertOpts, logger)

	jobQueue.Handle(aggregate.QueueAggregate, func(ctx context.Context, payload interface{}) error {
		account, ok := payload.(models.Account)
		if !ok {
			return queue.Permanent(fmt.Errorf("unexpected payload type %T on %s", payload, aggregate.QueueAggregate))
		}

		dispatches, err := worker.Run(ctx, account)
		if err != nil {
			if queue.IsPermanent(err) {
				collector.RecordAggregationRun("permanent_failure")
			} else {
				collector.RecordAggregationRun("transient_failure")
			}
			return err
		}

		collector.RecordAggregationRun("success")
		for _, d := range dispatches {
			collector.RecordAlertEnqueued(d.Queue)
		}
		return aggregate.DispatchAlerts(jobQueue, dispatches)
	})

	senders := func(host string) alert.Sender {
		return misskey.NewClient(host, logger)
	}
	alert.NewDeliverer(senders, logger).Register(jobQueue)

	// Daily aggregation scheduler
	aggScheduler := scheduler.NewAggregationScheduler(accountRepo, recordRepo, jobQueue, cfg.Aggregation.HourUTC, logger)
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	go aggScheduler.Start(schedulerCtx)

	// Setup HTTP routes
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := database.HealthCheck(r.Context(), db); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Service info endpoint
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"misskey-tools","status":"ready","version":"0.1.0"}`))
	})

	mux.Handle("/metrics", collector.Handler())

	// Load auth configuration
	authConfig := auth.LoadConfigFromEnv()
	logger.Info("auth configured", "jwt_secret_set", authConfig.JWTSecret != "change-this-secret")

	logger.Info("setting up REST API")
	api.SetupRoutes(mux, accountRepo, recordRepo, announcementRepo, jobQueue, clients, authConfig, logger)

	// Serve the web UI for non-API routes
	handler := server.SPAMiddleware(collector.InstrumentHandler(mux), "./web/dist", "./web/dist/index.html")

	// Start server
	srv := server.New(cfg.Server, logger, handler)

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("Misskey Tools started successfully")
	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	waitForSignal(logger)

	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	cancelScheduler()
	aggScheduler.Stop()
	jobQueue.Close()
	logger.Info("shutdown complete")
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
	close(c)
}
