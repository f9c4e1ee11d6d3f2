// Package main provides the job worker entry point for the custody ledger.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custody-ledger/internal/adapter"
	"github.com/custody-ledger/internal/config"
	"github.com/custody-ledger/internal/jobs"
	"github.com/custody-ledger/internal/ledger"
	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/storage"
)

func main() {
	log.Println("Custody ledger worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres, cfg.Ledger.LockTimeout)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	var cache *storage.BalanceCache
	if cfg.Database.Redis.Enabled {
		cache, err = storage.NewBalanceCache(&cfg.Database.Redis, cfg.Ledger.CacheTTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
		logger.Info("balance cache enabled")
	}

	// Repositories
	balanceRepo := storage.NewBalanceRepository(postgres)
	journalRepo := storage.NewJournalRepository(postgres)
	jobRepo := storage.NewJobRepository(postgres)
	verificationRepo := storage.NewVerificationRepository(postgres)

	// Services
	ledgerSvc := ledger.NewService(postgres, balanceRepo, journalRepo, cache, logger)
	reconciler := ledger.NewReconciler(balanceRepo, journalRepo, cache, logger)

	// Job handlers
	reportSink, err := adapter.NewCSVReportSink(cfg.Worker.ReportDirectory, logger)
	if err != nil {
		log.Fatalf("Failed to initialize report sink: %v", err)
	}
	importSource := adapter.NewCSVDirectorySource(cfg.Worker.ImportDirectory, logger)
	sender := adapter.NewLogSender(logger)
	clock := jobs.RealClock()

	scheduler := jobs.NewScheduler(jobRepo, jobs.SchedulerConfig{
		BatchSize:      cfg.Worker.BatchSize,
		MaxRunTime:     cfg.Worker.MaxRunTime,
		BackoffUnit:    cfg.Worker.BackoffUnit,
		StaleThreshold: cfg.Worker.StaleThreshold,
		BatchesPerSec:  cfg.Worker.BatchesPerSec,
	}, clock, logger)

	scheduler.Register(jobs.NewImportHandler(importSource, ledgerSvc, logger))
	scheduler.Register(jobs.NewVerificationHandler(verificationRepo, jobRepo, clock, logger))
	scheduler.Register(jobs.NewNotificationHandler(sender, logger))
	scheduler.Register(jobs.NewReconciliationHandler(reconciler, logger))
	scheduler.Register(jobs.NewReportHandler(reportSink, balanceRepo, journalRepo, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Worker.PollInterval)
	defer ticker.Stop()

	logger.WithField("pollInterval", cfg.Worker.PollInterval.String()).Info("worker started")

	// Run one pass immediately, then on each tick.
	runPass(ctx, scheduler, logger)

	for {
		select {
		case <-ticker.C:
			runPass(ctx, scheduler, logger)
		case <-sigCh:
			logger.Info("shutdown signal received, stopping worker")
			cancel()
			return
		}
	}
}

func runPass(ctx context.Context, scheduler *jobs.Scheduler, logger *logging.Logger) {
	processed, err := scheduler.RunPending(ctx)
	if err != nil {
		logger.WithError(err).Error("worker pass failed")
		return
	}
	if processed > 0 {
		logger.WithField("processed", processed).Info("worker pass completed")
	}
}
