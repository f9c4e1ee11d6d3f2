// Package main provides a CLI tool for reconciling balances against the
// transaction journal.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/custody-ledger/internal/config"
	"github.com/custody-ledger/internal/ledger"
	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/storage"
)

func main() {
	var (
		userID  = flag.String("user", "", "Reconcile a single user (default: all users)")
		timeout = flag.Duration("timeout", 5*time.Minute, "Overall run timeout")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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
	}

	balanceRepo := storage.NewBalanceRepository(postgres)
	journalRepo := storage.NewJournalRepository(postgres)
	reconciler := ledger.NewReconciler(balanceRepo, journalRepo, cache, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var corrected int
	if *userID != "" {
		corrected, err = reconciler.Reconcile(ctx, *userID)
	} else {
		corrected, err = reconciler.ReconcileAll(ctx)
	}
	if err != nil {
		log.Fatalf("Reconciliation failed: %v", err)
	}

	scope := *userID
	if scope == "" {
		scope = "all users"
	}
	log.Printf("Reconciliation of %s completed: %d balances corrected", scope, corrected)
}
