// Package main provides a CLI tool for enqueueing background jobs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/custody-ledger/internal/config"
	"github.com/custody-ledger/internal/storage"
	"github.com/custody-ledger/internal/types"
)

func main() {
	var (
		jobType = flag.String("type", "", "Job type: import, verification_decision, notification, reconciliation, report (required)")
		payload = flag.String("payload", "-", "Payload JSON, a file path, or - for stdin")
		delay   = flag.Duration("delay", 0, "Delay before the job becomes due")
	)
	flag.Parse()

	jt := types.JobType(*jobType)
	if !jt.Valid() {
		log.Fatalf("Invalid job type: %q", *jobType)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	raw, err := readPayload(*payload)
	if err != nil {
		log.Fatalf("Failed to read payload: %v", err)
	}
	if !json.Valid(raw) {
		log.Fatal("Payload is not valid JSON")
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres, cfg.Ledger.LockTimeout)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo := storage.NewJobRepository(postgres)
	id, err := repo.Enqueue(ctx, jt, raw, time.Now().UTC().Add(*delay), cfg.Worker.MaxAttempts)
	if err != nil {
		log.Fatalf("Enqueue failed: %v", err)
	}

	log.Printf("Enqueued %s job %s (due in %s)", jt, id, *delay)
}

func readPayload(arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(os.Stdin)
	case json.Valid([]byte(arg)):
		return []byte(arg), nil
	default:
		return os.ReadFile(arg)
	}
}
