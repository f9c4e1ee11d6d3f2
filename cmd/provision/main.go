// Package main provides a CLI tool for seeding the deposit address pool.
//
// Addresses are read one per line from a file (or stdin with -file -),
// validated for the target asset, and inserted. Duplicates already in the
// pool are skipped.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/custody-ledger/internal/assets"
	"github.com/custody-ledger/internal/config"
	"github.com/custody-ledger/internal/storage"
)

func main() {
	var (
		asset = flag.String("asset", "", "Asset symbol to provision addresses for (required)")
		file  = flag.String("file", "-", "File with one address per line, or - for stdin")
	)
	flag.Parse()

	if *asset == "" {
		log.Fatal("-asset is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	addresses, err := readAddresses(*file)
	if err != nil {
		log.Fatalf("Failed to read addresses: %v", err)
	}
	if len(addresses) == 0 {
		log.Fatal("No addresses to provision")
	}

	validator := assets.NewValidator(cfg.Assets.EVMAssets)
	for _, addr := range addresses {
		if err := validator.ValidateAddress(*asset, addr); err != nil {
			log.Fatalf("Invalid address %q: %v", addr, err)
		}
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres, cfg.Ledger.LockTimeout)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := storage.NewAddressRepository(postgres)
	inserted, err := repo.Provision(ctx, *asset, addresses)
	if err != nil {
		log.Fatalf("Provisioning failed: %v", err)
	}

	unassigned, err := repo.CountUnassigned(ctx, *asset)
	if err != nil {
		log.Fatalf("Failed to count unassigned addresses: %v", err)
	}

	log.Printf("Provisioned %d new addresses for %s (%d read, %d unassigned in pool)",
		inserted, *asset, len(addresses), unassigned)
}

func readAddresses(path string) ([]string, error) {
	var in *os.File
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	var addresses []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}
	return addresses, scanner.Err()
}
