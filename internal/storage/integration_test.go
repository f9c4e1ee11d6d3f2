package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/custody-ledger/internal/config"
	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// getTestDB connects to the Postgres instance described by the usual
// POSTGRES_* environment variables and skips the test when none is
// reachable. Tables touched by the tests are truncated up front.
func getTestDB(t *testing.T) *PostgresDB {
	t.Helper()

	cfg := &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_TEST_DB", "custody_ledger_test"),
		User:           envOr("POSTGRES_USER", "postgres"),
		Password:       envOr("POSTGRES_PASSWORD", "postgres"),
		MaxConnections: 5,
	}

	db, err := NewPostgresDB(cfg, 3*time.Second)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		t.Skipf("Postgres not available: %v", err)
	}

	for _, table := range []string{"jobs", "verification_submissions", "deposit_addresses", "transactions", "balances"} {
		if _, err := db.Pool().Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Skipf("schema not migrated (%s): %v", table, err)
		}
	}

	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestBalanceMutateSemantics(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewBalanceRepository(db)

	mutate := func(userID, asset, amount string, kind types.Kind) (decimal.Decimal, error) {
		var balance decimal.Decimal
		err := db.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			balance, err = repo.MutateTx(ctx, tx, userID, asset, decimal.RequireFromString(amount), kind)
			return err
		})
		return balance, err
	}

	// Credit on an absent row creates it.
	balance, err := mutate("u1", "BTC", "100", types.KindCredit)
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance after credit = %s, want 100", balance)
	}

	// Overdraft is rejected and leaves the balance untouched.
	if _, err := mutate("u1", "BTC", "150", types.KindDebit); !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("overdraft error = %v, want ErrInsufficientFunds", err)
	}
	stored, err := repo.Get(ctx, "u1", "BTC")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance after failed debit = %s, want 100", stored.Amount)
	}

	// Debit to exactly zero succeeds.
	balance, err = mutate("u1", "BTC", "100", types.KindDebit)
	if err != nil {
		t.Fatalf("debit to zero failed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("balance after debit = %s, want 0", balance)
	}

	// Debit-like kinds on an absent row fail without creating it.
	if _, err := mutate("u2", "ETH", "1", types.KindWithdrawal); !errors.Is(err, apperrors.ErrInsufficientFunds) {
		t.Fatalf("withdrawal on absent row error = %v, want ErrInsufficientFunds", err)
	}
	absent, err := repo.Get(ctx, "u2", "ETH")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !absent.Amount.IsZero() {
		t.Errorf("absent row reads as %s, want 0", absent.Amount)
	}
}

func TestJournalIdempotencyKey(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewJournalRepository(db)

	key := uuid.New().String()
	entry := &models.JournalEntry{
		IdempotencyKey: key,
		UserID:         "u1",
		Asset:          "BTC",
		Amount:         decimal.NewFromInt(5),
		Kind:           types.KindDeposit,
	}

	if err := db.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertTx(ctx, tx, entry)
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	dup := &models.JournalEntry{
		IdempotencyKey: key,
		UserID:         "u1",
		Asset:          "BTC",
		Amount:         decimal.NewFromInt(5),
		Kind:           types.KindDeposit,
	}
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertTx(ctx, tx, dup)
	})
	if !errors.Is(err, apperrors.ErrDuplicateIdempotencyKey) {
		t.Fatalf("duplicate insert error = %v, want ErrDuplicateIdempotencyKey", err)
	}

	got, err := repo.GetByKey(ctx, key)
	if err != nil {
		t.Fatalf("get by key failed: %v", err)
	}
	if got == nil || got.UserID != "u1" {
		t.Fatalf("get by key = %+v, want entry for u1", got)
	}

	missing, err := repo.GetByKey(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("get by unknown key failed: %v", err)
	}
	if missing != nil {
		t.Errorf("unknown key returned %+v, want nil", missing)
	}
}

func TestJournalSumsByAsset(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewJournalRepository(db)

	entries := []struct {
		asset  string
		amount string
		kind   types.Kind
	}{
		{"BTC", "10", types.KindDeposit},
		{"BTC", "-3", types.KindWithdrawal},
		{"BTC", "-0.5", types.KindFee},
		{"ETH", "2", types.KindCredit},
	}
	for _, e := range entries {
		entry := &models.JournalEntry{
			IdempotencyKey: uuid.New().String(),
			UserID:         "u1",
			Asset:          e.asset,
			Amount:         decimal.RequireFromString(e.amount),
			Kind:           e.kind,
		}
		if err := db.WithTx(ctx, func(tx pgx.Tx) error {
			return repo.InsertTx(ctx, tx, entry)
		}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	sums, err := repo.SumsByAsset(ctx, "u1")
	if err != nil {
		t.Fatalf("sums failed: %v", err)
	}
	if !sums["BTC"].Equal(decimal.RequireFromString("6.5")) {
		t.Errorf("BTC sum = %s, want 6.5", sums["BTC"])
	}
	if !sums["ETH"].Equal(decimal.NewFromInt(2)) {
		t.Errorf("ETH sum = %s, want 2", sums["ETH"])
	}
}

func TestJournalListRange(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewJournalRepository(db)

	for _, e := range []struct {
		asset  string
		amount string
	}{
		{"BTC", "1"},
		{"BTC", "2"},
		{"BTC", "3"},
		{"ETH", "4"},
	} {
		entry := &models.JournalEntry{
			IdempotencyKey: uuid.New().String(),
			UserID:         "u1",
			Asset:          e.asset,
			Amount:         decimal.RequireFromString(e.amount),
			Kind:           types.KindCredit,
		}
		if err := db.WithTx(ctx, func(tx pgx.Tx) error {
			return repo.InsertTx(ctx, tx, entry)
		}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	// A zero limit returns everything.
	all, err := repo.ListRange(ctx, time.Time{}, time.Time{}, "", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("unlimited range holds %d entries, want 4", len(all))
	}

	capped, err := repo.ListRange(ctx, time.Time{}, time.Time{}, "", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(capped) != 2 {
		t.Errorf("capped range holds %d entries, want 2", len(capped))
	}

	btc, err := repo.ListRange(ctx, time.Time{}, time.Time{}, "BTC", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(btc) != 3 {
		t.Errorf("BTC range holds %d entries, want 3", len(btc))
	}

	// A window in the past matches nothing.
	past, err := repo.ListRange(ctx, time.Time{}, time.Now().UTC().Add(-time.Hour), "", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(past) != 0 {
		t.Errorf("past range holds %d entries, want 0", len(past))
	}
}

func TestAddressAllocator(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewAddressRepository(db)

	inserted, err := repo.Provision(ctx, "ETH", []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
	})
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("provisioned %d addresses, want 2", inserted)
	}

	// Re-provisioning the same addresses inserts nothing.
	inserted, err = repo.Provision(ctx, "ETH", []string{"0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("re-provision failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("re-provisioned %d addresses, want 0", inserted)
	}

	first, err := repo.Allocate(ctx, "ETH", "u1")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	second, err := repo.Allocate(ctx, "ETH", "u2")
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if first.Address == second.Address {
		t.Errorf("both users got address %s", first.Address)
	}

	// The pool is empty now.
	if _, err := repo.Allocate(ctx, "ETH", "u3"); !errors.Is(err, apperrors.ErrPoolExhausted) {
		t.Fatalf("allocate on empty pool error = %v, want ErrPoolExhausted", err)
	}

	assigned, err := repo.GetAssigned(ctx, "ETH", "u1")
	if err != nil {
		t.Fatalf("get assigned failed: %v", err)
	}
	if assigned == nil || assigned.Address != first.Address {
		t.Errorf("GetAssigned = %+v, want %s", assigned, first.Address)
	}

	unassigned, err := repo.CountUnassigned(ctx, "ETH")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if unassigned != 0 {
		t.Errorf("unassigned = %d, want 0", unassigned)
	}
}

func TestAddressAllocatorConcurrent(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewAddressRepository(db)

	const users = 8
	addresses := make([]string, users)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("0x%040d", i)
	}
	if _, err := repo.Provision(ctx, "ETH", addresses); err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	// Every user racing for the pool must come away with a distinct
	// address; skipped locked rows must not surface as exhaustion.
	var wg sync.WaitGroup
	allocated := make([]string, users)
	errs := make([]error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr, err := repo.Allocate(ctx, "ETH", fmt.Sprintf("u%d", i))
			if err != nil {
				errs[i] = err
				return
			}
			allocated[i] = addr.Address
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	for i := 0; i < users; i++ {
		if errs[i] != nil {
			t.Fatalf("allocate for u%d failed: %v", i, errs[i])
		}
		seen[allocated[i]]++
	}
	if len(seen) != users {
		t.Fatalf("%d users share %d addresses, want %d distinct", users, len(seen), users)
	}
	for addr, count := range seen {
		if count != 1 {
			t.Errorf("address %s allocated %d times", addr, count)
		}
	}

	unassigned, err := repo.CountUnassigned(ctx, "ETH")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if unassigned != 0 {
		t.Errorf("unassigned = %d, want 0", unassigned)
	}
}

func TestJobClaimLifecycle(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewJobRepository(db)

	id, err := repo.Enqueue(ctx, types.JobTypeNotification, []byte(`{"to":"a@b.c","subject":"hi"}`), time.Now().UTC(), 3)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	batch, err := repo.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(batch))
	}
	job := batch[0]
	if job.ID != id || job.Status != types.JobStatusProcessing || job.Attempts != 1 {
		t.Fatalf("claimed job = %+v, want processing with 1 attempt", job)
	}

	// A processing job is not claimable again.
	batch, err = repo.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("claimed %d jobs, want 0", len(batch))
	}

	// Requeue into the future: not due, not claimable.
	if err := repo.Requeue(ctx, id, "transient failure", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	batch, err = repo.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("claimed %d future jobs, want 0", len(batch))
	}

	stored, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != types.JobStatusPending || stored.LastError == nil {
		t.Fatalf("requeued job = %+v, want pending with last error", stored)
	}

	// Completing a non-processing job is rejected.
	if err := repo.MarkCompleted(ctx, id, nil); err == nil {
		t.Fatal("MarkCompleted on pending job succeeded, want error")
	}
}

func TestJobSweepStale(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewJobRepository(db)

	id, err := repo.Enqueue(ctx, types.JobTypeNotification, []byte(`{}`), time.Now().UTC(), 3)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.ClaimBatch(ctx, 1); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Backdate the claim so it looks abandoned.
	if _, err := db.Pool().Exec(ctx,
		"UPDATE jobs SET updated_at = NOW() - INTERVAL '1 hour' WHERE id = $1", id); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	swept, err := repo.SweepStale(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept %d jobs, want 1", swept)
	}

	stored, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != types.JobStatusPending {
		t.Errorf("swept job status = %s, want pending", stored.Status)
	}
}

func TestVerificationDecideOnce(t *testing.T) {
	db := getTestDB(t)
	ctx := testContext(t)
	repo := NewVerificationRepository(db)

	sub := &models.VerificationSubmission{UserID: "u1", Email: "u1@example.com"}
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	decided, err := repo.Decide(ctx, sub.ID, types.VerificationApproved, "", nil)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if decided.Status != types.VerificationApproved || decided.DecidedAt == nil {
		t.Fatalf("decided = %+v, want approved with timestamp", decided)
	}

	// A second decision is rejected.
	if _, err := repo.Decide(ctx, sub.ID, types.VerificationRejected, "changed my mind", nil); err == nil {
		t.Fatal("second decision succeeded, want error")
	}
}
