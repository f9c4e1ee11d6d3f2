// Package ledger implements the custodial balance ledger: atomic balance
// mutation, the idempotent transaction journal, and reconciliation between
// the two.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/retry"
	"github.com/custody-ledger/internal/storage"
	"github.com/custody-ledger/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Service owns the ledger write path. A balance is only ever mutated under
// a row-lock-holding transaction, and every mutation that goes through
// Record leaves exactly one journal entry behind.
type Service struct {
	db       *storage.PostgresDB
	balances *storage.BalanceRepository
	journal  *storage.JournalRepository
	cache    *storage.BalanceCache
	retryCfg *retry.Config
	logger   *logging.Logger
}

// NewService creates a new ledger service. cache may be nil.
func NewService(db *storage.PostgresDB, balances *storage.BalanceRepository, journal *storage.JournalRepository, cache *storage.BalanceCache, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		db:       db,
		balances: balances,
		journal:  journal,
		cache:    cache,
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

// Mutate applies one balance mutation atomically and returns the new
// balance. amount is a non-negative magnitude; kind determines the sign.
// Callers that need the mutation journaled use Record instead.
func (s *Service) Mutate(ctx context.Context, userID, asset string, amount decimal.Decimal, kind types.Kind) (decimal.Decimal, error) {
	if userID == "" || asset == "" {
		return decimal.Zero, fmt.Errorf("user id and asset are required")
	}

	var newBalance decimal.Decimal
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			newBalance, err = s.balances.MutateTx(ctx, tx, userID, asset, amount, kind)
			return err
		})
	})
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.cache.Invalidate(ctx, userID, asset); err != nil {
		s.logger.WithError(err).Warn("balance cache invalidation failed")
	}

	return newBalance, nil
}

// RecordInput describes one journaled balance mutation.
type RecordInput struct {
	// IdempotencyKey is a UUID supplied by the caller; empty means the
	// system generates one. A repeated key replays the stored entry.
	IdempotencyKey string
	UserID         string
	AdminID        *string
	Asset          string
	// Amount is the non-negative magnitude; Kind determines the sign of
	// the journaled amount.
	Amount    decimal.Decimal
	Kind      types.Kind
	Reference *string
}

// RecordResult carries the journal entry and the balance after the
// mutation. Replayed is true when the key had already been recorded and no
// new mutation was applied.
type RecordResult struct {
	Entry      *models.JournalEntry
	NewBalance decimal.Decimal
	Replayed   bool
}

// Record applies a balance mutation and appends the matching journal entry
// as one atomic unit, idempotent by key. The key is checked before any
// mutation; the journal's uniqueness constraint is the backstop for
// concurrent retries, so at most one mutation is ever applied per key.
func (s *Service) Record(ctx context.Context, input RecordInput) (*RecordResult, error) {
	if input.UserID == "" || input.Asset == "" {
		return nil, fmt.Errorf("user id and asset are required")
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("amount must be non-negative, got %s", input.Amount)
	}
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("invalid mutation kind: %s", input.Kind)
	}

	key := input.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	} else if _, err := uuid.Parse(key); err != nil {
		return nil, fmt.Errorf("idempotency key must be a UUID: %w", err)
	}

	// Replay check before touching the balance: a retried request with a
	// known key must not mutate anything.
	existing, err := s.journal.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayResult(ctx, existing)
	}

	signed := input.Amount
	if input.Kind.Sign() < 0 {
		signed = signed.Neg()
	}

	entry := &models.JournalEntry{
		IdempotencyKey: key,
		UserID:         input.UserID,
		AdminID:        input.AdminID,
		Asset:          input.Asset,
		Amount:         signed,
		Kind:           input.Kind,
		Reference:      input.Reference,
		CreatedAt:      time.Now().UTC(),
	}

	// Lock timeouts roll the whole transaction back, so retrying the
	// mutate-and-insert unit is safe.
	var newBalance decimal.Decimal
	err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.db.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			newBalance, err = s.balances.MutateTx(ctx, tx, input.UserID, input.Asset, input.Amount, input.Kind)
			if err != nil {
				return err
			}
			return s.journal.InsertTx(ctx, tx, entry)
		})
	})

	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateIdempotencyKey) {
			// Lost the insert race to a concurrent retry; the whole
			// transaction rolled back, so the winner's entry is the result.
			winner, readErr := s.journal.GetByKey(ctx, key)
			if readErr != nil {
				return nil, readErr
			}
			if winner == nil {
				return nil, fmt.Errorf("journal entry vanished after duplicate key for %s", key)
			}
			return s.replayResult(ctx, winner)
		}
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, input.UserID, input.Asset); err != nil {
		s.logger.WithError(err).Warn("balance cache invalidation failed")
	}

	s.logger.WithFields(map[string]interface{}{
		"userId": input.UserID,
		"asset":  input.Asset,
		"kind":   string(input.Kind),
		"key":    key,
	}).Info("journal entry recorded")

	return &RecordResult{Entry: entry, NewBalance: newBalance}, nil
}

func (s *Service) replayResult(ctx context.Context, entry *models.JournalEntry) (*RecordResult, error) {
	balance, err := s.GetBalance(ctx, entry.UserID, entry.Asset)
	if err != nil {
		return nil, err
	}
	return &RecordResult{Entry: entry, NewBalance: balance, Replayed: true}, nil
}

// GetBalance reads a balance through the cache. Postgres is authoritative;
// the cache only short-circuits repeated reads between mutations.
func (s *Service) GetBalance(ctx context.Context, userID, asset string) (decimal.Decimal, error) {
	if amount, ok := s.cache.Get(ctx, userID, asset); ok {
		return amount, nil
	}

	balance, err := s.balances.Get(ctx, userID, asset)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.cache.Set(ctx, userID, asset, balance.Amount); err != nil {
		s.logger.WithError(err).Warn("balance cache write failed")
	}

	return balance.Amount, nil
}

// GetEntry retrieves a journal entry by idempotency key, or nil when the
// key has never been recorded.
func (s *Service) GetEntry(ctx context.Context, key string) (*models.JournalEntry, error) {
	return s.journal.GetByKey(ctx, key)
}
