package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// JournalRepository handles the append-only transaction journal.
// Rows are never updated or deleted; the unique constraint on
// transaction_uuid is the final race-safety backstop for idempotent writes.
type JournalRepository struct {
	db *PostgresDB
}

// NewJournalRepository creates a new journal repository
func NewJournalRepository(db *PostgresDB) *JournalRepository {
	return &JournalRepository{db: db}
}

const journalColumns = `id, transaction_uuid, user_id, admin_id, asset, amount::text, kind, reference, created_at`

// GetByKey retrieves the journal entry for an idempotency key.
// Returns (nil, nil) when no entry exists.
func (r *JournalRepository) GetByKey(ctx context.Context, key string) (*models.JournalEntry, error) {
	query := `
		SELECT ` + journalColumns + `
		FROM transactions
		WHERE transaction_uuid = $1
	`

	entry, err := scanJournalEntry(r.db.Pool().QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}

	return entry, nil
}

// InsertTx appends a journal entry inside the caller's transaction.
// A concurrent insert with the same idempotency key fails with
// ErrDuplicateIdempotencyKey, distinctly from other errors, so the caller
// can fall back to re-reading the winning entry.
func (r *JournalRepository) InsertTx(ctx context.Context, tx pgx.Tx, entry *models.JournalEntry) error {
	query := `
		INSERT INTO transactions (transaction_uuid, user_id, admin_id, asset, amount, kind, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := tx.QueryRow(ctx, query,
		entry.IdempotencyKey,
		entry.UserID,
		entry.AdminID,
		entry.Asset,
		entry.Amount.String(),
		entry.Kind,
		entry.Reference,
		entry.CreatedAt,
	).Scan(&entry.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}

	return nil
}

// SumsByAsset computes the per-asset signed amount sums for one user over
// the full journal. This is the authoritative value reconciliation compares
// stored balances against.
func (r *JournalRepository) SumsByAsset(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	query := `
		SELECT asset, COALESCE(SUM(amount), 0)::text
		FROM transactions
		WHERE user_id = $1
		GROUP BY asset
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum journal entries: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal)
	for rows.Next() {
		var asset, sumStr string
		if err := rows.Scan(&asset, &sumStr); err != nil {
			return nil, fmt.Errorf("failed to scan journal sum: %w", err)
		}

		sum, err := decimal.NewFromString(sumStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse journal sum: %w", err)
		}
		sums[asset] = sum
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal sums: %w", err)
	}

	return sums, nil
}

// ListByUser retrieves recent journal entries for a user, newest first.
func (r *JournalRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.JournalEntry, error) {
	query := `
		SELECT ` + journalColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

// ListRange retrieves journal entries in a time window for reporting.
// A zero bound is open, an empty asset matches all assets, and a limit of
// zero or less means no limit.
func (r *JournalRepository) ListRange(ctx context.Context, from, to time.Time, asset string, limit int) ([]*models.JournalEntry, error) {
	query := `
		SELECT ` + journalColumns + `
		FROM transactions
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)
		  AND ($3 = '' OR asset = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($4, 0)
	`

	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}
	if limit < 0 {
		limit = 0
	}

	rows, err := r.db.Pool().Query(ctx, query, fromArg, toArg, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal range: %w", err)
	}
	defer rows.Close()

	return scanJournalEntries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJournalEntry(row rowScanner) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	var amountStr string

	err := row.Scan(
		&entry.ID,
		&entry.IdempotencyKey,
		&entry.UserID,
		&entry.AdminID,
		&entry.Asset,
		&amountStr,
		&entry.Kind,
		&entry.Reference,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse journal amount: %w", err)
	}

	return &entry, nil
}

func scanJournalEntries(rows pgx.Rows) ([]*models.JournalEntry, error) {
	var entries []*models.JournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}

	return entries, nil
}
