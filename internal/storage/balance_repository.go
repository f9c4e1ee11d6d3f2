package storage

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepository handles per-user, per-asset balance persistence.
// All mutation goes through MutateTx under a row lock; nothing else in the
// system is allowed to read-then-write a balance row outside a lock-holding
// transaction.
type BalanceRepository struct {
	db *PostgresDB
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *PostgresDB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Get retrieves the stored balance for a (user, asset) pair. A pair with no
// row yet reads as a zero balance, since balances are created lazily on the
// first credit.
func (r *BalanceRepository) Get(ctx context.Context, userID, asset string) (*models.Balance, error) {
	query := `
		SELECT id, user_id, asset, balance::text, updated_at
		FROM balances
		WHERE user_id = $1 AND asset = $2
	`

	var balance models.Balance
	var amountStr string

	err := r.db.Pool().QueryRow(ctx, query, userID, asset).Scan(
		&balance.ID,
		&balance.UserID,
		&balance.Asset,
		&amountStr,
		&balance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.Balance{UserID: userID, Asset: asset, Amount: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	balance.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance amount: %w", err)
	}

	return &balance, nil
}

// ListByUser retrieves all balances held by a user.
func (r *BalanceRepository) ListByUser(ctx context.Context, userID string) ([]*models.Balance, error) {
	query := `
		SELECT id, user_id, asset, balance::text, updated_at
		FROM balances
		WHERE user_id = $1
		ORDER BY asset
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

// ListAll retrieves every balance row, ordered by user then asset.
func (r *BalanceRepository) ListAll(ctx context.Context) ([]*models.Balance, error) {
	query := `
		SELECT id, user_id, asset, balance::text, updated_at
		FROM balances
		ORDER BY user_id, asset
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

// ListUsers returns the distinct users holding at least one balance row.
func (r *BalanceRepository) ListUsers(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT user_id FROM balances ORDER BY user_id`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list balance users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance users: %w", err)
	}

	return users, nil
}

// MutateTx applies one balance mutation inside the caller's transaction.
// The target row is locked with FOR UPDATE before the current value is read,
// so concurrent mutations on the same (user, asset) pair serialize instead
// of losing updates. amount is a non-negative magnitude; the kind determines
// the sign. A debit-like mutation that would drive the balance negative, or
// that targets a nonexistent row, fails with ErrInsufficientFunds and writes
// nothing. The new balance is returned so the caller can journal it within
// the same transaction.
func (r *BalanceRepository) MutateTx(ctx context.Context, tx pgx.Tx, userID, asset string, amount decimal.Decimal, kind types.Kind) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("mutation amount must be non-negative, got %s", amount)
	}
	if !kind.Valid() {
		return decimal.Zero, fmt.Errorf("invalid mutation kind: %s", kind)
	}

	var currentStr string
	err := tx.QueryRow(ctx, `
		SELECT balance::text
		FROM balances
		WHERE user_id = $1 AND asset = $2
		FOR UPDATE
	`, userID, asset).Scan(&currentStr)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if kind.DebitLike() {
				return decimal.Zero, apperrors.NewInsufficientFunds(userID, asset)
			}
			// First credit to this (user, asset): create the row lazily.
			_, err = tx.Exec(ctx, `
				INSERT INTO balances (user_id, asset, balance, updated_at)
				VALUES ($1, $2, $3, NOW())
			`, userID, asset, amount.String())
			if err != nil {
				return decimal.Zero, fmt.Errorf("failed to create balance: %w", err)
			}
			return amount, nil
		}
		return decimal.Zero, translateLockError("balance mutate", err)
	}

	current, err := decimal.NewFromString(currentStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance amount: %w", err)
	}

	var newBalance decimal.Decimal
	if kind.CreditLike() {
		newBalance = current.Add(amount)
	} else {
		newBalance = current.Sub(amount)
		if newBalance.IsNegative() {
			return decimal.Zero, apperrors.NewInsufficientFunds(userID, asset)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE balances
		SET balance = $3, updated_at = NOW()
		WHERE user_id = $1 AND asset = $2
	`, userID, asset, newBalance.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}

	return newBalance, nil
}

// Overwrite rewrites a stored balance only when it differs from amount,
// reporting whether a correction was made. A missing row is created, so a
// lost balance row can be rebuilt from journal history. Used by
// reconciliation.
func (r *BalanceRepository) Overwrite(ctx context.Context, userID, asset string, amount decimal.Decimal) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		INSERT INTO balances (user_id, asset, balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, asset) DO UPDATE
		SET balance = EXCLUDED.balance, updated_at = NOW()
		WHERE balances.balance <> EXCLUDED.balance
	`, userID, asset, amount.String())
	if err != nil {
		return false, fmt.Errorf("failed to overwrite balance: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

func scanBalances(rows pgx.Rows) ([]*models.Balance, error) {
	var balances []*models.Balance
	for rows.Next() {
		var balance models.Balance
		var amountStr string

		err := rows.Scan(
			&balance.ID,
			&balance.UserID,
			&balance.Asset,
			&amountStr,
			&balance.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}

		balance.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance amount: %w", err)
		}

		balances = append(balances, &balance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}
