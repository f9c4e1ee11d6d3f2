package storage

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/models"
	"github.com/jackc/pgx/v5"
)

// AddressRepository handles the shared deposit address pool.
type AddressRepository struct {
	db *PostgresDB
}

// NewAddressRepository creates a new deposit address repository
func NewAddressRepository(db *PostgresDB) *AddressRepository {
	return &AddressRepository{db: db}
}

// Provision adds addresses to the pool for an asset. Already-provisioned
// (asset, address) pairs are skipped; the number of new rows is returned.
func (r *AddressRepository) Provision(ctx context.Context, asset string, addresses []string) (int, error) {
	inserted := 0
	for _, address := range addresses {
		result, err := r.db.Pool().Exec(ctx, `
			INSERT INTO deposit_addresses (asset, address, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (asset, address) DO NOTHING
		`, asset, address)
		if err != nil {
			return inserted, fmt.Errorf("failed to provision address: %w", err)
		}
		inserted += int(result.RowsAffected())
	}

	return inserted, nil
}

// Allocate assigns one unassigned address for the asset to the user,
// oldest-provisioned first. The selected row is locked for the duration of
// the transaction; rows already locked by a concurrent allocation are
// skipped rather than waited on, so allocation never blocks on contention.
// An assigned address never returns to the pool. Fails with ErrPoolExhausted
// when no unassigned address remains.
func (r *AddressRepository) Allocate(ctx context.Context, asset, userID string) (*models.DepositAddress, error) {
	var allocated *models.DepositAddress

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var addr models.DepositAddress
		err := tx.QueryRow(ctx, `
			SELECT id, asset, address, created_at
			FROM deposit_addresses
			WHERE asset = $1 AND assigned_to IS NULL
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, asset).Scan(&addr.ID, &addr.Asset, &addr.Address, &addr.CreatedAt)

		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewPoolExhausted(asset)
			}
			return translateLockError("address allocate", err)
		}

		err = tx.QueryRow(ctx, `
			UPDATE deposit_addresses
			SET assigned_to = $1, assigned_at = NOW()
			WHERE id = $2
			RETURNING assigned_to, assigned_at
		`, userID, addr.ID).Scan(&addr.AssignedTo, &addr.AssignedAt)
		if err != nil {
			return fmt.Errorf("failed to assign address: %w", err)
		}

		allocated = &addr
		return nil
	})
	if err != nil {
		return nil, err
	}

	return allocated, nil
}

// GetAssigned retrieves the address assigned to a user for an asset, or
// (nil, nil) when none has been allocated yet.
func (r *AddressRepository) GetAssigned(ctx context.Context, asset, userID string) (*models.DepositAddress, error) {
	var addr models.DepositAddress
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, asset, address, assigned_to, assigned_at, created_at
		FROM deposit_addresses
		WHERE asset = $1 AND assigned_to = $2
		ORDER BY assigned_at ASC
		LIMIT 1
	`, asset, userID).Scan(&addr.ID, &addr.Asset, &addr.Address, &addr.AssignedTo, &addr.AssignedAt, &addr.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get assigned address: %w", err)
	}

	return &addr, nil
}

// CountUnassigned returns the remaining pool size for an asset. Operators
// watch this to replenish the pool before it exhausts.
func (r *AddressRepository) CountUnassigned(ctx context.Context, asset string) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM deposit_addresses
		WHERE asset = $1 AND assigned_to IS NULL
	`, asset).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unassigned addresses: %w", err)
	}

	return count, nil
}
