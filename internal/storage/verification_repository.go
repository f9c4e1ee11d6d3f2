package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
	"github.com/jackc/pgx/v5"
)

// VerificationRepository handles verification submission persistence.
type VerificationRepository struct {
	db *PostgresDB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *PostgresDB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

const verificationColumns = `id, user_id, email, status, reason, document_url, submitted_at, decided_at, decided_by`

// Create inserts a new pending submission.
func (r *VerificationRepository) Create(ctx context.Context, sub *models.VerificationSubmission) error {
	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO verification_submissions (user_id, email, status, document_url, submitted_at)
		VALUES ($1, $2, 'pending', $3, NOW())
		RETURNING id, status, submitted_at
	`, sub.UserID, sub.Email, sub.DocumentURL).Scan(&sub.ID, &sub.Status, &sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to create verification submission: %w", err)
	}

	return nil
}

// Decide records an approve/reject decision on a pending submission exactly
// once and returns the decided row. Deciding a missing or already-decided
// submission fails.
func (r *VerificationRepository) Decide(ctx context.Context, id int64, status types.VerificationStatus, reason string, decidedBy *string) (*models.VerificationSubmission, error) {
	if status != types.VerificationApproved && status != types.VerificationRejected {
		return nil, fmt.Errorf("invalid verification decision: %s", status)
	}

	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}

	row := r.db.Pool().QueryRow(ctx, `
		UPDATE verification_submissions
		SET status = $2, reason = $3, decided_at = NOW(), decided_by = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+verificationColumns,
		id, status, reasonArg, decidedBy)

	sub, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("verification submission not found or already decided: %d", id)
		}
		return nil, fmt.Errorf("failed to decide verification submission: %w", err)
	}

	return sub, nil
}

// GetByID retrieves a submission by id, or (nil, nil) when no such
// submission exists. An error means the lookup itself failed.
func (r *VerificationRepository) GetByID(ctx context.Context, id int64) (*models.VerificationSubmission, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT `+verificationColumns+`
		FROM verification_submissions
		WHERE id = $1
	`, id)

	sub, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get verification submission: %w", err)
	}

	return sub, nil
}

func scanVerification(row rowScanner) (*models.VerificationSubmission, error) {
	var sub models.VerificationSubmission
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Email,
		&sub.Status,
		&sub.Reason,
		&sub.DocumentURL,
		&sub.SubmittedAt,
		&sub.DecidedAt,
		&sub.DecidedBy,
	)
	if err != nil {
		return nil, err
	}

	return &sub, nil
}
