package models

import (
	"time"

	"github.com/custody-ledger/internal/types"
)

// VerificationSubmission represents a pending identity verification request.
// A decision is recorded exactly once; decided submissions are immutable.
type VerificationSubmission struct {
	ID          int64                    `json:"id" db:"id"`
	UserID      string                   `json:"userId" db:"user_id"`
	Email       string                   `json:"email" db:"email"`
	Status      types.VerificationStatus `json:"status" db:"status"`
	Reason      *string                  `json:"reason,omitempty" db:"reason"`
	DocumentURL *string                  `json:"documentUrl,omitempty" db:"document_url"`
	SubmittedAt time.Time                `json:"submittedAt" db:"submitted_at"`
	DecidedAt   *time.Time               `json:"decidedAt,omitempty" db:"decided_at"`
	DecidedBy   *string                  `json:"decidedBy,omitempty" db:"decided_by"`
}
