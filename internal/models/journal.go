package models

import (
	"time"

	"github.com/custody-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// JournalEntry represents one immutable journal row. The idempotency key
// (transaction_uuid) is globally unique; the stored amount is signed by the
// mutation kind. Entries are append-only and are the authoritative history
// balances can be rebuilt from.
type JournalEntry struct {
	ID             int64           `json:"id" db:"id"`
	IdempotencyKey string          `json:"idempotencyKey" db:"transaction_uuid"`
	UserID         string          `json:"userId" db:"user_id"`
	AdminID        *string         `json:"adminId,omitempty" db:"admin_id"`
	Asset          string          `json:"asset" db:"asset"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Kind           types.Kind      `json:"kind" db:"kind"`
	Reference      *string         `json:"reference,omitempty" db:"reference"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}
