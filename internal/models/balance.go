package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance represents the stored balance for one (user, asset) pair.
// At most one row exists per pair; the amount never goes negative.
type Balance struct {
	ID        int64           `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	Asset     string          `json:"asset" db:"asset"`
	Amount    decimal.Decimal `json:"amount" db:"balance"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}
