package models

import "time"

// DepositAddress represents one address in the shared deposit pool.
// An address is provisioned unassigned and transitions to assigned exactly
// once; it is never returned to the pool or reassigned.
type DepositAddress struct {
	ID         int64      `json:"id" db:"id"`
	Asset      string     `json:"asset" db:"asset"`
	Address    string     `json:"address" db:"address"`
	AssignedTo *string    `json:"assignedTo,omitempty" db:"assigned_to"`
	AssignedAt *time.Time `json:"assignedAt,omitempty" db:"assigned_at"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}

// Assigned reports whether the address has been claimed by a user.
func (a *DepositAddress) Assigned() bool {
	return a.AssignedTo != nil
}
