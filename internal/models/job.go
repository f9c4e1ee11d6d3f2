package models

import (
	"encoding/json"
	"time"

	"github.com/custody-ledger/internal/types"
)

// Job represents one background job row.
//
// Lifecycle: pending -> processing -> {completed | pending(retry) | failed}.
// Attempts are incremented when a worker claims the job; a job whose
// attempts reach MaxAttempts on failure transitions to failed permanently.
type Job struct {
	ID          string          `json:"id" db:"id"`
	Type        types.JobType   `json:"type" db:"job_type"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Status      types.JobStatus `json:"status" db:"status"`
	Attempts    int             `json:"attempts" db:"attempts"`
	MaxAttempts int             `json:"maxAttempts" db:"max_attempts"`
	LastError   *string         `json:"lastError,omitempty" db:"last_error"`
	ScheduledAt time.Time       `json:"scheduledAt" db:"scheduled_at"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// Terminal reports whether the job can never run again.
func (j *Job) Terminal() bool {
	return j.Status == types.JobStatusCompleted || j.Status == types.JobStatusFailed
}
