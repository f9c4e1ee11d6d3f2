// Package types provides common type definitions for the custody ledger system.
package types

// Kind represents the mutation kind of a journal entry. The set is closed:
// every balance mutation is recorded under exactly one of these kinds.
type Kind string

const (
	// KindCredit represents a direct balance credit
	KindCredit Kind = "credit"
	// KindDebit represents a direct balance debit
	KindDebit Kind = "debit"
	// KindDeposit represents an on-chain deposit credited to a balance
	KindDeposit Kind = "deposit"
	// KindWithdrawal represents an outgoing withdrawal
	KindWithdrawal Kind = "withdrawal"
	// KindConversion represents the debit side of an asset conversion
	KindConversion Kind = "conversion"
	// KindFee represents a fee charged against a balance
	KindFee Kind = "fee"
	// KindAdjustment represents a manual out-of-band correction, always journaled
	KindAdjustment Kind = "adjustment"
)

// Kinds lists every valid mutation kind.
var Kinds = []Kind{
	KindCredit,
	KindDebit,
	KindDeposit,
	KindWithdrawal,
	KindConversion,
	KindFee,
	KindAdjustment,
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindDeposit, KindWithdrawal, KindConversion, KindFee, KindAdjustment:
		return true
	}
	return false
}

// Sign returns +1 for credit-like kinds and -1 for debit-like kinds.
// Journal entries store sign * magnitude; reconciliation sums the same way.
func (k Kind) Sign() int {
	if k.CreditLike() {
		return 1
	}
	return -1
}

// CreditLike reports whether the kind increases a balance.
func (k Kind) CreditLike() bool {
	switch k {
	case KindCredit, KindDeposit, KindAdjustment:
		return true
	}
	return false
}

// DebitLike reports whether the kind decreases a balance.
func (k Kind) DebitLike() bool {
	return k.Valid() && !k.CreditLike()
}

// JobType represents the closed set of background job kinds.
type JobType string

const (
	// JobTypeImport represents a bulk row import job
	JobTypeImport JobType = "import"
	// JobTypeVerificationDecision represents a verification approve/reject job
	JobTypeVerificationDecision JobType = "verification_decision"
	// JobTypeNotification represents a notification send job
	JobTypeNotification JobType = "notification"
	// JobTypeReconciliation represents a balance reconciliation job
	JobTypeReconciliation JobType = "reconciliation"
	// JobTypeReport represents a report generation job
	JobTypeReport JobType = "report"
)

// Valid reports whether t is a member of the closed job type set.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeImport, JobTypeVerificationDecision, JobTypeNotification, JobTypeReconciliation, JobTypeReport:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a background job.
type JobStatus string

const (
	// JobStatusPending represents a job waiting to become due
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing represents a job claimed by a worker
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted represents a terminal successful job
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed represents a terminal failed job
	JobStatusFailed JobStatus = "failed"
)

// VerificationStatus represents the decision state of a verification submission.
type VerificationStatus string

const (
	// VerificationPending represents a submission awaiting a decision
	VerificationPending VerificationStatus = "pending"
	// VerificationApproved represents an approved submission
	VerificationApproved VerificationStatus = "approved"
	// VerificationRejected represents a rejected submission
	VerificationRejected VerificationStatus = "rejected"
)
