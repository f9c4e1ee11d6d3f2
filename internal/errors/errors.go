// Package errors defines the domain error taxonomy for the custody ledger.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryFunds represents balance constraint violations
	CategoryFunds ErrorCategory = "funds"
	// CategoryConflict represents idempotency key conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryCapacity represents exhausted shared resources
	CategoryCapacity ErrorCategory = "capacity"
	// CategoryContention represents lock acquisition failures
	CategoryContention ErrorCategory = "contention"
	// CategoryValidation represents structurally invalid input
	CategoryValidation ErrorCategory = "validation"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryHandler represents recoverable job handler failures
	CategoryHandler ErrorCategory = "handler"
)

// DomainError represents an error with a category, stable code, and
// an optional underlying cause.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches two domain errors by code, so sentinel comparisons with
// errors.Is work across wrapped instances.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return de.Code == e.Code
	}
	return false
}

// Sentinel instances for errors.Is checks.
var (
	// ErrInsufficientFunds is returned when a debit exceeds the stored balance.
	// Surfaced to the caller, never retried.
	ErrInsufficientFunds = &DomainError{
		Category: CategoryFunds,
		Code:     "INSUFFICIENT_FUNDS",
		Message:  "debit exceeds available balance",
	}

	// ErrDuplicateIdempotencyKey is returned when a concurrent journal insert
	// loses the uniqueness race. Callers recover by re-reading the winning
	// entry; this error must never surface as a request failure.
	ErrDuplicateIdempotencyKey = &DomainError{
		Category: CategoryConflict,
		Code:     "DUPLICATE_IDEMPOTENCY_KEY",
		Message:  "journal entry already exists for idempotency key",
	}

	// ErrPoolExhausted is returned when no unassigned deposit address remains
	// for an asset. Operational condition, not retryable.
	ErrPoolExhausted = &DomainError{
		Category: CategoryCapacity,
		Code:     "POOL_EXHAUSTED",
		Message:  "no unassigned deposit address available",
	}

	// ErrLockTimeout is returned when a row lock cannot be acquired within the
	// configured bound. Retryable by the caller.
	ErrLockTimeout = &DomainError{
		Category:  CategoryContention,
		Code:      "LOCK_TIMEOUT",
		Message:   "could not acquire row lock within timeout",
		Retryable: true,
	}

	// ErrMalformedPayload is returned when a job payload fails structural
	// validation. Terminal: retrying cannot fix the payload.
	ErrMalformedPayload = &DomainError{
		Category: CategoryValidation,
		Code:     "MALFORMED_PAYLOAD",
		Message:  "job payload failed validation",
	}
)

// NewInsufficientFunds creates an insufficient funds error for one mutation.
func NewInsufficientFunds(userID, asset string) *DomainError {
	return &DomainError{
		Category: CategoryFunds,
		Code:     ErrInsufficientFunds.Code,
		Message:  fmt.Sprintf("insufficient %s balance for user %s", asset, userID),
	}
}

// NewPoolExhausted creates a pool exhausted error for one asset.
func NewPoolExhausted(asset string) *DomainError {
	return &DomainError{
		Category: CategoryCapacity,
		Code:     ErrPoolExhausted.Code,
		Message:  fmt.Sprintf("no unassigned deposit address available for %s", asset),
	}
}

// NewLockTimeout wraps a lock acquisition failure.
func NewLockTimeout(operation string, cause error) *DomainError {
	return &DomainError{
		Category:  CategoryContention,
		Code:      ErrLockTimeout.Code,
		Message:   fmt.Sprintf("lock timeout during %s", operation),
		Retryable: true,
		Cause:     cause,
	}
}

// NewMalformedPayload creates a terminal payload validation error.
func NewMalformedPayload(reason string) *DomainError {
	return &DomainError{
		Category: CategoryValidation,
		Code:     ErrMalformedPayload.Code,
		Message:  fmt.Sprintf("job payload failed validation: %s", reason),
	}
}

// NewDatabaseError wraps an unexpected database failure.
func NewDatabaseError(operation string, cause error) *DomainError {
	return &DomainError{
		Category:  CategoryDatabase,
		Code:      "DATABASE_ERROR",
		Message:   fmt.Sprintf("database error during %s", operation),
		Retryable: true,
		Cause:     cause,
	}
}

// IsRetryable determines if the caller may retry the failed operation.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsTerminal reports whether a job handler error must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrMalformedPayload)
}
