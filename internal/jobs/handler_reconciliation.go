package jobs

import (
	"context"
	"fmt"

	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
)

// ReconcileService recomputes balances from journal history. Implemented
// by ledger.Reconciler.
type ReconcileService interface {
	Reconcile(ctx context.Context, userID string) (int, error)
	ReconcileAll(ctx context.Context) (int, error)
}

// ReconciliationHandler processes reconciliation jobs.
type ReconciliationHandler struct {
	reconciler ReconcileService
	logger     *logging.Logger
}

// NewReconciliationHandler creates a reconciliation handler.
func NewReconciliationHandler(reconciler ReconcileService, logger *logging.Logger) *ReconciliationHandler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ReconciliationHandler{reconciler: reconciler, logger: logger}
}

// Type returns the job type this handler serves.
func (h *ReconciliationHandler) Type() types.JobType {
	return types.JobTypeReconciliation
}

// Handle reconciles one user, or every known user when the payload names
// none. Reconciliation is idempotent, so a retried job is harmless.
func (h *ReconciliationHandler) Handle(ctx context.Context, job *models.Job) (string, error) {
	payload, err := decodeReconciliationPayload(job.Payload)
	if err != nil {
		return "", err
	}

	var corrected int
	if payload.UserID != "" {
		corrected, err = h.reconciler.Reconcile(ctx, payload.UserID)
	} else {
		corrected, err = h.reconciler.ReconcileAll(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("reconciliation failed: %w", err)
	}

	scope := payload.UserID
	if scope == "" {
		scope = "all users"
	}
	return fmt.Sprintf("reconciled %s, %d balances corrected", scope, corrected), nil
}
