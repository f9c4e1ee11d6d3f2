package ledger

import (
	"context"
	"fmt"

	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/storage"
)

// Reconciler recomputes balances from the journal and corrects drift.
// The journal is the source of truth: a stored balance that disagrees with
// the signed sum of its journal entries is overwritten. Running it twice
// with no intervening journal writes makes no further corrections.
type Reconciler struct {
	balances *storage.BalanceRepository
	journal  *storage.JournalRepository
	cache    *storage.BalanceCache
	logger   *logging.Logger
}

// NewReconciler creates a new reconciler. cache may be nil.
func NewReconciler(balances *storage.BalanceRepository, journal *storage.JournalRepository, cache *storage.BalanceCache, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Reconciler{
		balances: balances,
		journal:  journal,
		cache:    cache,
		logger:   logger,
	}
}

// Reconcile recomputes every journal-backed asset balance for one user and
// returns the number of corrections applied. Assets with a balance row but
// no journal history are left alone: out-of-band adjustments belong in the
// journal as kind=adjustment entries, not silently overwritten here.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	sums, err := r.journal.SumsByAsset(ctx, userID)
	if err != nil {
		return 0, err
	}

	// The sum and the overwrite run in separate transactions. A mutation
	// that commits between them is overwritten with the stale sum and
	// stays wrong until the next pass recomputes it.
	corrected := 0
	for asset, expected := range sums {
		changed, err := r.balances.Overwrite(ctx, userID, asset, expected)
		if err != nil {
			return corrected, err
		}
		if !changed {
			continue
		}

		corrected++
		if err := r.cache.Invalidate(ctx, userID, asset); err != nil {
			r.logger.WithError(err).Warn("balance cache invalidation failed")
		}
		r.logger.WithFields(map[string]interface{}{
			"userId":  userID,
			"asset":   asset,
			"balance": expected.String(),
		}).Warn("balance corrected from journal")
	}

	return corrected, nil
}

// ReconcileAll reconciles every user that holds at least one balance row
// and returns the total number of corrections.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	users, err := r.balances.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, userID := range users {
		corrected, err := r.Reconcile(ctx, userID)
		total += corrected
		if err != nil {
			return total, fmt.Errorf("reconcile user %s: %w", userID, err)
		}
	}

	return total, nil
}
