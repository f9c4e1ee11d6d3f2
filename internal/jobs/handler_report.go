package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
)

// ReportSink persists a finished report and returns its location.
type ReportSink interface {
	Write(ctx context.Context, name string, header []string, rows [][]string) (string, error)
}

// BalanceLister lists stored balances. Implemented by
// storage.BalanceRepository.
type BalanceLister interface {
	ListAll(ctx context.Context) ([]*models.Balance, error)
}

// JournalLister lists journal entries in a time window. A limit of zero or
// less means no limit. Implemented by storage.JournalRepository.
type JournalLister interface {
	ListRange(ctx context.Context, from, to time.Time, asset string, limit int) ([]*models.JournalEntry, error)
}

// ReportHandler generates balance and transaction reports.
type ReportHandler struct {
	sink     ReportSink
	balances BalanceLister
	journal  JournalLister
	logger   *logging.Logger
}

// NewReportHandler creates a report handler.
func NewReportHandler(sink ReportSink, balances BalanceLister, journal JournalLister, logger *logging.Logger) *ReportHandler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ReportHandler{sink: sink, balances: balances, journal: journal, logger: logger}
}

// Type returns the job type this handler serves.
func (h *ReportHandler) Type() types.JobType {
	return types.JobTypeReport
}

// Handle builds the requested report and writes it to the sink.
func (h *ReportHandler) Handle(ctx context.Context, job *models.Job) (string, error) {
	payload, err := decodeReportPayload(job.Payload)
	if err != nil {
		return "", err
	}

	var (
		location string
		count    int
	)
	switch payload.ReportType {
	case ReportUserBalances:
		location, count, err = h.userBalances(ctx, payload)
	case ReportTransactionSummary:
		location, count, err = h.transactionSummary(ctx, payload)
	}
	if err != nil {
		return "", err
	}

	h.logger.WithFields(map[string]interface{}{
		"reportType": payload.ReportType,
		"location":   location,
		"rows":       count,
	}).Info("report generated")

	return fmt.Sprintf("%s: %d rows at %s", payload.ReportType, count, location), nil
}

func (h *ReportHandler) userBalances(ctx context.Context, payload *ReportPayload) (string, int, error) {
	balances, err := h.balances.ListAll(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list balances: %w", err)
	}

	rows := make([][]string, 0, len(balances))
	for _, b := range balances {
		if payload.Asset != "" && b.Asset != payload.Asset {
			continue
		}
		rows = append(rows, []string{
			b.UserID,
			b.Asset,
			b.Amount.String(),
			b.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	header := []string{"user_id", "asset", "balance", "updated_at"}
	location, err := h.sink.Write(ctx, payload.OutputName, header, rows)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write balance report: %w", err)
	}
	return location, len(rows), nil
}

func (h *ReportHandler) transactionSummary(ctx context.Context, payload *ReportPayload) (string, int, error) {
	entries, err := h.journal.ListRange(ctx, payload.From, payload.To, payload.Asset, payload.Limit)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list journal entries: %w", err)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		ref := ""
		if e.Reference != nil {
			ref = *e.Reference
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.IdempotencyKey,
			e.UserID,
			e.Asset,
			e.Amount.String(),
			string(e.Kind),
			ref,
			e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	header := []string{"id", "transaction_uuid", "user_id", "asset", "amount", "kind", "reference", "created_at"}
	location, err := h.sink.Write(ctx, payload.OutputName, header, rows)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write transaction report: %w", err)
	}
	return location, len(rows), nil
}
