package jobs

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/ledger"
	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// ErrSourceConsumed reports that an import source was already opened once.
// Sources are consumed on open, so a retried import job finds its source
// gone and must not reprocess rows.
var ErrSourceConsumed = errors.New("import source already consumed")

// ImportRow is one ledger mutation parsed from an import source.
type ImportRow struct {
	IdempotencyKey string
	UserID         string
	Asset          string
	Amount         string
	Kind           string
	Reference      string
}

// RowIterator streams rows from an opened import source. Next returns
// (nil, nil) when the source is exhausted.
type RowIterator interface {
	Next() (*ImportRow, error)
	Close() error
}

// SourceOpener opens a named import source. Opening consumes the source;
// a second open of the same id returns ErrSourceConsumed.
type SourceOpener interface {
	Open(ctx context.Context, sourceID string) (RowIterator, error)
}

// Recorder applies one idempotent ledger mutation. Implemented by
// ledger.Service.
type Recorder interface {
	Record(ctx context.Context, input ledger.RecordInput) (*ledger.RecordResult, error)
}

// ImportHandler processes bulk import jobs. Rows are applied one by one;
// a bad row is counted and skipped rather than failing the whole job, so
// an import completes with a partial-success note.
type ImportHandler struct {
	opener   SourceOpener
	recorder Recorder
	logger   *logging.Logger
}

// NewImportHandler creates an import handler.
func NewImportHandler(opener SourceOpener, recorder Recorder, logger *logging.Logger) *ImportHandler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ImportHandler{opener: opener, recorder: recorder, logger: logger}
}

// Type returns the job type this handler serves.
func (h *ImportHandler) Type() types.JobType {
	return types.JobTypeImport
}

// Handle imports all rows from the payload's source.
func (h *ImportHandler) Handle(ctx context.Context, job *models.Job) (string, error) {
	payload, err := decodeImportPayload(job.Payload)
	if err != nil {
		return "", err
	}

	iter, err := h.opener.Open(ctx, payload.SourceID)
	if err != nil {
		if errors.Is(err, ErrSourceConsumed) {
			// A previous attempt already drained this source. Its rows
			// were recorded idempotently, so there is nothing to redo.
			return fmt.Sprintf("source %s already consumed, skipping", payload.SourceID), nil
		}
		return "", fmt.Errorf("failed to open import source %s: %w", payload.SourceID, err)
	}
	defer iter.Close()

	imported := 0
	failed := 0
	var firstErr error

	for {
		row, err := iter.Next()
		if err != nil {
			return "", fmt.Errorf("failed to read import source %s: %w", payload.SourceID, err)
		}
		if row == nil {
			break
		}

		if err := h.importRow(ctx, row); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			h.logger.WithError(err).WithFields(map[string]interface{}{
				"sourceId": payload.SourceID,
				"userId":   row.UserID,
			}).Warn("import row rejected")
			continue
		}
		imported++
	}

	note := fmt.Sprintf("imported %d rows", imported)
	if failed > 0 {
		note = fmt.Sprintf("imported %d rows; %d failed: %v", imported, failed, firstErr)
	}

	h.logger.WithFields(map[string]interface{}{
		"sourceId": payload.SourceID,
		"imported": imported,
		"failed":   failed,
	}).Info("import source processed")

	return note, nil
}

func (h *ImportHandler) importRow(ctx context.Context, row *ImportRow) error {
	kind := types.Kind(row.Kind)
	if !kind.Valid() {
		return apperrors.NewMalformedPayload("unknown mutation kind: " + row.Kind)
	}

	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return apperrors.NewMalformedPayload("invalid amount: " + row.Amount)
	}

	var ref *string
	if row.Reference != "" {
		ref = &row.Reference
	}

	_, err = h.recorder.Record(ctx, ledger.RecordInput{
		IdempotencyKey: row.IdempotencyKey,
		UserID:         row.UserID,
		Asset:          row.Asset,
		Amount:         amount,
		Kind:           kind,
		Reference:      ref,
	})
	return err
}
