package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/custody-ledger/internal/errors"
	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
)

// DecisionStore records verification decisions. Implemented by
// storage.VerificationRepository. GetByID returns (nil, nil) when no such
// submission exists; an error means the lookup itself failed.
type DecisionStore interface {
	GetByID(ctx context.Context, id int64) (*models.VerificationSubmission, error)
	Decide(ctx context.Context, id int64, status types.VerificationStatus, reason string, decidedBy *string) (*models.VerificationSubmission, error)
}

// Enqueuer schedules follow-up jobs. Implemented by storage.JobRepository.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType types.JobType, payload json.RawMessage, scheduledAt time.Time, maxAttempts int) (string, error)
}

// VerificationHandler applies approve/reject decisions to pending
// verification submissions and enqueues a notification to the submitter.
type VerificationHandler struct {
	store    DecisionStore
	enqueuer Enqueuer
	clock    Clock
	logger   *logging.Logger
}

// NewVerificationHandler creates a verification decision handler.
func NewVerificationHandler(store DecisionStore, enqueuer Enqueuer, clock Clock, logger *logging.Logger) *VerificationHandler {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &VerificationHandler{store: store, enqueuer: enqueuer, clock: clock, logger: logger}
}

// Type returns the job type this handler serves.
func (h *VerificationHandler) Type() types.JobType {
	return types.JobTypeVerificationDecision
}

// Handle applies the decision in the payload. A submission that already
// carries the requested decision completes as a replay; a submission that
// carries the opposite decision, or does not exist, can never succeed and
// fails terminally.
func (h *VerificationHandler) Handle(ctx context.Context, job *models.Job) (string, error) {
	payload, err := decodeVerificationPayload(job.Payload)
	if err != nil {
		return "", err
	}

	status := types.VerificationApproved
	if payload.Action == "reject" {
		status = types.VerificationRejected
	}

	sub, err := h.store.GetByID(ctx, payload.SubmissionID)
	if err != nil {
		// Lookup failures are transient; only a confirmed missing
		// submission is unrecoverable.
		return "", fmt.Errorf("failed to load verification submission %d: %w", payload.SubmissionID, err)
	}
	if sub == nil {
		return "", apperrors.NewMalformedPayload(fmt.Sprintf("verification submission %d not found", payload.SubmissionID))
	}

	if sub.Status != types.VerificationPending {
		if sub.Status == status {
			return fmt.Sprintf("submission %d already %s", sub.ID, sub.Status), nil
		}
		return "", apperrors.NewMalformedPayload(fmt.Sprintf("submission %d already decided as %s", sub.ID, sub.Status))
	}

	decided, err := h.store.Decide(ctx, payload.SubmissionID, status, payload.Reason, payload.DecidedBy)
	if err != nil {
		return "", fmt.Errorf("failed to decide submission %d: %w", payload.SubmissionID, err)
	}

	h.logger.WithFields(map[string]interface{}{
		"submissionId": decided.ID,
		"userId":       decided.UserID,
		"status":       string(decided.Status),
	}).Info("verification decision recorded")

	if err := h.enqueueNotification(ctx, decided); err != nil {
		// The decision is durable; only the follow-up notification is lost.
		h.logger.WithError(err).WithField("submissionId", decided.ID).
			Error("failed to enqueue decision notification")
	}

	return fmt.Sprintf("submission %d %s", decided.ID, decided.Status), nil
}

func (h *VerificationHandler) enqueueNotification(ctx context.Context, sub *models.VerificationSubmission) error {
	if sub.Email == "" {
		return nil
	}

	subject := "Your verification was approved"
	body := "Your identity verification has been approved."
	if sub.Status == types.VerificationRejected {
		subject = "Your verification was rejected"
		body = "Your identity verification has been rejected."
		if sub.Reason != nil && *sub.Reason != "" {
			body = body + " Reason: " + *sub.Reason
		}
	}

	payload, err := MarshalPayload(NotificationPayload{
		To:      sub.Email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}

	_, err = h.enqueuer.Enqueue(ctx, types.JobTypeNotification, payload, h.clock.Now(), 3)
	return err
}
