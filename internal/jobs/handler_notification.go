package jobs

import (
	"context"
	"fmt"

	"github.com/custody-ledger/internal/logging"
	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
)

// Sender delivers one notification. Delivery failures are retryable by the
// scheduler.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NotificationHandler processes notification jobs.
type NotificationHandler struct {
	sender Sender
	logger *logging.Logger
}

// NewNotificationHandler creates a notification handler.
func NewNotificationHandler(sender Sender, logger *logging.Logger) *NotificationHandler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &NotificationHandler{sender: sender, logger: logger}
}

// Type returns the job type this handler serves.
func (h *NotificationHandler) Type() types.JobType {
	return types.JobTypeNotification
}

// Handle sends the notification described by the payload.
func (h *NotificationHandler) Handle(ctx context.Context, job *models.Job) (string, error) {
	payload, err := decodeNotificationPayload(job.Payload)
	if err != nil {
		return "", err
	}

	if err := h.sender.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
		return "", fmt.Errorf("failed to send notification to %s: %w", payload.To, err)
	}

	h.logger.WithFields(map[string]interface{}{
		"to":      payload.To,
		"subject": payload.Subject,
	}).Info("notification sent")

	return fmt.Sprintf("sent to %s", payload.To), nil
}
