package jobs

import (
	"encoding/json"
	"time"

	apperrors "github.com/custody-ledger/internal/errors"
)

// Typed payloads for the closed job type set. Payloads are validated on
// decode; a structurally invalid payload is terminal, since retrying cannot
// fix it.

// ImportPayload drives a bulk row import job.
type ImportPayload struct {
	// SourceID names the one-shot row source to import from.
	SourceID string `json:"sourceId"`
}

// VerificationPayload drives a verification decision job.
type VerificationPayload struct {
	SubmissionID int64  `json:"submissionId"`
	// Action is "approve" or "reject".
	Action    string  `json:"action"`
	Reason    string  `json:"reason,omitempty"`
	DecidedBy *string `json:"decidedBy,omitempty"`
}

// NotificationPayload drives a notification send job.
type NotificationPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ReconciliationPayload drives a balance reconciliation job. An empty
// UserID reconciles all known users.
type ReconciliationPayload struct {
	UserID string `json:"userId,omitempty"`
}

// Report type tags accepted by ReportPayload.
const (
	ReportUserBalances       = "user_balances"
	ReportTransactionSummary = "transaction_summary"
)

// ReportPayload drives a report generation job.
type ReportPayload struct {
	ReportType string    `json:"reportType"`
	OutputName string    `json:"outputName"`
	Asset      string    `json:"asset,omitempty"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
	// Limit caps the number of report rows; zero means unbounded.
	Limit int `json:"limit,omitempty"`
}

// MarshalPayload encodes a typed payload for enqueueing.
func MarshalPayload(payload interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewMalformedPayload(err.Error())
	}
	return data, nil
}

func decodeImportPayload(raw json.RawMessage) (*ImportPayload, error) {
	var p ImportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewMalformedPayload(err.Error())
	}
	if p.SourceID == "" {
		return nil, apperrors.NewMalformedPayload("sourceId is required")
	}
	return &p, nil
}

func decodeVerificationPayload(raw json.RawMessage) (*VerificationPayload, error) {
	var p VerificationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewMalformedPayload(err.Error())
	}
	if p.SubmissionID <= 0 {
		return nil, apperrors.NewMalformedPayload("submissionId is required")
	}
	if p.Action != "approve" && p.Action != "reject" {
		return nil, apperrors.NewMalformedPayload("action must be approve or reject")
	}
	return &p, nil
}

func decodeNotificationPayload(raw json.RawMessage) (*NotificationPayload, error) {
	var p NotificationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewMalformedPayload(err.Error())
	}
	if p.To == "" {
		return nil, apperrors.NewMalformedPayload("to is required")
	}
	if p.Subject == "" {
		return nil, apperrors.NewMalformedPayload("subject is required")
	}
	return &p, nil
}

func decodeReconciliationPayload(raw json.RawMessage) (*ReconciliationPayload, error) {
	var p ReconciliationPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, apperrors.NewMalformedPayload(err.Error())
		}
	}
	return &p, nil
}

func decodeReportPayload(raw json.RawMessage) (*ReportPayload, error) {
	var p ReportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewMalformedPayload(err.Error())
	}
	if p.ReportType != ReportUserBalances && p.ReportType != ReportTransactionSummary {
		return nil, apperrors.NewMalformedPayload("unknown report type: " + p.ReportType)
	}
	if p.OutputName == "" {
		return nil, apperrors.NewMalformedPayload("outputName is required")
	}
	return &p, nil
}
