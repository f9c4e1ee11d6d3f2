package adapter

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custody-ledger/internal/logging"
)

// CSVReportSink writes reports as CSV files under a fixed directory.
// Writes go through a temp file and a rename so a crashed job never
// leaves a half-written report behind.
type CSVReportSink struct {
	dir    string
	logger *logging.Logger
}

// NewCSVReportSink creates a sink rooted at dir, creating it if needed.
func NewCSVReportSink(dir string, logger *logging.Logger) (*CSVReportSink, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}
	return &CSVReportSink{dir: dir, logger: logger}, nil
}

// Write persists one report and returns its final path.
func (s *CSVReportSink) Write(ctx context.Context, name string, header []string, rows [][]string) (string, error) {
	if strings.ContainsAny(name, `/\`) || name == "" {
		return "", fmt.Errorf("invalid report name: %q", name)
	}

	final := filepath.Join(s.dir, name+".csv")
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.Write(header); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write report header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return "", fmt.Errorf("failed to write report row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to flush report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("failed to publish report %s: %w", name, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"report": final,
		"rows":   len(rows),
	}).Info("report written")

	return final, nil
}

// LogSender delivers notifications to the structured log. It stands in
// for a real mail or webhook transport in single-binary deployments.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a log-backed notification sender.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LogSender{logger: logger}
}

// Send records the notification.
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      to,
		"subject": subject,
		"body":    body,
	}).Info("notification delivered")
	return nil
}
