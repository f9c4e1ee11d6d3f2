// Package adapter provides filesystem-backed import sources and report
// sinks for the job handlers.
package adapter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/custody-ledger/internal/jobs"
	"github.com/custody-ledger/internal/logging"
)

// csvImportColumns is the expected header of an import file.
var csvImportColumns = []string{"idempotency_key", "user_id", "asset", "amount", "kind", "reference"}

// CSVDirectorySource opens import sources as CSV files under a fixed
// directory. Opening a source renames the file to a .consumed suffix
// before reading, so the same source id can only be drained once even
// across worker restarts.
type CSVDirectorySource struct {
	dir    string
	logger *logging.Logger
}

// NewCSVDirectorySource creates a source rooted at dir.
func NewCSVDirectorySource(dir string, logger *logging.Logger) *CSVDirectorySource {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CSVDirectorySource{dir: dir, logger: logger}
}

// Open claims and opens the CSV file for sourceID. A source whose file is
// gone but whose consumed marker exists reports jobs.ErrSourceConsumed.
func (s *CSVDirectorySource) Open(ctx context.Context, sourceID string) (jobs.RowIterator, error) {
	if strings.ContainsAny(sourceID, `/\`) || sourceID == "" {
		return nil, fmt.Errorf("invalid source id: %q", sourceID)
	}

	path := filepath.Join(s.dir, sourceID+".csv")
	consumed := path + ".consumed"

	// The rename is the claim: exactly one opener wins, and the original
	// name never matches again.
	if err := os.Rename(path, consumed); err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(consumed); statErr == nil {
				return nil, jobs.ErrSourceConsumed
			}
			return nil, fmt.Errorf("import source not found: %s", sourceID)
		}
		return nil, fmt.Errorf("failed to claim import source %s: %w", sourceID, err)
	}

	f, err := os.Open(consumed)
	if err != nil {
		return nil, fmt.Errorf("failed to open import source %s: %w", sourceID, err)
	}

	s.logger.WithField("sourceId", sourceID).Info("import source claimed")

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(csvImportColumns)

	iter := &csvRowIterator{file: f, reader: reader}
	if err := iter.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return iter, nil
}

type csvRowIterator struct {
	file   *os.File
	reader *csv.Reader
}

func (it *csvRowIterator) readHeader() error {
	header, err := it.reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read import header: %w", err)
	}
	for i, col := range csvImportColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return fmt.Errorf("unexpected import header column %d: got %q, want %q", i, header[i], col)
		}
	}
	return nil
}

// Next returns the next row, or (nil, nil) at end of file.
func (it *csvRowIterator) Next() (*jobs.ImportRow, error) {
	record, err := it.reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read import row: %w", err)
	}

	return &jobs.ImportRow{
		IdempotencyKey: strings.TrimSpace(record[0]),
		UserID:         strings.TrimSpace(record[1]),
		Asset:          strings.TrimSpace(record[2]),
		Amount:         strings.TrimSpace(record[3]),
		Kind:           strings.TrimSpace(record[4]),
		Reference:      strings.TrimSpace(record[5]),
	}, nil
}

func (it *csvRowIterator) Close() error {
	return it.file.Close()
}
