package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jfyne/csvd"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
)

// RequiredTransactionColumns must appear in the header of a transactions file.
var RequiredTransactionColumns = []string{
	"transaction_id", "product_id", "customer_id", "quantity",
	"unit_price", "total_amount", "store_location", "payment_method",
}

// CSVTransactionSource reads sales transactions from delimited files. The delimiter is
// sniffed, so comma, semicolon, tab and pipe separated exports are all accepted.
type CSVTransactionSource struct {
	log *logger.Logger
}

// NewCSVTransactionSource creates a CSVTransactionSource.
func NewCSVTransactionSource(log *logger.Logger) *CSVTransactionSource {
	return &CSVTransactionSource{log: log.With("source", "csv")}
}

// ReadTransactions returns one raw record per data row, keyed by the normalized header.
// Empty cells are left out of the record. A missing file, an unparsable file or a header
// without the required columns fails with ErrSourceUnreadable.
func (s *CSVTransactionSource) ReadTransactions(ctx context.Context, path string) ([]domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Error("transactions file not found", "path", path)
			return nil, fmt.Errorf("%w: file not found: %s", ErrSourceUnreadable, path)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrSourceUnreadable, path, err)
	}
	defer f.Close()

	records, err := s.parse(f)
	if err != nil {
		s.log.Error("failed to parse transactions file", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, path, err)
	}
	s.log.Info("loaded transactions from CSV", "path", path, "rows", len(records))
	return records, nil
}

func (s *CSVTransactionSource) parse(r io.Reader) ([]domain.RawRecord, error) {
	csvReader := csvd.NewReader(r)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("file is empty")
		}
		return nil, fmt.Errorf("unable to read header: %w", err)
	}
	header = normalizeHeader(header)

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for _, col := range RequiredTransactionColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if !present["transaction_timestamp"] && !present["transaction_date"] {
		missing = append(missing, "transaction_timestamp")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to read file content: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(rows))
	for _, row := range rows {
		if isBlankRow(row) {
			continue
		}
		rec := make(domain.RawRecord, len(header))
		for i, value := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v := strings.TrimSpace(value); v != "" {
				rec[header[i]] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ToLower(strings.TrimSpace(h))
		out[i] = strings.ReplaceAll(h, " ", "_")
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
