// Package source provides the record sources of the pipeline: products from the product
// API and sales transactions from CSV files. Sources return raw, unvalidated records.
package source

import (
	"context"
	"errors"
	"fmt"

	"retail-analytics-pipeline/internal/domain"
)

// Predefined errors for source operations.
var (
	ErrSourceUnavailable = errors.New("source: unavailable")
	ErrSourceUnreadable  = errors.New("source: unreadable")
	ErrMalformedResponse = errors.New("source: malformed response")
)

// ProductSource produces raw product records.
type ProductSource interface {
	FetchProducts(ctx context.Context) ([]domain.RawRecord, error)
}

// TransactionSource produces raw transaction records from a file path.
type TransactionSource interface {
	ReadTransactions(ctx context.Context, path string) ([]domain.RawRecord, error)
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// HTTPStatusCode exposes the status for retry classification.
func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }
