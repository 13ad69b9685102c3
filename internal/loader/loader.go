// Package loader writes transformed rows into the warehouse, one commit group per table,
// and runs the post-load quality checks.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
	"retail-analytics-pipeline/internal/store"
)

// ErrReferentialIntegrity is matched by every IntegrityError.
var ErrReferentialIntegrity = errors.New("loader: referential integrity violation")

// IntegrityError reports a fact row whose dimension keys are not in the warehouse.
type IntegrityError struct {
	TransactionID string
	Missing       []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("loader: transaction %s references missing %s", e.TransactionID, strings.Join(e.Missing, ", "))
}

func (e *IntegrityError) Is(target error) bool { return target == ErrReferentialIntegrity }

// RecordFailure is one row that could not be loaded.
type RecordFailure struct {
	Key string
	Err error
}

// Result counts the outcome of one load group.
type Result struct {
	Attempted        int
	Loaded           int
	SkippedDuplicate int
	Failed           int
	Failures         []RecordFailure
}

func (r *Result) fail(key string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, RecordFailure{Key: key, Err: err})
}

// Options configures retries of transient storage failures and quality sampling.
type Options struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SampleLimit    int
}

// Loader loads dimension and fact rows into a store.Warehouse.
type Loader struct {
	wh   store.Warehouse
	opts Options
	log  *logger.Logger
}

// New creates a Loader.
func New(wh store.Warehouse, opts Options, log *logger.Logger) *Loader {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.SampleLimit < 1 {
		opts.SampleLimit = 10
	}
	return &Loader{wh: wh, opts: opts, log: log.With("component", "loader")}
}

// LoadProducts upserts every product in a single commit group.
func (l *Loader) LoadProducts(ctx context.Context, rows []domain.ProductDimensionRow) (Result, error) {
	var res Result
	err := l.inGroup(ctx, "products", func(tx store.Tx) error {
		res = Result{Attempted: len(rows)}
		for i := range rows {
			if err := tx.UpsertProduct(ctx, &rows[i]); err != nil {
				return err
			}
			res.Loaded++
		}
		return nil
	})
	if err != nil {
		return Result{Attempted: len(rows)}, err
	}
	l.log.Info("products loaded", "loaded", res.Loaded)
	return res, nil
}

// LoadCustomers upserts every customer in a single commit group.
func (l *Loader) LoadCustomers(ctx context.Context, rows []domain.CustomerDimensionRow) (Result, error) {
	var res Result
	err := l.inGroup(ctx, "customers", func(tx store.Tx) error {
		res = Result{Attempted: len(rows)}
		for i := range rows {
			if err := tx.UpsertCustomer(ctx, &rows[i]); err != nil {
				return err
			}
			res.Loaded++
		}
		return nil
	})
	if err != nil {
		return Result{Attempted: len(rows)}, err
	}
	l.log.Info("customers loaded", "loaded", res.Loaded)
	return res, nil
}

// LoadFacts inserts fact rows in a single commit group. Rows whose product, customer or
// date is missing from the warehouse are reported as IntegrityError failures and never
// written; rows already stored are counted as skipped duplicates.
func (l *Loader) LoadFacts(ctx context.Context, rows []domain.FactSalesRow) (Result, error) {
	var res Result
	err := l.inGroup(ctx, "facts", func(tx store.Tx) error {
		res = Result{Attempted: len(rows)}

		products, customers, dates, err := existingKeys(ctx, tx, rows)
		if err != nil {
			return err
		}

		for i := range rows {
			row := &rows[i]
			var missing []string
			if !products[row.ProductID] {
				missing = append(missing, fmt.Sprintf("product %d", row.ProductID))
			}
			if !customers[row.CustomerID] {
				missing = append(missing, "customer "+row.CustomerID)
			}
			if !dates[row.DateKey] {
				missing = append(missing, fmt.Sprintf("date %d", row.DateKey))
			}
			if len(missing) > 0 {
				res.fail(row.TransactionID, &IntegrityError{TransactionID: row.TransactionID, Missing: missing})
				continue
			}

			outcome, err := tx.InsertFact(ctx, row)
			if err != nil {
				return err
			}
			if outcome == domain.SkippedDuplicate {
				res.SkippedDuplicate++
				continue
			}
			res.Loaded++
		}
		return nil
	})
	if err != nil {
		return Result{Attempted: len(rows)}, err
	}

	for _, f := range res.Failures {
		l.log.Warn("fact rejected", "transaction_id", f.Key, "error", f.Err)
	}
	l.log.Info("facts loaded", "loaded", res.Loaded, "skipped_duplicate", res.SkippedDuplicate, "failed", res.Failed)
	return res, nil
}

func existingKeys(ctx context.Context, tx store.Tx, rows []domain.FactSalesRow) (map[int64]bool, map[string]bool, map[int]bool, error) {
	var (
		productIDs  []int64
		customerIDs []string
		dateKeys    []int
		seenP       = make(map[int64]bool)
		seenC       = make(map[string]bool)
		seenD       = make(map[int]bool)
	)
	for _, r := range rows {
		if !seenP[r.ProductID] {
			seenP[r.ProductID] = true
			productIDs = append(productIDs, r.ProductID)
		}
		if !seenC[r.CustomerID] {
			seenC[r.CustomerID] = true
			customerIDs = append(customerIDs, r.CustomerID)
		}
		if !seenD[r.DateKey] {
			seenD[r.DateKey] = true
			dateKeys = append(dateKeys, r.DateKey)
		}
	}

	products, err := tx.ExistingProductIDs(ctx, productIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	customers, err := tx.ExistingCustomerIDs(ctx, customerIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	dates, err := tx.ExistingDateKeys(ctx, dateKeys)
	if err != nil {
		return nil, nil, nil, err
	}
	return products, customers, dates, nil
}

// RunQualityChecks runs the post-load checks. Failing checks are logged, never fixed.
func (l *Loader) RunQualityChecks(ctx context.Context) (*domain.QualityReport, error) {
	report, err := retry(ctx, l, "quality checks", func() (*domain.QualityReport, error) {
		return l.wh.RunQualityChecks(ctx, l.opts.SampleLimit)
	})
	if err != nil {
		return nil, err
	}
	for _, check := range report.Checks() {
		if !check.Passed() {
			l.log.Warn("quality check failed", "check", check.Name, "count", check.Count, "sample", check.Sample)
		}
	}
	l.log.Info("quality checks finished", "passed", report.Passed())
	return report, nil
}

// Totals returns warehouse-wide counts and revenue.
func (l *Loader) Totals(ctx context.Context) (*domain.WarehouseTotals, error) {
	return retry(ctx, l, "totals", func() (*domain.WarehouseTotals, error) {
		return l.wh.Totals(ctx)
	})
}

func (l *Loader) inGroup(ctx context.Context, group string, fn func(tx store.Tx) error) error {
	_, err := retry(ctx, l, group+" group", func() (struct{}, error) {
		return struct{}{}, l.wh.WithinGroup(ctx, fn)
	})
	return err
}

// retry runs op until it succeeds, fails permanently or runs out of attempts. Only
// transient storage errors are retried. The returned error always matches store.ErrStorage.
func retry[T any](ctx context.Context, l *Loader, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.InitialBackoff
	b.MaxInterval = l.opts.MaxBackoff

	attempt := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if !store.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		l.log.Warn("transient storage failure", "op", op, "attempt", attempt, "max_attempts", l.opts.MaxAttempts, "error", err)
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(l.opts.MaxAttempts))
	if err != nil {
		l.log.Error("storage operation failed", "op", op, "attempts", attempt, "error", err)
		if !errors.Is(err, store.ErrStorage) {
			err = fmt.Errorf("%w: %s: %w", store.ErrStorage, op, err)
		}
		return res, err
	}
	return res, nil
}
