// Package pipeline runs the ETL batch: products first, then transactions (customers
// before facts), then the post-load quality checks, producing a Summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/loader"
	"retail-analytics-pipeline/internal/logger"
	"retail-analytics-pipeline/internal/source"
	"retail-analytics-pipeline/internal/store"
	"retail-analytics-pipeline/internal/transform"
	"retail-analytics-pipeline/internal/validation"
)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Products     source.ProductSource
	Transactions source.TransactionSource
	Validator    *validation.Validator
	Loader       *loader.Loader
	Log          *logger.Logger
}

// Options configures a Pipeline.
type Options struct {
	TransactionsPath string
	Now              func() time.Time
}

// Pipeline sequences sources, validation, transformation and loading.
type Pipeline struct {
	deps Deps
	opts Options
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Pipeline{deps: deps, opts: opts}
}

// Run executes one batch and always returns the summary. Per-record failures are
// collected in the summary and never abort the run. A source failure aborts only its
// own stage; the remaining stages still run and the run ends failed. A storage failure
// ends the run immediately. The returned error is non-nil exactly when the run failed.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	started := p.opts.Now().UTC()
	sum := newSummary(uuid.NewString(), started)
	log := p.deps.Log.With("run_id", sum.RunID)
	log.Info("pipeline run started", "transactions_path", p.opts.TransactionsPath)

	if err := p.run(ctx, sum, log, started); err != nil {
		log.Error("pipeline run aborted", "state", sum.State, "error", err)
	}
	sum.finish(p.opts.Now().UTC())

	if sum.Outcome == OutcomeFailed {
		log.Error("pipeline run failed", "summary", sum)
		return sum, fmt.Errorf("pipeline: run %s failed: %w", sum.RunID, sum.Err())
	}
	log.Info("pipeline run finished", "summary", sum)
	return sum, nil
}

// run walks the state machine. It returns early only on a storage failure.
func (p *Pipeline) run(ctx context.Context, sum *Summary, log *logger.Logger, loadedAt time.Time) error {
	sum.transition(StateProductsLoading, p.opts.Now().UTC())
	if err := p.loadProducts(ctx, sum, log, loadedAt); err != nil {
		sum.stageFailed(StageProducts, err)
		if fatal(err) {
			return err
		}
		log.Error("products stage failed, continuing with transactions", "error", err)
	}

	sum.transition(StateTransactionsLoading, p.opts.Now().UTC())
	if err := p.loadTransactions(ctx, sum, log, loadedAt); err != nil {
		sum.stageFailed(StageTransactions, err)
		if fatal(err) {
			return err
		}
		log.Error("transactions stage failed, continuing with quality checks", "error", err)
	}

	sum.transition(StateQualityChecking, p.opts.Now().UTC())
	report, err := p.deps.Loader.RunQualityChecks(ctx)
	if err != nil {
		sum.stageFailed(StageQuality, err)
		return err
	}
	sum.Quality = report

	totals, err := p.deps.Loader.Totals(ctx)
	if err != nil {
		// Totals are informational; a failure here does not fail the run.
		log.Warn("failed to read warehouse totals", "error", err)
		return nil
	}
	sum.Totals = totals
	return nil
}

// fatal reports whether err must end the run rather than just its stage.
func fatal(err error) bool {
	return errors.Is(err, store.ErrStorage) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) loadProducts(ctx context.Context, sum *Summary, log *logger.Logger, loadedAt time.Time) error {
	raw, err := p.deps.Products.FetchProducts(ctx)
	if err != nil {
		return err
	}
	counts := &sum.Products
	counts.Read = len(raw)

	valid := make([]domain.ProductRecord, 0, len(raw))
	for _, r := range raw {
		rec, err := p.deps.Validator.Product(r)
		if err != nil {
			counts.FailedValidation++
			sum.recordError(StageProducts, KindValidation, keyOf(err), err)
			log.Warn("product failed validation", "error", err)
			continue
		}
		valid = append(valid, rec)
	}
	counts.Validated = len(valid)

	rows := transform.ProductsToDimension(valid, loadedAt)
	counts.Transformed = len(rows)

	res, err := p.deps.Loader.LoadProducts(ctx, rows)
	if err != nil {
		counts.FailedLoad = len(rows)
		return err
	}
	counts.Loaded = res.Loaded
	counts.FailedLoad = res.Failed
	log.Info("products stage finished", "counts", *counts)
	return nil
}

func (p *Pipeline) loadTransactions(ctx context.Context, sum *Summary, log *logger.Logger, loadedAt time.Time) error {
	raw, err := p.deps.Transactions.ReadTransactions(ctx, p.opts.TransactionsPath)
	if err != nil {
		return err
	}
	counts := &sum.Transactions
	counts.Read = len(raw)

	valid := make([]domain.SalesTransactionRecord, 0, len(raw))
	for _, r := range raw {
		rec, warnings, err := p.deps.Validator.Transaction(r)
		if err != nil {
			counts.FailedValidation++
			sum.recordError(StageTransactions, KindValidation, keyOf(err), err)
			log.Warn("transaction failed validation", "error", err)
			continue
		}
		for _, w := range warnings {
			sum.warning(StageTransactions, rec.TransactionID, w)
			log.Warn("transaction accepted with warning", "transaction_id", rec.TransactionID, "warning", w.String())
		}
		valid = append(valid, rec)
	}
	counts.Validated = len(valid)

	agg := transform.Aggregate(valid)
	sum.Aggregates = &agg
	log.Info("transaction batch aggregates", "aggregates", agg)

	customers := transform.ExtractCustomers(valid, loadedAt)
	facts := transform.TransactionsToFacts(valid, loadedAt)
	counts.Transformed = len(facts)

	// Customers are committed before any fact that references them.
	cres, err := p.deps.Loader.LoadCustomers(ctx, customers)
	if err != nil {
		counts.FailedLoad = len(facts)
		return err
	}
	sum.CustomersLoaded = cres.Loaded

	fres, err := p.deps.Loader.LoadFacts(ctx, facts)
	if err != nil {
		counts.FailedLoad = len(facts)
		return err
	}
	counts.Loaded = fres.Loaded
	counts.SkippedDuplicate = fres.SkippedDuplicate
	counts.FailedLoad = fres.Failed
	for _, f := range fres.Failures {
		sum.recordError(StageTransactions, KindReferentialIntegrity, f.Key, f.Err)
	}
	log.Info("transactions stage finished", "counts", *counts, "customers_loaded", sum.CustomersLoaded)
	return nil
}

func keyOf(err error) string {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return verr.Key
	}
	return ""
}
