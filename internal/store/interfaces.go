package store

import (
	"context"

	"retail-analytics-pipeline/internal/domain"
)

// Tx is the set of writes and key lookups available inside one commit group.
type Tx interface {
	// UpsertProduct inserts the product or overwrites every descriptive column of the stored row.
	UpsertProduct(ctx context.Context, row *domain.ProductDimensionRow) error
	// UpsertCustomer inserts the customer or updates it, keeping the earlier first_transaction_date.
	UpsertCustomer(ctx context.Context, row *domain.CustomerDimensionRow) error
	// InsertFact inserts the fact unless its transaction_id is already stored.
	InsertFact(ctx context.Context, row *domain.FactSalesRow) (domain.InsertOutcome, error)

	ExistingProductIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	ExistingCustomerIDs(ctx context.Context, ids []string) (map[string]bool, error)
	ExistingDateKeys(ctx context.Context, keys []int) (map[int]bool, error)
}

// Warehouse defines the storage operations of the star schema.
type Warehouse interface {
	// WithinGroup runs fn in a single transaction. The group commits when fn returns nil
	// and rolls back as a whole otherwise.
	WithinGroup(ctx context.Context, fn func(tx Tx) error) error
	// RunQualityChecks inspects fact_sales. Each check returns at most sampleLimit keys.
	RunQualityChecks(ctx context.Context, sampleLimit int) (*domain.QualityReport, error)
	Totals(ctx context.Context) (*domain.WarehouseTotals, error)
	Ping(ctx context.Context) error
	Close() error
}
