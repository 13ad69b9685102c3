package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()

	s, err := OpenSQLite(":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.EnsureSchema(ctx))
	inserted, err := s.SeedCalendar(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(366), inserted)
	return s
}

func productRow(id int64, price string) *domain.ProductDimensionRow {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.ProductDimensionRow{
		ProductID:   id,
		ProductName: "Product",
		Category:    "general",
		UnitPrice:   decimal.RequireFromString(price),
		LoadedAt:    now,
		UpdatedAt:   now,
	}
}

func customerRow(id string, first time.Time) *domain.CustomerDimensionRow {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.CustomerDimensionRow{
		CustomerID:           id,
		CustomerName:         "Customer " + id,
		City:                 "Chicago",
		Country:              "US",
		FirstTransactionDate: first,
		LoadedAt:             now,
		UpdatedAt:            now,
	}
}

func factRow(id string, product int64, customer string, ts time.Time, qty int64, total string) *domain.FactSalesRow {
	return &domain.FactSalesRow{
		TransactionID:        id,
		ProductID:            product,
		CustomerID:           customer,
		DateKey:              domain.DateKey(ts),
		TransactionTimestamp: ts,
		Quantity:             qty,
		UnitPrice:            decimal.RequireFromString("10.00"),
		TotalAmount:          decimal.RequireFromString(total),
		StoreLocation:        "Chicago",
		PaymentMethod:        domain.PaymentCash,
		LoadedAt:             ts,
	}
}

func TestSQLiteStore_SeedCalendarIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)

	inserted, err := s.SeedCalendar(context.Background(), time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted, "only the 2025 days are new")
}

func TestSQLiteStore_UpsertProductOverwrites(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithinGroup(ctx, func(tx Tx) error { return tx.UpsertProduct(ctx, productRow(1, "10.00")) }))
	updated := productRow(1, "12.50")
	updated.ProductName = "Renamed"
	require.NoError(t, s.WithinGroup(ctx, func(tx Tx) error { return tx.UpsertProduct(ctx, updated) }))

	var stored domain.ProductDimensionRow
	require.NoError(t, s.db.First(&stored, "product_id = ?", 1).Error)
	assert.Equal(t, "Renamed", stored.ProductName)
	assert.Equal(t, "12.50", stored.UnitPrice.StringFixed(2))

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Products)
}

func TestSQLiteStore_CustomerFirstDateNeverIncreases(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }

	for _, first := range []time.Time{day(10), day(5), day(20)} {
		row := customerRow("CUST-1", first)
		require.NoError(t, s.WithinGroup(ctx, func(tx Tx) error { return tx.UpsertCustomer(ctx, row) }))
	}

	var stored domain.CustomerDimensionRow
	require.NoError(t, s.db.First(&stored, "customer_id = ?", "CUST-1").Error)
	assert.True(t, day(5).Equal(stored.FirstTransactionDate), "got %s", stored.FirstTransactionDate)
}

func TestSQLiteStore_InsertFactSkipsDuplicates(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	var outcomes []domain.InsertOutcome
	for i := 0; i < 2; i++ {
		err := s.WithinGroup(ctx, func(tx Tx) error {
			outcome, err := tx.InsertFact(ctx, factRow("TXN-1", 1, "CUST-1", ts, 2, "20.00"))
			outcomes = append(outcomes, outcome)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []domain.InsertOutcome{domain.Inserted, domain.SkippedDuplicate}, outcomes)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Transactions)
	assert.Equal(t, "20.00", totals.Revenue.StringFixed(2))
}

func TestSQLiteStore_WithinGroupRollsBack(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinGroup(ctx, func(tx Tx) error {
		require.NoError(t, tx.UpsertProduct(ctx, productRow(1, "10.00")))
		require.NoError(t, tx.UpsertProduct(ctx, productRow(2, "10.00")))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrStorage), "errors from the group function are returned as is")

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	assert.Zero(t, totals.Products, "the whole group is rolled back")
}

func TestSQLiteStore_ExistingKeys(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithinGroup(ctx, func(tx Tx) error {
		if err := tx.UpsertProduct(ctx, productRow(1, "10.00")); err != nil {
			return err
		}
		return tx.UpsertCustomer(ctx, customerRow("A", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	}))

	require.NoError(t, s.WithinGroup(ctx, func(tx Tx) error {
		products, err := tx.ExistingProductIDs(ctx, []int64{1, 2})
		require.NoError(t, err)
		assert.Equal(t, map[int64]bool{1: true}, products)

		customers, err := tx.ExistingCustomerIDs(ctx, []string{"A", "B"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"A": true}, customers)

		dates, err := tx.ExistingDateKeys(ctx, []int{20240229, 20250101})
		require.NoError(t, err)
		assert.Equal(t, map[int]bool{20240229: true}, dates)
		return nil
	}))
}

func TestSQLiteStore_RunQualityChecks_DetectsBadRows(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.WithinGroup(ctx, func(tx Tx) error {
		if err := tx.UpsertProduct(ctx, productRow(1, "10.00")); err != nil {
			return err
		}
		return tx.UpsertCustomer(ctx, customerRow("CUST-1", ts))
	}))

	// Fixture rows written straight to the table, bypassing the loader's checks.
	good := factRow("TXN-1", 1, "CUST-1", ts, 1, "10.00")
	orphan := factRow("TXN-2", 999, "CUST-1", ts, 1, "10.00")
	negative := factRow("TXN-3", 1, "CUST-1", ts, -1, "-10.00")
	shifted := factRow("TXN-4", 1, "CUST-1", ts, 1, "10.00")
	shifted.DateKey = 20240302
	require.NoError(t, s.db.Create([]*domain.FactSalesRow{good, orphan, negative, shifted}).Error)

	report, err := s.RunQualityChecks(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Orphans.Count)
	assert.Equal(t, []string{"TXN-2"}, report.Orphans.Sample)
	assert.Equal(t, int64(1), report.NegativeAmounts.Count)
	assert.Equal(t, []string{"TXN-3"}, report.NegativeAmounts.Sample)
	assert.Equal(t, int64(1), report.DateConsistency.Count)
	assert.Equal(t, []string{"TXN-4"}, report.DateConsistency.Sample)
	assert.True(t, report.Duplicates.Passed())
	assert.False(t, report.Passed())
	assert.False(t, report.CheckedAt.IsZero())
}

func TestSQLiteStore_RunQualityChecks_CleanWarehouse(t *testing.T) {
	s := newSQLiteStore(t)

	report, err := s.RunQualityChecks(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	for _, check := range report.Checks() {
		assert.Zero(t, check.Count, check.Name)
	}
}

func TestSQLiteStore_Ping(t *testing.T) {
	s := newSQLiteStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
