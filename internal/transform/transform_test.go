package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retail-analytics-pipeline/internal/domain"
)

var loadedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func PtrTo[T any](v T) *T {
	return &v
}

func txn(id, customer string, product int64, ts time.Time, qty int64, price string) domain.SalesTransactionRecord {
	unit := decimal.RequireFromString(price)
	return domain.SalesTransactionRecord{
		TransactionID:        id,
		ProductID:            product,
		CustomerID:           customer,
		CustomerName:         "Customer " + customer,
		City:                 "Chicago",
		Country:              "US",
		TransactionTimestamp: ts,
		Quantity:             qty,
		UnitPrice:            unit,
		TotalAmount:          unit.Mul(decimal.NewFromInt(qty)),
		StoreLocation:        "Chicago",
		PaymentMethod:        domain.PaymentCash,
	}
}

func TestProductsToDimension(t *testing.T) {
	products := []domain.ProductRecord{
		{ProductID: 1, Title: "Backpack", Category: "bags", Price: decimal.RequireFromString("109.95"), ImageURL: PtrTo("https://example.com/1.jpg")},
		{ProductID: 2, Title: "Shirt", Category: "clothing", Price: decimal.RequireFromString("22.30"), Description: PtrTo("cotton")},
	}

	rows := ProductsToDimension(products, loadedAt)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(1), rows[0].ProductID)
	assert.Equal(t, "Backpack", rows[0].ProductName)
	assert.True(t, decimal.RequireFromString("109.95").Equal(rows[0].UnitPrice))
	assert.Equal(t, "https://example.com/1.jpg", *rows[0].ImageURL)
	assert.Nil(t, rows[0].Description)
	assert.Equal(t, loadedAt, rows[0].LoadedAt)
	assert.Equal(t, loadedAt, rows[0].UpdatedAt)
	assert.Equal(t, "cotton", *rows[1].Description)
}

func TestExtractCustomers(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }

	first := txn("T1", "C2", 1, day(10), 1, "5.00")
	second := txn("T2", "C1", 1, day(4), 1, "5.00")
	third := txn("T3", "C2", 2, day(2), 1, "5.00")
	third.CustomerName = "Grace Hopper"
	third.Email = PtrTo("grace@example.com")
	third.City = "Arlington"
	fourth := txn("T4", "C2", 2, day(20), 1, "5.00")
	fourth.City = "Boston"
	fourth.CustomerName = "Grace B. Hopper"

	customers := ExtractCustomers([]domain.SalesTransactionRecord{first, second, third, fourth}, loadedAt)
	require.Len(t, customers, 2)

	assert.Equal(t, "C2", customers[0].CustomerID, "ordered by first appearance")
	assert.Equal(t, "C1", customers[1].CustomerID)

	c2 := customers[0]
	assert.Equal(t, day(2), c2.FirstTransactionDate, "first transaction date is the earliest timestamp")
	assert.Equal(t, "Grace B. Hopper", c2.CustomerName, "attributes are last-write-wins")
	assert.Equal(t, "Boston", c2.City)
	assert.Nil(t, c2.Email, "a later transaction without an email clears it")
	assert.Equal(t, loadedAt, c2.LoadedAt)

	assert.Equal(t, day(4), customers[1].FirstTransactionDate)
}

func TestExtractCustomers_Deterministic(t *testing.T) {
	txns := []domain.SalesTransactionRecord{
		txn("T1", "A", 1, loadedAt.Add(-time.Hour), 1, "1.00"),
		txn("T2", "B", 1, loadedAt.Add(-2*time.Hour), 1, "1.00"),
		txn("T3", "A", 1, loadedAt.Add(-3*time.Hour), 1, "1.00"),
	}

	assert.Equal(t, ExtractCustomers(txns, loadedAt), ExtractCustomers(txns, loadedAt))
	assert.Empty(t, ExtractCustomers(nil, loadedAt))
}

func TestTransactionsToFacts_DateKeyIsUTCDate(t *testing.T) {
	// 23:30 at UTC-5 is already the next day in UTC.
	local := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	rows := TransactionsToFacts([]domain.SalesTransactionRecord{txn("T1", "C1", 3, local, 2, "10.50")}, loadedAt)

	require.Len(t, rows, 1)
	fact := rows[0]
	assert.Equal(t, 20240302, fact.DateKey)
	assert.Equal(t, time.UTC, fact.TransactionTimestamp.Location())
	assert.Equal(t, "T1", fact.TransactionID)
	assert.Equal(t, int64(3), fact.ProductID)
	assert.True(t, decimal.RequireFromString("21.00").Equal(fact.TotalAmount))
	assert.Equal(t, domain.PaymentCash, fact.PaymentMethod)
	assert.Equal(t, loadedAt, fact.LoadedAt)
}

func TestAggregate(t *testing.T) {
	txns := []domain.SalesTransactionRecord{
		txn("T1", "C1", 1, loadedAt, 2, "10.50"),
		txn("T2", "C1", 2, loadedAt, 1, "5.00"),
		txn("T3", "C2", 1, loadedAt, 3, "1.99"),
	}

	agg := Aggregate(txns)
	assert.Equal(t, 3, agg.TotalTransactions)
	assert.Equal(t, int64(6), agg.TotalQuantity)
	assert.Equal(t, 2, agg.UniqueCustomers)
	assert.Equal(t, 2, agg.UniqueProducts)
	assert.Equal(t, "31.97", agg.TotalRevenue.StringFixed(2))
	assert.Equal(t, "10.66", agg.AverageTransactionValue.StringFixed(2))
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil)
	assert.Zero(t, agg.TotalTransactions)
	assert.True(t, agg.TotalRevenue.IsZero())
	assert.True(t, agg.AverageTransactionValue.IsZero())
}
