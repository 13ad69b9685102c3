// Package transform maps validated records onto star-schema rows. All functions are pure:
// the same input in the same order produces the same output.
package transform

import (
	"time"

	"retail-analytics-pipeline/internal/domain"
)

// ProductsToDimension maps validated products to dim_product rows stamped with loadedAt.
func ProductsToDimension(products []domain.ProductRecord, loadedAt time.Time) []domain.ProductDimensionRow {
	rows := make([]domain.ProductDimensionRow, 0, len(products))
	for _, p := range products {
		rows = append(rows, domain.ProductDimensionRow{
			ProductID:   p.ProductID,
			ProductName: p.Title,
			Category:    p.Category,
			Description: p.Description,
			UnitPrice:   p.Price,
			ImageURL:    p.ImageURL,
			LoadedAt:    loadedAt,
			UpdatedAt:   loadedAt,
		})
	}
	return rows
}

// ExtractCustomers derives one dim_customer row per distinct customer id. The first
// transaction date is the earliest timestamp seen for that customer; name, email, city and
// country come from the customer's last transaction in input order. Rows are returned in
// order of first appearance.
func ExtractCustomers(txns []domain.SalesTransactionRecord, loadedAt time.Time) []domain.CustomerDimensionRow {
	index := make(map[string]int)
	var rows []domain.CustomerDimensionRow

	for _, t := range txns {
		i, seen := index[t.CustomerID]
		if !seen {
			index[t.CustomerID] = len(rows)
			rows = append(rows, domain.CustomerDimensionRow{
				CustomerID:           t.CustomerID,
				FirstTransactionDate: t.TransactionTimestamp,
				LoadedAt:             loadedAt,
				UpdatedAt:            loadedAt,
			})
			i = len(rows) - 1
		}
		row := &rows[i]
		if t.TransactionTimestamp.Before(row.FirstTransactionDate) {
			row.FirstTransactionDate = t.TransactionTimestamp
		}
		row.CustomerName = t.CustomerName
		row.Email = t.Email
		row.City = t.City
		row.Country = t.Country
	}
	return rows
}

// TransactionsToFacts maps validated transactions to fact_sales rows.
func TransactionsToFacts(txns []domain.SalesTransactionRecord, loadedAt time.Time) []domain.FactSalesRow {
	rows := make([]domain.FactSalesRow, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, domain.FactSalesRow{
			TransactionID:        t.TransactionID,
			ProductID:            t.ProductID,
			CustomerID:           t.CustomerID,
			DateKey:              domain.DateKey(t.TransactionTimestamp),
			TransactionTimestamp: t.TransactionTimestamp.UTC(),
			Quantity:             t.Quantity,
			UnitPrice:            t.UnitPrice,
			TotalAmount:          t.TotalAmount,
			StoreLocation:        t.StoreLocation,
			PaymentMethod:        t.PaymentMethod,
			LoadedAt:             loadedAt,
		})
	}
	return rows
}
