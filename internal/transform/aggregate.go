package transform

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"

	"retail-analytics-pipeline/internal/domain"
)

// Aggregates are batch-level metrics over the validated transactions of one run.
type Aggregates struct {
	TotalTransactions       int             `json:"total_transactions"`
	TotalRevenue            decimal.Decimal `json:"total_revenue"`
	TotalQuantity           int64           `json:"total_quantity"`
	UniqueCustomers         int             `json:"unique_customers"`
	UniqueProducts          int             `json:"unique_products"`
	AverageTransactionValue decimal.Decimal `json:"average_transaction_value"`
}

// Aggregate computes batch metrics. The average is rounded to cents and is zero for an
// empty batch.
func Aggregate(txns []domain.SalesTransactionRecord) Aggregates {
	customers := make(map[string]struct{})
	products := make(map[int64]struct{})
	agg := Aggregates{TotalRevenue: decimal.Zero, AverageTransactionValue: decimal.Zero}

	for _, t := range txns {
		agg.TotalTransactions++
		agg.TotalRevenue = agg.TotalRevenue.Add(t.TotalAmount)
		agg.TotalQuantity += t.Quantity
		customers[t.CustomerID] = struct{}{}
		products[t.ProductID] = struct{}{}
	}
	agg.UniqueCustomers = len(customers)
	agg.UniqueProducts = len(products)
	if agg.TotalTransactions > 0 {
		agg.AverageTransactionValue = agg.TotalRevenue.Div(decimal.NewFromInt(int64(agg.TotalTransactions))).Round(2)
	}
	return agg
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (a Aggregates) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("total_transactions", a.TotalTransactions)
	enc.AddString("total_revenue", a.TotalRevenue.StringFixed(2))
	enc.AddInt64("total_quantity", a.TotalQuantity)
	enc.AddInt("unique_customers", a.UniqueCustomers)
	enc.AddInt("unique_products", a.UniqueProducts)
	enc.AddString("average_transaction_value", a.AverageTransactionValue.StringFixed(2))
	return nil
}
