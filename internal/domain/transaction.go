package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the closed set of accepted payment methods.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentOnline     PaymentMethod = "online"
)

// PaymentMethods lists every accepted payment method in a stable order.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCreditCard, PaymentDebitCard, PaymentOnline}

// SalesTransactionRecord is a validated sales transaction read from the transactions CSV.
type SalesTransactionRecord struct {
	TransactionID        string          `json:"transaction_id"`
	ProductID            int64           `json:"product_id"`
	CustomerID           string          `json:"customer_id"`
	CustomerName         string          `json:"customer_name"`
	Email                *string         `json:"email,omitempty"`
	City                 string          `json:"city"`
	Country              string          `json:"country"`
	TransactionTimestamp time.Time       `json:"transaction_timestamp"`
	Quantity             int64           `json:"quantity"`
	UnitPrice            decimal.Decimal `json:"unit_price"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	StoreLocation        string          `json:"store_location"`
	PaymentMethod        PaymentMethod   `json:"payment_method"`
}

// FactSalesRow is one row of the sales fact table. It owns its measures and
// references the product, customer and date dimensions by key.
type FactSalesRow struct {
	TransactionID        string          `gorm:"column:transaction_id;primaryKey" json:"transaction_id"`
	ProductID            int64           `gorm:"column:product_id;not null;index" json:"product_id"`
	CustomerID           string          `gorm:"column:customer_id;not null;index" json:"customer_id"`
	DateKey              int             `gorm:"column:date_key;not null;index" json:"date_key"`
	TransactionTimestamp time.Time       `gorm:"column:transaction_timestamp;not null" json:"transaction_timestamp"`
	Quantity             int64           `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice            decimal.Decimal `gorm:"column:unit_price;type:decimal(12,2);not null" json:"unit_price"`
	TotalAmount          decimal.Decimal `gorm:"column:total_amount;type:decimal(12,2);not null" json:"total_amount"`
	StoreLocation        string          `gorm:"column:store_location;not null" json:"store_location"`
	PaymentMethod        PaymentMethod   `gorm:"column:payment_method;not null" json:"payment_method"`
	LoadedAt             time.Time       `gorm:"column:loaded_at;not null" json:"loaded_at"`
}

// TableName implements the GORM tabler interface.
func (FactSalesRow) TableName() string { return "fact_sales" }

// InsertOutcome is the result of an insert-or-skip write of a fact row.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	SkippedDuplicate
)

func (o InsertOutcome) String() string {
	if o == SkippedDuplicate {
		return "skipped_duplicate"
	}
	return "inserted"
}
