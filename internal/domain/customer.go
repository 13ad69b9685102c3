package domain

import "time"

// CustomerDimensionRow is a row of the customer dimension, derived from transactions.
// FirstTransactionDate never increases once stored: upserts keep the earlier of the
// stored value and the incoming one.
type CustomerDimensionRow struct {
	CustomerID           string    `gorm:"column:customer_id;primaryKey" json:"customer_id"`
	CustomerName         string    `gorm:"column:customer_name;not null" json:"customer_name"`
	Email                *string   `gorm:"column:email" json:"email,omitempty"`
	City                 string    `gorm:"column:city" json:"city"`
	Country              string    `gorm:"column:country;not null" json:"country"`
	FirstTransactionDate time.Time `gorm:"column:first_transaction_date;not null" json:"first_transaction_date"`
	LoadedAt             time.Time `gorm:"column:loaded_at;not null" json:"loaded_at"`
	UpdatedAt            time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (CustomerDimensionRow) TableName() string { return "dim_customer" }
