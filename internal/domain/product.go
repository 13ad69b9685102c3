package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one untyped record as produced by a record source: field name to raw value.
// API records carry JSON-decoded values (float64, string, nil, nested maps); CSV records carry strings.
type RawRecord map[string]any

// ProductRecord is a validated product as fetched from the product API.
type ProductRecord struct {
	ProductID   int64           `json:"product_id"`
	Title       string          `json:"title"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Description *string         `json:"description,omitempty"` // Pointer for nullable fields
	ImageURL    *string         `json:"image_url,omitempty"`
}

// ProductDimensionRow is a row of the product dimension (SCD Type 1, keyed by product_id).
type ProductDimensionRow struct {
	ProductID   int64           `gorm:"column:product_id;primaryKey;autoIncrement:false" json:"product_id"`
	ProductName string          `gorm:"column:product_name;not null" json:"product_name"`
	Category    string          `gorm:"column:category;not null" json:"category"`
	Description *string         `gorm:"column:description" json:"description,omitempty"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:decimal(12,2);not null" json:"unit_price"`
	ImageURL    *string         `gorm:"column:image_url" json:"image_url,omitempty"`
	LoadedAt    time.Time       `gorm:"column:loaded_at;not null" json:"loaded_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (ProductDimensionRow) TableName() string { return "dim_product" }
