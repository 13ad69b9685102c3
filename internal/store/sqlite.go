package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
)

const calendarBatchSize = 500

// SQLiteStore implements the Warehouse interface on a single SQLite file through GORM.
// It serves local runs and tests; the schema is created from the row types.
type SQLiteStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for a throwaway warehouse.
func OpenSQLite(path string, log *logger.Logger) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, storageErr("OpenSQLite failed to open database", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, storageErr("OpenSQLite failed to get connection pool", err)
	}
	// One writer at a time; also keeps an in-memory database alive on a single connection.
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, log: log}, nil
}

// EnsureSchema creates or migrates the star schema tables.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&domain.DateDimensionRow{},
		&domain.ProductDimensionRow{},
		&domain.CustomerDimensionRow{},
		&domain.FactSalesRow{},
	)
	if err != nil {
		return storageErr("EnsureSchema failed to migrate tables", err)
	}
	return nil
}

// SeedCalendar inserts the dim_date rows from `from` to `to`. Existing days are left alone.
func (s *SQLiteStore) SeedCalendar(ctx context.Context, from, to time.Time) (int64, error) {
	days := domain.Calendar(from, to)
	if len(days) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "date_key"}}, DoNothing: true}).
		CreateInBatches(days, calendarBatchSize)
	if result.Error != nil {
		return 0, storageErr("SeedCalendar failed to insert dates", result.Error)
	}
	s.log.Info("calendar dimension seeded", "from", days[0].DateKey, "to", days[len(days)-1].DateKey, "inserted", result.RowsAffected)
	return result.RowsAffected, nil
}

// WithinGroup runs fn inside one GORM transaction.
func (s *SQLiteStore) WithinGroup(ctx context.Context, fn func(tx Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&sqliteTx{db: tx})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return storageErr("WithinGroup failed to run transaction", err)
}

// sqliteTx implements Tx on a GORM transaction. Every statement of the group goes through
// db, never the store's base handle, which holds the only connection.
type sqliteTx struct {
	db *gorm.DB
}

func (t *sqliteTx) UpsertProduct(ctx context.Context, row *domain.ProductDimensionRow) error {
	r := *row
	r.LoadedAt, r.UpdatedAt = r.LoadedAt.UTC(), r.UpdatedAt.UTC()

	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"product_name", "category", "description", "unit_price", "image_url", "updated_at",
		}),
	}).Create(&r).Error
	if err != nil {
		return storageErr(fmt.Sprintf("UpsertProduct failed for product %d", row.ProductID), err)
	}
	return nil
}

func (t *sqliteTx) UpsertCustomer(ctx context.Context, row *domain.CustomerDimensionRow) error {
	r := *row
	// Timestamps are stored as text; MIN only orders them correctly in a single zone.
	r.FirstTransactionDate = r.FirstTransactionDate.UTC()
	r.LoadedAt, r.UpdatedAt = r.LoadedAt.UTC(), r.UpdatedAt.UTC()

	updates := append(
		clause.AssignmentColumns([]string{"customer_name", "email", "city", "country", "updated_at"}),
		clause.Assignment{
			Column: clause.Column{Name: "first_transaction_date"},
			Value:  gorm.Expr("MIN(dim_customer.first_transaction_date, excluded.first_transaction_date)"),
		},
	)
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: updates,
	}).Create(&r).Error
	if err != nil {
		return storageErr(fmt.Sprintf("UpsertCustomer failed for customer %s", row.CustomerID), err)
	}
	return nil
}

func (t *sqliteTx) InsertFact(ctx context.Context, row *domain.FactSalesRow) (domain.InsertOutcome, error) {
	r := *row
	r.TransactionTimestamp, r.LoadedAt = r.TransactionTimestamp.UTC(), r.LoadedAt.UTC()

	result := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(&r)
	if result.Error != nil {
		return domain.Inserted, storageErr(fmt.Sprintf("InsertFact failed for transaction %s", row.TransactionID), result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.SkippedDuplicate, nil
	}
	return domain.Inserted, nil
}

func (t *sqliteTx) ExistingProductIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []int64
	err := t.db.WithContext(ctx).Model(&domain.ProductDimensionRow{}).
		Where("product_id IN ?", ids).Pluck("product_id", &existing).Error
	if err != nil {
		return nil, storageErr("ExistingProductIDs failed to query products", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

func (t *sqliteTx) ExistingCustomerIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []string
	err := t.db.WithContext(ctx).Model(&domain.CustomerDimensionRow{}).
		Where("customer_id IN ?", ids).Pluck("customer_id", &existing).Error
	if err != nil {
		return nil, storageErr("ExistingCustomerIDs failed to query customers", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

func (t *sqliteTx) ExistingDateKeys(ctx context.Context, keys []int) (map[int]bool, error) {
	found := make(map[int]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	var existing []int
	err := t.db.WithContext(ctx).Model(&domain.DateDimensionRow{}).
		Where("date_key IN ?", keys).Pluck("date_key", &existing).Error
	if err != nil {
		return nil, storageErr("ExistingDateKeys failed to query dates", err)
	}
	for _, k := range existing {
		found[k] = true
	}
	return found, nil
}

// RunQualityChecks loads fact_sales and the dimension keys and evaluates the checks in process.
func (s *SQLiteStore) RunQualityChecks(ctx context.Context, sampleLimit int) (*domain.QualityReport, error) {
	db := s.db.WithContext(ctx)

	var facts []domain.FactSalesRow
	if err := db.Select("transaction_id", "product_id", "customer_id", "date_key", "transaction_timestamp", "quantity", "total_amount").
		Order("transaction_id").Find(&facts).Error; err != nil {
		return nil, storageErr("RunQualityChecks failed to load facts", err)
	}

	var productIDs []int64
	if err := db.Model(&domain.ProductDimensionRow{}).Pluck("product_id", &productIDs).Error; err != nil {
		return nil, storageErr("RunQualityChecks failed to load product keys", err)
	}
	var customerIDs []string
	if err := db.Model(&domain.CustomerDimensionRow{}).Pluck("customer_id", &customerIDs).Error; err != nil {
		return nil, storageErr("RunQualityChecks failed to load customer keys", err)
	}
	var dateKeys []int
	if err := db.Model(&domain.DateDimensionRow{}).Pluck("date_key", &dateKeys).Error; err != nil {
		return nil, storageErr("RunQualityChecks failed to load date keys", err)
	}

	keys := dimensionKeys{
		products:  make(map[int64]bool, len(productIDs)),
		customers: make(map[string]bool, len(customerIDs)),
		dates:     make(map[int]bool, len(dateKeys)),
	}
	for _, id := range productIDs {
		keys.products[id] = true
	}
	for _, id := range customerIDs {
		keys.customers[id] = true
	}
	for _, k := range dateKeys {
		keys.dates[k] = true
	}

	report := evaluateQuality(facts, keys, sampleLimit)
	report.CheckedAt = time.Now().UTC()
	return report, nil
}

// Totals returns warehouse-wide counts and revenue.
func (s *SQLiteStore) Totals(ctx context.Context) (*domain.WarehouseTotals, error) {
	db := s.db.WithContext(ctx)
	var totals domain.WarehouseTotals

	if err := db.Model(&domain.ProductDimensionRow{}).Count(&totals.Products).Error; err != nil {
		return nil, storageErr("Totals failed to count products", err)
	}
	if err := db.Model(&domain.CustomerDimensionRow{}).Count(&totals.Customers).Error; err != nil {
		return nil, storageErr("Totals failed to count customers", err)
	}
	if err := db.Model(&domain.FactSalesRow{}).Count(&totals.Transactions).Error; err != nil {
		return nil, storageErr("Totals failed to count transactions", err)
	}

	var revenue decimal.NullDecimal
	if err := db.Model(&domain.FactSalesRow{}).Select("SUM(total_amount)").Row().Scan(&revenue); err != nil {
		return nil, storageErr("Totals failed to sum revenue", err)
	}
	totals.Revenue = decimal.Zero
	if revenue.Valid {
		// SQLite sums NUMERIC columns as floating point.
		totals.Revenue = revenue.Decimal.Round(2)
	}
	return &totals, nil
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storageErr("Ping failed to get connection pool", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storageErr("Ping failed", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		s.log.Error("failed to close sqlite database", "error", err)
		return err
	}
	s.log.Info("sqlite database closed")
	return nil
}
