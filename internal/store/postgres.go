package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresStore implements the Warehouse interface using PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// EnsureSchema creates the star schema tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return storageErr("EnsureSchema failed to create tables", err)
	}
	return nil
}

// SeedCalendar inserts the dim_date rows from `from` to `to`. Existing days are left alone.
func (s *PostgresStore) SeedCalendar(ctx context.Context, from, to time.Time) (int64, error) {
	days := domain.Calendar(from, to)
	if len(days) == 0 {
		return 0, nil
	}

	var (
		keys     = make(pq.Int64Array, len(days))
		dates    = make(pq.StringArray, len(days))
		years    = make(pq.Int64Array, len(days))
		quarters = make(pq.Int64Array, len(days))
		months   = make(pq.Int64Array, len(days))
		weeks    = make(pq.Int64Array, len(days))
		dows     = make(pq.Int64Array, len(days))
		weekends = make(pq.BoolArray, len(days))
	)
	for i, d := range days {
		keys[i] = int64(d.DateKey)
		dates[i] = d.FullDate.Format(time.DateOnly)
		years[i] = int64(d.Year)
		quarters[i] = int64(d.Quarter)
		months[i] = int64(d.Month)
		weeks[i] = int64(d.Week)
		dows[i] = int64(d.DayOfWeek)
		weekends[i] = d.IsWeekend
	}

	query := `
		INSERT INTO dim_date (date_key, full_date, year, quarter, month, week, day_of_week, is_weekend)
		SELECT * FROM unnest($1::int[], $2::date[], $3::int[], $4::int[], $5::int[], $6::int[], $7::int[], $8::bool[])
		ON CONFLICT (date_key) DO NOTHING;
	`
	result, err := s.db.ExecContext(ctx, query, keys, dates, years, quarters, months, weeks, dows, weekends)
	if err != nil {
		return 0, storageErr("SeedCalendar failed to insert dates", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("SeedCalendar failed to get rows affected", err)
	}
	s.log.Info("calendar dimension seeded", "from", days[0].DateKey, "to", days[len(days)-1].DateKey, "inserted", inserted)
	return inserted, nil
}

// WithinGroup runs fn inside one database transaction.
func (s *PostgresStore) WithinGroup(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("WithinGroup failed to begin transaction", err)
	}
	if err := fn(&postgresTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("WithinGroup failed to commit transaction", err)
	}
	return nil
}

// postgresTx implements Tx on top of a *sql.Tx.
type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) UpsertProduct(ctx context.Context, row *domain.ProductDimensionRow) error {
	query := `
		INSERT INTO dim_product (product_id, product_name, category, description, unit_price, image_url, loaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			unit_price = EXCLUDED.unit_price,
			image_url = EXCLUDED.image_url,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := t.tx.ExecContext(ctx, query,
		row.ProductID, row.ProductName, row.Category, row.Description, row.UnitPrice, row.ImageURL,
		row.LoadedAt, row.UpdatedAt,
	)
	if err != nil {
		return storageErr(fmt.Sprintf("UpsertProduct failed for product %d", row.ProductID), err)
	}
	return nil
}

func (t *postgresTx) UpsertCustomer(ctx context.Context, row *domain.CustomerDimensionRow) error {
	query := `
		INSERT INTO dim_customer (customer_id, customer_name, email, city, country, first_transaction_date, loaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (customer_id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			email = EXCLUDED.email,
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			first_transaction_date = LEAST(dim_customer.first_transaction_date, EXCLUDED.first_transaction_date),
			updated_at = EXCLUDED.updated_at;
	`
	_, err := t.tx.ExecContext(ctx, query,
		row.CustomerID, row.CustomerName, row.Email, row.City, row.Country,
		row.FirstTransactionDate, row.LoadedAt, row.UpdatedAt,
	)
	if err != nil {
		return storageErr(fmt.Sprintf("UpsertCustomer failed for customer %s", row.CustomerID), err)
	}
	return nil
}

func (t *postgresTx) InsertFact(ctx context.Context, row *domain.FactSalesRow) (domain.InsertOutcome, error) {
	query := `
		INSERT INTO fact_sales (transaction_id, product_id, customer_id, date_key, transaction_timestamp,
			quantity, unit_price, total_amount, store_location, payment_method, loaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (transaction_id) DO NOTHING;
	`
	result, err := t.tx.ExecContext(ctx, query,
		row.TransactionID, row.ProductID, row.CustomerID, row.DateKey, row.TransactionTimestamp,
		row.Quantity, row.UnitPrice, row.TotalAmount, row.StoreLocation, row.PaymentMethod, row.LoadedAt,
	)
	if err != nil {
		return domain.Inserted, storageErr(fmt.Sprintf("InsertFact failed for transaction %s", row.TransactionID), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Inserted, storageErr("InsertFact failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return domain.SkippedDuplicate, nil
	}
	return domain.Inserted, nil
}

func (t *postgresTx) ExistingProductIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT product_id FROM dim_product WHERE product_id = ANY($1);`, pq.Array(ids))
	if err != nil {
		return nil, storageErr("ExistingProductIDs failed to query products", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("ExistingProductIDs failed to scan row", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ExistingProductIDs iteration error", err)
	}
	return found, nil
}

func (t *postgresTx) ExistingCustomerIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT customer_id FROM dim_customer WHERE customer_id = ANY($1);`, pq.Array(ids))
	if err != nil {
		return nil, storageErr("ExistingCustomerIDs failed to query customers", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("ExistingCustomerIDs failed to scan row", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ExistingCustomerIDs iteration error", err)
	}
	return found, nil
}

func (t *postgresTx) ExistingDateKeys(ctx context.Context, keys []int) (map[int]bool, error) {
	found := make(map[int]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	args := make(pq.Int64Array, len(keys))
	for i, k := range keys {
		args[i] = int64(k)
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT date_key FROM dim_date WHERE date_key = ANY($1);`, args)
	if err != nil {
		return nil, storageErr("ExistingDateKeys failed to query dates", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key int
		if err := rows.Scan(&key); err != nil {
			return nil, storageErr("ExistingDateKeys failed to scan row", err)
		}
		found[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ExistingDateKeys iteration error", err)
	}
	return found, nil
}

// Quality check queries. Each returns the offending transaction ids, ordered, limited by $1,
// with the full violation count repeated on every row.
const (
	orphansQuery = `
		SELECT f.transaction_id, COUNT(*) OVER () AS total
		FROM fact_sales f
		LEFT JOIN dim_product p ON p.product_id = f.product_id
		LEFT JOIN dim_customer c ON c.customer_id = f.customer_id
		LEFT JOIN dim_date d ON d.date_key = f.date_key
		WHERE p.product_id IS NULL OR c.customer_id IS NULL OR d.date_key IS NULL
		ORDER BY f.transaction_id
		LIMIT $1;
	`
	negativeAmountsQuery = `
		SELECT transaction_id, COUNT(*) OVER () AS total
		FROM fact_sales
		WHERE quantity <= 0 OR total_amount < 0
		ORDER BY transaction_id
		LIMIT $1;
	`
	dateConsistencyQuery = `
		SELECT transaction_id, COUNT(*) OVER () AS total
		FROM fact_sales
		WHERE date_key <> CAST(TO_CHAR(transaction_timestamp AT TIME ZONE 'UTC', 'YYYYMMDD') AS INTEGER)
		ORDER BY transaction_id
		LIMIT $1;
	`
	duplicatesQuery = `
		SELECT transaction_id, COUNT(*) OVER () AS total
		FROM fact_sales
		GROUP BY transaction_id
		HAVING COUNT(*) > 1
		ORDER BY transaction_id
		LIMIT $1;
	`
)

// RunQualityChecks runs the post-load checks against fact_sales.
func (s *PostgresStore) RunQualityChecks(ctx context.Context, sampleLimit int) (*domain.QualityReport, error) {
	if sampleLimit < 1 {
		sampleLimit = 1
	}
	report := &domain.QualityReport{CheckedAt: time.Now().UTC()}

	checks := []struct {
		name  string
		query string
		dst   *domain.QualityCheck
	}{
		{domain.CheckOrphans, orphansQuery, &report.Orphans},
		{domain.CheckNegativeAmounts, negativeAmountsQuery, &report.NegativeAmounts},
		{domain.CheckDateConsistency, dateConsistencyQuery, &report.DateConsistency},
		{domain.CheckDuplicates, duplicatesQuery, &report.Duplicates},
	}
	for _, c := range checks {
		check, err := s.sampleCheck(ctx, c.name, c.query, sampleLimit)
		if err != nil {
			return nil, err
		}
		*c.dst = check
	}
	return report, nil
}

func (s *PostgresStore) sampleCheck(ctx context.Context, name, query string, limit int) (domain.QualityCheck, error) {
	check := domain.QualityCheck{Name: name}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return check, storageErr(fmt.Sprintf("RunQualityChecks failed to run %s", name), err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key, &check.Count); err != nil {
			return check, storageErr(fmt.Sprintf("RunQualityChecks failed to scan %s row", name), err)
		}
		check.Sample = append(check.Sample, key)
	}
	if err := rows.Err(); err != nil {
		return check, storageErr(fmt.Sprintf("RunQualityChecks %s iteration error", name), err)
	}
	return check, nil
}

// Totals returns warehouse-wide counts and revenue.
func (s *PostgresStore) Totals(ctx context.Context) (*domain.WarehouseTotals, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM dim_product),
			(SELECT COUNT(*) FROM dim_customer),
			(SELECT COUNT(*) FROM fact_sales),
			(SELECT COALESCE(SUM(total_amount), 0) FROM fact_sales);
	`
	var totals domain.WarehouseTotals
	err := s.db.QueryRowContext(ctx, query).Scan(&totals.Products, &totals.Customers, &totals.Transactions, &totals.Revenue)
	if err != nil {
		return nil, storageErr("Totals failed to scan row", err)
	}
	return &totals, nil
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("Ping failed", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		s.log.Info("closing database connection pool")
		if err := s.db.Close(); err != nil {
			s.log.Error("failed to close database connection pool", "error", err)
			return err
		}
		s.log.Info("database connection pool closed")
	}
	return nil
}
