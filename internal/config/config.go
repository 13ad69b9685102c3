package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Supported warehouse drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported policies for transactions dated after the run started.
const (
	FuturePolicyWarn   = "warn"
	FuturePolicyReject = "reject"
)

// Config holds the pipeline's configuration values.
// Tags like `envconfig:"APP_ENV"` specify the environment variable name.
// `default:""` provides a default value if the env var is not set.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"development"` // e.g., development, staging, production
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`      // e.g., debug, info, warn, error
	Warehouse  WarehouseConfig
	Postgres   PostgresConfig
	API        APIConfig
	Pipeline   PipelineConfig
	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
}

// WarehouseConfig selects the warehouse backend and its write-retry policy.
type WarehouseConfig struct {
	Driver         string        `envconfig:"WAREHOUSE_DRIVER" default:"postgres"`
	SQLitePath     string        `envconfig:"SQLITE_PATH" default:"data/warehouse.db"`
	RetryAttempts  uint          `envconfig:"WAREHOUSE_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff   time.Duration `envconfig:"WAREHOUSE_RETRY_BACKOFF" default:"200ms"`
	RetryMaxWait   time.Duration `envconfig:"WAREHOUSE_RETRY_MAX_WAIT" default:"5s"`
	CalendarFrom   string        `envconfig:"CALENDAR_FROM" default:"2020-01-01"` // dim_date is seeded on startup
	CalendarTo     string        `envconfig:"CALENDAR_TO" default:"2030-12-31"`
	QualitySamples int           `envconfig:"QUALITY_SAMPLE_LIMIT" default:"10"`
}

// PostgresConfig holds PostgreSQL database connection details.
// The fields are only enforced when WAREHOUSE_DRIVER is postgres.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	DBName   string `envconfig:"POSTGRES_DBNAME"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// APIConfig holds settings for the product API source.
type APIConfig struct {
	BaseURL       string        `envconfig:"API_BASE_URL" default:"https://fakestoreapi.com"`
	Timeout       time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
	RetryAttempts int           `envconfig:"API_RETRY_ATTEMPTS" default:"3"`
	BackoffMin    time.Duration `envconfig:"API_BACKOFF_MIN" default:"1s"`
	BackoffMax    time.Duration `envconfig:"API_BACKOFF_MAX" default:"8s"`
}

// PipelineConfig holds settings for a pipeline run.
type PipelineConfig struct {
	TransactionsPath      string `envconfig:"TRANSACTIONS_CSV_PATH" default:"data/sales_transactions.csv"`
	FutureTimestampPolicy string `envconfig:"FUTURE_TIMESTAMP_POLICY" default:"warn"`
	AmountTolerance       string `envconfig:"AMOUNT_TOLERANCE" default:"0.01"`
}

// ServerConfig holds HTTP server-specific configurations (serve mode only).
type ServerConfig struct {
	Port         string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"10m"` // a triggered run answers synchronously
	TimeoutIdle  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
}

// GrpcServerConfig holds gRPC server-specific configurations (serve mode only).
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and driver-specific requirements.
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case DriverPostgres:
		missing := []string{}
		if c.Postgres.Host == "" {
			missing = append(missing, "POSTGRES_HOST")
		}
		if c.Postgres.User == "" {
			missing = append(missing, "POSTGRES_USER")
		}
		if c.Postgres.Password == "" {
			missing = append(missing, "POSTGRES_PASSWORD")
		}
		if c.Postgres.DBName == "" {
			missing = append(missing, "POSTGRES_DBNAME")
		}
		if len(missing) > 0 {
			return fmt.Errorf("config: required key(s) %v missing for warehouse driver %q", missing, c.Warehouse.Driver)
		}
	case DriverSQLite:
		if c.Warehouse.SQLitePath == "" {
			return fmt.Errorf("config: SQLITE_PATH must be set for warehouse driver %q", c.Warehouse.Driver)
		}
	default:
		return fmt.Errorf("config: invalid WAREHOUSE_DRIVER %q (want %q or %q)", c.Warehouse.Driver, DriverPostgres, DriverSQLite)
	}

	switch c.Pipeline.FutureTimestampPolicy {
	case FuturePolicyWarn, FuturePolicyReject:
	default:
		return fmt.Errorf("config: invalid FUTURE_TIMESTAMP_POLICY %q (want %q or %q)",
			c.Pipeline.FutureTimestampPolicy, FuturePolicyWarn, FuturePolicyReject)
	}

	if c.API.RetryAttempts < 1 {
		return fmt.Errorf("config: API_RETRY_ATTEMPTS must be at least 1, got %d", c.API.RetryAttempts)
	}
	if c.Warehouse.RetryAttempts < 1 {
		return fmt.Errorf("config: WAREHOUSE_RETRY_ATTEMPTS must be at least 1, got %d", c.Warehouse.RetryAttempts)
	}
	if c.Warehouse.QualitySamples < 1 {
		return fmt.Errorf("config: QUALITY_SAMPLE_LIMIT must be at least 1, got %d", c.Warehouse.QualitySamples)
	}

	from, err := time.Parse(time.DateOnly, c.Warehouse.CalendarFrom)
	if err != nil {
		return fmt.Errorf("config: invalid CALENDAR_FROM %q: %w", c.Warehouse.CalendarFrom, err)
	}
	to, err := time.Parse(time.DateOnly, c.Warehouse.CalendarTo)
	if err != nil {
		return fmt.Errorf("config: invalid CALENDAR_TO %q: %w", c.Warehouse.CalendarTo, err)
	}
	if to.Before(from) {
		return fmt.Errorf("config: CALENDAR_TO %s is before CALENDAR_FROM %s", c.Warehouse.CalendarTo, c.Warehouse.CalendarFrom)
	}

	tol, err := decimal.NewFromString(c.Pipeline.AmountTolerance)
	if err != nil || tol.IsNegative() {
		return fmt.Errorf("config: AMOUNT_TOLERANCE must be a non-negative decimal, got %q", c.Pipeline.AmountTolerance)
	}
	return nil
}
