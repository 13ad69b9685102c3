package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"retail-analytics-pipeline/internal/api"
	"retail-analytics-pipeline/internal/config"
	"retail-analytics-pipeline/internal/loader"
	"retail-analytics-pipeline/internal/logger"
	"retail-analytics-pipeline/internal/pipeline"
	"retail-analytics-pipeline/internal/source"
	"retail-analytics-pipeline/internal/store"
	"retail-analytics-pipeline/internal/validation"
)

const (
	healthCheckInterval = 30 * time.Second
	shutdownTimeout     = 30 * time.Second
)

// warehouse is a store.Warehouse that can bootstrap its own schema and calendar.
type warehouse interface {
	store.Warehouse
	EnsureSchema(ctx context.Context) error
	SeedCalendar(ctx context.Context, from, to time.Time) (int64, error)
}

func main() {
	os.Exit(run())
}

func run() int {
	serve := flag.Bool("serve", false, "start the HTTP and gRPC servers instead of running one batch")
	transactionsPath := flag.String("transactions", "", "transactions CSV path (overrides TRANSACTIONS_CSV_PATH)")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: error loading configuration: %v\n", err)
		return 2
	}
	if *transactionsPath != "" {
		cfg.Pipeline.TransactionsPath = *transactionsPath
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: error building logger: %v\n", err)
		return 2
	}
	defer log.Sync()
	if envErr != nil {
		log.Info(".env file not found, relying on system environment")
	}
	log.Info("configuration loaded", "app_env", cfg.AppEnv, "warehouse_driver", cfg.Warehouse.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wh, err := openWarehouse(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open warehouse", "error", err)
		if !*serve {
			printSummary(log, pipeline.FailedSummary(err, time.Now()))
		}
		return 1
	}
	defer func() {
		if err := wh.Close(); err != nil {
			log.Warn("error closing warehouse", "error", err)
		}
	}()

	tolerance, err := decimal.NewFromString(cfg.Pipeline.AmountTolerance)
	if err != nil {
		log.Error("invalid AMOUNT_TOLERANCE", "value", cfg.Pipeline.AmountTolerance, "error", err)
		return 2
	}

	ld := loader.New(wh, loader.Options{
		MaxAttempts:    cfg.Warehouse.RetryAttempts,
		InitialBackoff: cfg.Warehouse.RetryBackoff,
		MaxBackoff:     cfg.Warehouse.RetryMaxWait,
		SampleLimit:    cfg.Warehouse.QualitySamples,
	}, log)

	p := pipeline.New(pipeline.Deps{
		Products: source.NewAPIProductSource(source.APIOptions{
			BaseURL:     cfg.API.BaseURL,
			Timeout:     cfg.API.Timeout,
			MaxAttempts: cfg.API.RetryAttempts,
			BackoffMin:  cfg.API.BackoffMin,
			BackoffMax:  cfg.API.BackoffMax,
		}, log),
		Transactions: source.NewCSVTransactionSource(log),
		Validator: validation.New(validation.Options{
			FutureTimestamps: validation.Policy(cfg.Pipeline.FutureTimestampPolicy),
			AmountTolerance:  &tolerance,
		}),
		Loader: ld,
		Log:    log,
	}, pipeline.Options{TransactionsPath: cfg.Pipeline.TransactionsPath})

	if *serve {
		return serveAPI(ctx, cfg, log, p, ld, wh)
	}
	return runOnce(ctx, log, p)
}

// runOnce runs one batch and prints its summary to stdout.
func runOnce(ctx context.Context, log *logger.Logger, p *pipeline.Pipeline) int {
	sum, runErr := p.Run(ctx)
	printSummary(log, sum)
	if runErr != nil {
		return 1
	}
	return 0
}

func printSummary(log *logger.Logger, sum *pipeline.Summary) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		log.Error("failed to print run summary", "error", err)
	}
}

func openWarehouse(ctx context.Context, cfg *config.Config, log *logger.Logger) (warehouse, error) {
	from, err := time.Parse(time.DateOnly, cfg.Warehouse.CalendarFrom)
	if err != nil {
		return nil, fmt.Errorf("invalid CALENDAR_FROM: %w", err)
	}
	to, err := time.Parse(time.DateOnly, cfg.Warehouse.CalendarTo)
	if err != nil {
		return nil, fmt.Errorf("invalid CALENDAR_TO: %w", err)
	}

	var wh warehouse
	switch cfg.Warehouse.Driver {
	case config.DriverSQLite:
		s, err := store.OpenSQLite(cfg.Warehouse.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		wh = s
	default:
		db, err := sql.Open("postgres", cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		wh = store.NewPostgresStore(db, log)
	}

	if err := wh.EnsureSchema(ctx); err != nil {
		_ = wh.Close()
		return nil, err
	}
	seeded, err := wh.SeedCalendar(ctx, from, to)
	if err != nil {
		_ = wh.Close()
		return nil, err
	}
	log.Info("warehouse ready", "driver", cfg.Warehouse.Driver, "calendar_days_added", seeded)
	return wh, nil
}

// serveAPI starts the HTTP and gRPC servers and blocks until ctx is done or a server fails.
func serveAPI(ctx context.Context, cfg *config.Config, log *logger.Logger, p *pipeline.Pipeline, ld *loader.Loader, wh warehouse) int {
	health := api.NewHealthReporter(wh, log)
	_ = health.Check(ctx)
	go health.Watch(ctx, healthCheckInterval)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(api.RequestLogger(log))
	router.Use(middleware.Recoverer)
	api.NewHTTPHandler(p, ld, wh, health, log).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      router,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}
	grpcServer := api.NewGRPCServer(health, log)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		log.Error("failed to listen for gRPC", "port", cfg.GrpcServer.Port, "error", err)
		return 1
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Info("HTTP server listening", "port", cfg.HttpServer.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	go func() {
		log.Info("gRPC server listening", "port", cfg.GrpcServer.Port)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serverErr <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, starting graceful shutdown")
	case err := <-serverErr:
		log.Error("server failed, shutting down", "error", err)
		code = 1
	}

	shutdown(log, httpServer, grpcServer, health)
	return code
}

func shutdown(log *logger.Logger, httpServer *http.Server, grpcServer *grpc.Server, health *api.HealthReporter) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	health.Shutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server graceful shutdown failed", "error", err)
	} else {
		log.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		log.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		log.Warn("gRPC server graceful shutdown timed out, forcing stop", "error", shutdownCtx.Err())
		grpcServer.Stop()
	}
	log.Info("graceful shutdown sequence completed")
}
