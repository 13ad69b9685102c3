// Command gendata writes a synthetic sales transactions file for local pipeline runs.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"retail-analytics-pipeline/internal/logger"
	"retail-analytics-pipeline/internal/sampledata"
)

func main() {
	out := flag.String("out", "data/sales_transactions.csv", "output file")
	count := flag.Int("n", 500, "number of transactions")
	fromStr := flag.String("from", "2024-01-01", "first transaction date")
	toStr := flag.String("to", "2024-12-31", "last transaction date")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	log, err := logger.New("development", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: error building logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	from, err := time.Parse(time.DateOnly, *fromStr)
	if err != nil {
		log.Fatal("invalid -from", "error", err)
	}
	to, err := time.Parse(time.DateOnly, *toStr)
	if err != nil {
		log.Fatal("invalid -to", "error", err)
	}

	txns := sampledata.Generate(sampledata.Options{
		Count: *count,
		From:  from,
		To:    to,
		Rand:  rand.New(rand.NewSource(*seed)),
	})

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.Fatal("failed to create output directory", "error", err)
	}
	f, err := os.Create(*out)
	if err != nil {
		log.Fatal("failed to create output file", "path", *out, "error", err)
	}
	if err := sampledata.WriteCSV(f, txns); err != nil {
		_ = f.Close()
		log.Fatal("failed to write transactions", "error", err)
	}
	if err := f.Close(); err != nil {
		log.Fatal("failed to close output file", "error", err)
	}
	log.Info("sample transactions written", "path", *out, "count", len(txns), "seed", *seed)
}
