// Package sampledata generates synthetic sales transaction files for local runs.
package sampledata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Header is the column order of generated files.
var Header = []string{
	"transaction_id", "product_id", "customer_id", "quantity", "unit_price",
	"total_amount", "transaction_date", "store_location", "payment_method",
}

var (
	stores         = []string{"New York", "Los Angeles", "Chicago", "Houston", "Phoenix"}
	paymentMethods = []string{"cash", "credit_card", "debit_card", "online"}

	// prices of the 20 products served by the demo product API
	productPrices = map[int64]string{
		1: "109.95", 2: "22.30", 3: "55.99", 4: "15.99", 5: "695.00",
		6: "168.00", 7: "9.99", 8: "10.99", 9: "64.00", 10: "109.00",
		11: "29.95", 12: "12.99", 13: "599.00", 14: "39.99", 15: "56.00",
		16: "29.95", 17: "39.99", 18: "9.85", 19: "7.95", 20: "12.99",
	}

	// quantities 1..5 weighted 50/25/15/7/3
	quantityWeights = []int{50, 25, 15, 7, 3}
)

// Transaction is one generated row.
type Transaction struct {
	TransactionID string
	ProductID     int64
	CustomerID    string
	Quantity      int64
	UnitPrice     decimal.Decimal
	TotalAmount   decimal.Decimal
	Timestamp     time.Time
	StoreLocation string
	PaymentMethod string
}

// Options configures Generate.
type Options struct {
	Count int
	From  time.Time
	To    time.Time
	Rand  *rand.Rand
}

// Generate returns opts.Count transactions between From and To, sorted by timestamp.
// Roughly four in five transactions reuse an existing customer.
func Generate(opts Options) []Transaction {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	span := opts.To.Sub(opts.From)
	if span <= 0 {
		span = 24 * time.Hour
	}

	customers := make([]string, 0, opts.Count/3+1)
	for i := 0; i < opts.Count/3; i++ {
		customers = append(customers, customerID(rng))
	}

	txns := make([]Transaction, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		var customer string
		if len(customers) > 0 && rng.Float64() < 0.8 {
			customer = customers[rng.Intn(len(customers))]
		} else {
			customer = customerID(rng)
			customers = append(customers, customer)
		}

		product := int64(rng.Intn(len(productPrices)) + 1)
		price := decimal.RequireFromString(productPrices[product])
		qty := weightedQuantity(rng)

		txns = append(txns, Transaction{
			TransactionID: "TXN-" + uuid.Must(uuid.NewRandomFromReader(rng)).String(),
			ProductID:     product,
			CustomerID:    customer,
			Quantity:      qty,
			UnitPrice:     price,
			TotalAmount:   price.Mul(decimal.NewFromInt(qty)).Round(2),
			Timestamp:     opts.From.Add(time.Duration(rng.Int63n(int64(span)))).Truncate(time.Second).UTC(),
			StoreLocation: stores[rng.Intn(len(stores))],
			PaymentMethod: paymentMethods[rng.Intn(len(paymentMethods))],
		})
	}

	sort.SliceStable(txns, func(i, j int) bool { return txns[i].Timestamp.Before(txns[j].Timestamp) })
	return txns
}

// WriteCSV writes the transactions with a header row.
func WriteCSV(w io.Writer, txns []Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("sampledata: write header: %w", err)
	}
	for _, t := range txns {
		row := []string{
			t.TransactionID,
			fmt.Sprint(t.ProductID),
			t.CustomerID,
			fmt.Sprint(t.Quantity),
			t.UnitPrice.StringFixed(2),
			t.TotalAmount.StringFixed(2),
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.StoreLocation,
			t.PaymentMethod,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("sampledata: write %s: %w", t.TransactionID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func customerID(rng *rand.Rand) string {
	return fmt.Sprintf("CUST-%d", 1000+rng.Intn(9000))
}

func weightedQuantity(rng *rand.Rand) int64 {
	total := 0
	for _, w := range quantityWeights {
		total += w
	}
	n := rng.Intn(total)
	for i, w := range quantityWeights {
		if n < w {
			return int64(i + 1)
		}
		n -= w
	}
	return 1
}
