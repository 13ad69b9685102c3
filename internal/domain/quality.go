package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Names of the post-load quality checks.
const (
	CheckOrphans         = "orphan_references"
	CheckNegativeAmounts = "negative_amounts"
	CheckDateConsistency = "date_consistency"
	CheckDuplicates      = "duplicate_transactions"
)

// QualityCheck is the outcome of one post-load check: how many fact rows violate it
// and a bounded sample of the offending transaction ids.
type QualityCheck struct {
	Name   string   `json:"name"`
	Count  int64    `json:"count"`
	Sample []string `json:"sample,omitempty"`
}

// Passed reports whether no violating rows were found.
func (c QualityCheck) Passed() bool { return c.Count == 0 }

// QualityReport collects the post-load checks. It is report-only.
type QualityReport struct {
	Orphans         QualityCheck `json:"orphans"`
	NegativeAmounts QualityCheck `json:"negative_amounts"`
	DateConsistency QualityCheck `json:"date_consistency"`
	Duplicates      QualityCheck `json:"duplicates"`
	CheckedAt       time.Time    `json:"checked_at"`
}

// Checks returns the checks in a fixed order.
func (r QualityReport) Checks() []QualityCheck {
	return []QualityCheck{r.Orphans, r.NegativeAmounts, r.DateConsistency, r.Duplicates}
}

// Passed reports whether every check passed.
func (r QualityReport) Passed() bool {
	for _, c := range r.Checks() {
		if !c.Passed() {
			return false
		}
	}
	return true
}

// WarehouseTotals are row counts and revenue across the whole warehouse, not just one run.
type WarehouseTotals struct {
	Products     int64           `json:"products"`
	Customers    int64           `json:"customers"`
	Transactions int64           `json:"transactions"`
	Revenue      decimal.Decimal `json:"revenue"`
}
