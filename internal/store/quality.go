package store

import (
	"sort"

	"retail-analytics-pipeline/internal/domain"
)

type dimensionKeys struct {
	products  map[int64]bool
	customers map[string]bool
	dates     map[int]bool
}

// evaluateQuality applies the post-load checks to facts in memory. Samples are sorted and
// capped at sampleLimit; counts are not.
func evaluateQuality(facts []domain.FactSalesRow, keys dimensionKeys, sampleLimit int) *domain.QualityReport {
	if sampleLimit < 1 {
		sampleLimit = 1
	}
	report := &domain.QualityReport{
		Orphans:         domain.QualityCheck{Name: domain.CheckOrphans},
		NegativeAmounts: domain.QualityCheck{Name: domain.CheckNegativeAmounts},
		DateConsistency: domain.QualityCheck{Name: domain.CheckDateConsistency},
		Duplicates:      domain.QualityCheck{Name: domain.CheckDuplicates},
	}

	var orphans, negatives, inconsistent, duplicates []string
	seen := make(map[string]int, len(facts))
	for _, f := range facts {
		if !keys.products[f.ProductID] || !keys.customers[f.CustomerID] || !keys.dates[f.DateKey] {
			orphans = append(orphans, f.TransactionID)
		}
		if f.Quantity <= 0 || f.TotalAmount.IsNegative() {
			negatives = append(negatives, f.TransactionID)
		}
		if f.DateKey != domain.DateKey(f.TransactionTimestamp) {
			inconsistent = append(inconsistent, f.TransactionID)
		}
		seen[f.TransactionID]++
		if seen[f.TransactionID] == 2 {
			duplicates = append(duplicates, f.TransactionID)
		}
	}

	fill(&report.Orphans, orphans, sampleLimit)
	fill(&report.NegativeAmounts, negatives, sampleLimit)
	fill(&report.DateConsistency, inconsistent, sampleLimit)
	fill(&report.Duplicates, duplicates, sampleLimit)
	return report
}

func fill(check *domain.QualityCheck, keys []string, limit int) {
	sort.Strings(keys)
	check.Count = int64(len(keys))
	if len(keys) > limit {
		keys = keys[:limit]
	}
	check.Sample = keys
}
