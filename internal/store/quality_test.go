package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"retail-analytics-pipeline/internal/domain"
)

func TestEvaluateQuality_DuplicatesAndSampleLimit(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	keys := dimensionKeys{
		products:  map[int64]bool{1: true},
		customers: map[string]bool{"C": true},
		dates:     map[int]bool{20240301: true},
	}

	var facts []domain.FactSalesRow
	for _, id := range []string{"T5", "T4", "T3", "T2", "T1", "T1"} {
		facts = append(facts, *factRow(id, 2, "C", ts, 1, "10.00"))
	}

	report := evaluateQuality(facts, keys, 2)

	assert.Equal(t, int64(6), report.Orphans.Count, "every row references the missing product 2")
	assert.Equal(t, []string{"T1", "T1"}, report.Orphans.Sample, "samples are sorted and capped")
	assert.Equal(t, int64(1), report.Duplicates.Count)
	assert.Equal(t, []string{"T1"}, report.Duplicates.Sample)
	assert.True(t, report.NegativeAmounts.Passed())
	assert.True(t, report.DateConsistency.Passed())
	assert.Equal(t, domain.CheckDuplicates, report.Duplicates.Name)
}
