package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retail-analytics-pipeline/internal/domain"
)

const reasonRequired = "is required"

// timestampLayouts are tried in order; layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// reader pulls typed values out of a raw record. The first key is the canonical field
// name used in errors; the remaining keys are accepted aliases.
type reader struct {
	raw  domain.RawRecord
	errs *fieldErrors
}

func (r *reader) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := r.raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func (r *reader) missing(required bool, field string) {
	if required {
		r.errs.add(field, reasonRequired)
	}
}

func (r *reader) str(required bool, keys ...string) string {
	v, ok := r.lookup(keys...)
	if !ok {
		r.missing(required, keys[0])
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		r.errs.add(keys[0], "must be a string")
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func (r *reader) optStr(keys ...string) *string {
	if _, ok := r.lookup(keys...); !ok {
		return nil
	}
	s := r.str(false, keys...)
	if s == "" {
		return nil
	}
	return &s
}

func (r *reader) integer(required bool, keys ...string) int64 {
	v, ok := r.lookup(keys...)
	if !ok {
		r.missing(required, keys[0])
		return 0
	}
	field := keys[0]
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case int32:
		return int64(x)
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			r.errs.add(field, "must be an integer")
			return 0
		}
		return int64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			r.errs.add(field, "must be an integer")
		}
		return n
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		// Spreadsheet exports sometimes write integers as "3.0".
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return int64(f)
		}
		r.errs.add(field, "must be an integer")
		return 0
	default:
		r.errs.add(field, "must be an integer")
		return 0
	}
}

func (r *reader) dec(required bool, keys ...string) decimal.Decimal {
	v, ok := r.lookup(keys...)
	if !ok {
		r.missing(required, keys[0])
		return decimal.Zero
	}
	field := keys[0]
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			r.errs.add(field, "must be a decimal number")
		}
		return d
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			r.errs.add(field, "must be a decimal number")
			return decimal.Zero
		}
		return d
	case decimal.Decimal:
		return x
	default:
		r.errs.add(field, "must be a decimal number")
		return decimal.Zero
	}
}

func (r *reader) timestamp(required bool, keys ...string) time.Time {
	v, ok := r.lookup(keys...)
	if !ok {
		r.missing(required, keys[0])
		return time.Time{}
	}
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case string:
		if t, err := parseTimestamp(x); err == nil {
			return t
		}
	}
	r.errs.add(keys[0], "must be a valid date-time")
	return time.Time{}
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date-time: %s", s)
}
