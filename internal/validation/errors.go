package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRecord is matched by every *Error returned from this package.
var ErrInvalidRecord = errors.New("validation: invalid record")

// FieldError names one violated field and why it was rejected.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) String() string { return f.Field + " " + f.Reason }

// Error is a per-record validation failure listing every violated field.
type Error struct {
	Kind   string       `json:"kind"` // "product" or "transaction"
	Key    string       `json:"key,omitempty"`
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	key := e.Key
	if key == "" {
		key = "<unknown>"
	}
	return fmt.Sprintf("validation: invalid %s %s: %s", e.Kind, key, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrInvalidRecord) true for any *Error.
func (e *Error) Is(target error) bool { return target == ErrInvalidRecord }

// fieldErrors accumulates field errors, keeping at most one per field.
type fieldErrors struct {
	list []FieldError
	seen map[string]bool
}

func (fe *fieldErrors) add(field, reason string) {
	if fe.seen == nil {
		fe.seen = map[string]bool{}
	}
	if fe.seen[field] {
		return
	}
	fe.seen[field] = true
	fe.list = append(fe.list, FieldError{Field: field, Reason: reason})
}

func (fe *fieldErrors) has(field string) bool { return fe.seen[field] }

func (fe *fieldErrors) empty() bool { return len(fe.list) == 0 }
