package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/transform"
	"retail-analytics-pipeline/internal/validation"
)

// State is a step of the run state machine.
type State string

const (
	StateInitialized         State = "initialized"
	StateProductsLoading     State = "products_loading"
	StateTransactionsLoading State = "transactions_loading"
	StateQualityChecking     State = "quality_checking"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
)

// Outcome is the overall verdict of a run.
type Outcome string

const (
	OutcomeCompleted             Outcome = "completed"
	OutcomeCompletedWithWarnings Outcome = "completed_with_warnings"
	OutcomeFailed                Outcome = "failed"
)

// Stage names used in record and stage errors.
const (
	StageProducts     = "products"
	StageTransactions = "transactions"
	StageQuality      = "quality"
	StageWarehouse    = "warehouse"
)

// Kinds of record-level problems.
const (
	KindValidation           = "validation"
	KindReferentialIntegrity = "referential_integrity"
	KindWarning              = "warning"
)

// Transition records one state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// SourceCounts are the per-source record counts of a run.
type SourceCounts struct {
	Read             int `json:"read"`
	Validated        int `json:"validated"`
	FailedValidation int `json:"failed_validation"`
	Transformed      int `json:"transformed"`
	Loaded           int `json:"loaded"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	FailedLoad       int `json:"failed_load"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c SourceCounts) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("read", c.Read)
	enc.AddInt("validated", c.Validated)
	enc.AddInt("failed_validation", c.FailedValidation)
	enc.AddInt("transformed", c.Transformed)
	enc.AddInt("loaded", c.Loaded)
	enc.AddInt("skipped_duplicate", c.SkippedDuplicate)
	enc.AddInt("failed_load", c.FailedLoad)
	return nil
}

// RecordError is one record that was rejected, or accepted with a warning.
type RecordError struct {
	Source  string                  `json:"source"`
	Kind    string                  `json:"kind"`
	Key     string                  `json:"key"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

// StageError is a failure that aborted a whole stage.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Summary is the machine-readable report of one run. It is filled in as the run
// progresses and is complete once Run returns, whatever the outcome.
type Summary struct {
	RunID           string                  `json:"run_id"`
	State           State                   `json:"state"`
	Outcome         Outcome                 `json:"outcome"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      time.Time               `json:"finished_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	Transitions     []Transition            `json:"transitions"`
	Products        SourceCounts            `json:"products"`
	Transactions    SourceCounts            `json:"transactions"`
	CustomersLoaded int                     `json:"customers_loaded"`
	Warnings        []RecordError           `json:"warnings"`
	Errors          []RecordError           `json:"errors"`
	StageErrors     []StageError            `json:"stage_errors"`
	Quality         *domain.QualityReport   `json:"quality,omitempty"`
	Aggregates      *transform.Aggregates   `json:"aggregates,omitempty"`
	Totals          *domain.WarehouseTotals `json:"totals,omitempty"`

	fatal []error
}

func newSummary(runID string, startedAt time.Time) *Summary {
	return &Summary{
		RunID:       runID,
		State:       StateInitialized,
		StartedAt:   startedAt,
		Warnings:    []RecordError{},
		Errors:      []RecordError{},
		StageErrors: []StageError{},
	}
}

// FailedSummary reports a run that could not start, such as when the warehouse is
// unreachable. It carries err as a warehouse stage error and the failed outcome.
func FailedSummary(err error, at time.Time) *Summary {
	at = at.UTC()
	sum := newSummary(uuid.NewString(), at)
	sum.stageFailed(StageWarehouse, err)
	sum.finish(at)
	return sum
}

func (s *Summary) transition(to State, at time.Time) {
	s.Transitions = append(s.Transitions, Transition{From: s.State, To: to, At: at})
	s.State = to
}

func (s *Summary) stageFailed(stage string, err error) {
	s.StageErrors = append(s.StageErrors, StageError{Stage: stage, Message: err.Error()})
	s.fatal = append(s.fatal, err)
}

func (s *Summary) recordError(source, kind, key string, err error) {
	re := RecordError{Source: source, Kind: kind, Key: key, Message: err.Error()}
	var verr *validation.Error
	if errors.As(err, &verr) {
		re.Fields = verr.Fields
	}
	s.Errors = append(s.Errors, re)
}

func (s *Summary) warning(source, key string, fe validation.FieldError) {
	s.Warnings = append(s.Warnings, RecordError{
		Source:  source,
		Kind:    KindWarning,
		Key:     key,
		Message: fe.String(),
		Fields:  []validation.FieldError{fe},
	})
}

func (s *Summary) finish(at time.Time) {
	s.FinishedAt = at
	s.DurationSeconds = at.Sub(s.StartedAt).Seconds()

	switch {
	case len(s.fatal) > 0:
		s.transition(StateFailed, at)
		s.Outcome = OutcomeFailed
	default:
		s.transition(StateCompleted, at)
		s.Outcome = OutcomeCompleted
		if len(s.Warnings) > 0 || len(s.Errors) > 0 || (s.Quality != nil && !s.Quality.Passed()) {
			s.Outcome = OutcomeCompletedWithWarnings
		}
	}
}

// Err returns the fatal errors of the run joined, or nil.
func (s *Summary) Err() error {
	return errors.Join(s.fatal...)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *Summary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", s.RunID)
	enc.AddString("state", string(s.State))
	enc.AddString("outcome", string(s.Outcome))
	enc.AddFloat64("duration_seconds", s.DurationSeconds)
	if err := enc.AddObject("products", s.Products); err != nil {
		return err
	}
	if err := enc.AddObject("transactions", s.Transactions); err != nil {
		return err
	}
	enc.AddInt("customers_loaded", s.CustomersLoaded)
	enc.AddInt("warnings", len(s.Warnings))
	enc.AddInt("record_errors", len(s.Errors))
	enc.AddInt("stage_errors", len(s.StageErrors))
	if s.Quality != nil {
		enc.AddBool("quality_passed", s.Quality.Passed())
		enc.AddInt64("orphans", s.Quality.Orphans.Count)
		enc.AddInt64("duplicates", s.Quality.Duplicates.Count)
	}
	if s.Aggregates != nil {
		if err := enc.AddObject("aggregates", *s.Aggregates); err != nil {
			return err
		}
	}
	return nil
}
