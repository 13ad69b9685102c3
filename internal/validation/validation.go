// Package validation turns raw source records into typed domain records, enforcing the
// business rules for products and sales transactions. Every violated field is reported,
// not just the first one.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"retail-analytics-pipeline/internal/domain"
)

// Policy decides what happens to a transaction dated after the run started.
type Policy string

const (
	PolicyWarn   Policy = "warn"   // accept the record and return a warning
	PolicyReject Policy = "reject" // fail validation
)

const (
	kindProduct     = "product"
	kindTransaction = "transaction"
	defaultCountry  = "Unknown"
)

var defaultAmountTolerance = decimal.RequireFromString("0.01")

// Options configures a Validator.
type Options struct {
	Now              func() time.Time // reference time for future-dated transactions
	FutureTimestamps Policy
	// AmountTolerance is how far total_amount may drift from quantity*unit_price before a
	// warning is raised. Nil means the default of 0.01; zero demands an exact match.
	AmountTolerance *decimal.Decimal
}

// Validator validates raw product and transaction records.
type Validator struct {
	validate  *validator.Validate
	opts      Options
	tolerance decimal.Decimal
}

// productInput is the typed shape a raw product is coerced into before rule checks.
type productInput struct {
	ProductID   int64           `json:"product_id" validate:"gt=0"`
	Title       string          `json:"title" validate:"required"`
	Category    string          `json:"category" validate:"required"`
	Price       decimal.Decimal `json:"price" validate:"gt=0,lte=9999999999.99"`
	Description *string         `json:"description" validate:"omitempty"`
	ImageURL    *string         `json:"image_url" validate:"omitempty,url,max=2048"`
}

// transactionInput is the typed shape a raw transaction is coerced into before rule checks.
type transactionInput struct {
	TransactionID        string          `json:"transaction_id" validate:"required,max=100"`
	ProductID            int64           `json:"product_id" validate:"gt=0"`
	CustomerID           string          `json:"customer_id" validate:"required,max=100"`
	CustomerName         string          `json:"customer_name"`
	Email                string          `json:"email" validate:"omitempty,email"`
	City                 string          `json:"city"`
	Country              string          `json:"country"`
	TransactionTimestamp time.Time       `json:"transaction_timestamp"`
	Quantity             int64           `json:"quantity" validate:"gt=0,lte=2147483647"`
	UnitPrice            decimal.Decimal `json:"unit_price" validate:"gte=0,lte=9999999999.99"`
	TotalAmount          decimal.Decimal `json:"total_amount" validate:"gte=0,lte=9999999999.99"`
	StoreLocation        string          `json:"store_location" validate:"required"`
	PaymentMethod        string          `json:"payment_method" validate:"oneof=cash credit_card debit_card online"`
}

// New creates a Validator. Unset options fall back to time.Now, PolicyWarn and a 0.01 tolerance.
func New(opts Options) *Validator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FutureTimestamps == "" {
		opts.FutureTimestamps = PolicyWarn
	}
	tolerance := defaultAmountTolerance
	if opts.AmountTolerance != nil {
		tolerance = *opts.AmountTolerance
	}

	v := validator.New()
	// Report fields by their record names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Decimals are compared as float64 by the gt/gte/lte tags.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return &Validator{validate: v, opts: opts, tolerance: tolerance}
}

// Product validates a raw API product. The API's "id" and "image" keys are accepted as
// aliases for product_id and image_url.
func (v *Validator) Product(raw domain.RawRecord) (domain.ProductRecord, error) {
	errs := &fieldErrors{}
	r := &reader{raw: raw, errs: errs}

	in := productInput{
		ProductID:   r.integer(true, "product_id", "id"),
		Title:       r.str(true, "title"),
		Category:    r.str(true, "category"),
		Price:       r.dec(true, "price"),
		Description: r.optStr("description"),
		ImageURL:    r.optStr("image_url", "image"),
	}
	v.check(in, errs)
	checkScale(errs, "price", in.Price)

	if !errs.empty() {
		return domain.ProductRecord{}, &Error{Kind: kindProduct, Key: keyOf(raw, "product_id", "id"), Fields: errs.list}
	}
	return domain.ProductRecord{
		ProductID:   in.ProductID,
		Title:       in.Title,
		Category:    in.Category,
		Price:       in.Price,
		Description: in.Description,
		ImageURL:    in.ImageURL,
	}, nil
}

// Transaction validates a raw CSV transaction. It returns non-fatal warnings alongside a
// valid record: a future timestamp under PolicyWarn, or a total that does not match
// quantity * unit_price. Customer attributes missing from the source get fallbacks.
func (v *Validator) Transaction(raw domain.RawRecord) (domain.SalesTransactionRecord, []FieldError, error) {
	errs := &fieldErrors{}
	r := &reader{raw: raw, errs: errs}

	in := transactionInput{
		TransactionID:        r.str(true, "transaction_id"),
		ProductID:            r.integer(true, "product_id"),
		CustomerID:           r.str(true, "customer_id"),
		CustomerName:         r.str(false, "customer_name"),
		Email:                r.str(false, "email"),
		City:                 r.str(false, "city"),
		Country:              r.str(false, "country"),
		TransactionTimestamp: r.timestamp(true, "transaction_timestamp", "transaction_date"),
		Quantity:             r.integer(true, "quantity"),
		UnitPrice:            r.dec(true, "unit_price"),
		TotalAmount:          r.dec(true, "total_amount"),
		StoreLocation:        r.str(true, "store_location"),
		PaymentMethod:        strings.ToLower(r.str(true, "payment_method")),
	}
	v.check(in, errs)
	checkScale(errs, "unit_price", in.UnitPrice)
	checkScale(errs, "total_amount", in.TotalAmount)

	var warnings []FieldError
	if !errs.has("transaction_timestamp") && in.TransactionTimestamp.After(v.opts.Now()) {
		if v.opts.FutureTimestamps == PolicyReject {
			errs.add("transaction_timestamp", "is in the future")
		} else {
			warnings = append(warnings, FieldError{Field: "transaction_timestamp", Reason: "is in the future"})
		}
	}

	if !errs.empty() {
		return domain.SalesTransactionRecord{}, nil, &Error{Kind: kindTransaction, Key: keyOf(raw, "transaction_id"), Fields: errs.list}
	}

	expected := in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))
	if in.TotalAmount.Sub(expected).Abs().GreaterThan(v.tolerance) {
		warnings = append(warnings, FieldError{
			Field:  "total_amount",
			Reason: fmt.Sprintf("%s differs from quantity * unit_price (%s)", in.TotalAmount.StringFixed(2), expected.StringFixed(2)),
		})
	}

	rec := domain.SalesTransactionRecord{
		TransactionID:        in.TransactionID,
		ProductID:            in.ProductID,
		CustomerID:           in.CustomerID,
		CustomerName:         in.CustomerName,
		City:                 in.City,
		Country:              in.Country,
		TransactionTimestamp: in.TransactionTimestamp,
		Quantity:             in.Quantity,
		UnitPrice:            in.UnitPrice,
		TotalAmount:          in.TotalAmount,
		StoreLocation:        in.StoreLocation,
		PaymentMethod:        domain.PaymentMethod(in.PaymentMethod),
	}
	if in.Email != "" {
		email := in.Email
		rec.Email = &email
	}
	if rec.CustomerName == "" {
		rec.CustomerName = "Customer " + rec.CustomerID
	}
	if rec.City == "" {
		rec.City = rec.StoreLocation
	}
	if rec.Country == "" {
		rec.Country = defaultCountry
	}
	return rec, warnings, nil
}

// check runs the struct-tag rules, skipping fields that already failed coercion.
func (v *Validator) check(in any, errs *fieldErrors) {
	err := v.validate.Struct(in)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs.add("record", err.Error())
		return
	}
	for _, fe := range verrs {
		if errs.has(fe.Field()) {
			continue
		}
		errs.add(fe.Field(), reason(fe))
	}
}

// checkScale rejects amounts with more than two decimal places, which the warehouse
// would otherwise round silently.
func checkScale(errs *fieldErrors, field string, d decimal.Decimal) {
	if errs.has(field) || d.Equal(d.Round(2)) {
		return
	}
	errs.add(field, "must have at most 2 decimal places")
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return reasonRequired
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return "failed the " + fe.Tag() + " rule"
}

// keyOf renders a record's natural key for error reporting, without validating it.
func keyOf(raw domain.RawRecord, keys ...string) string {
	r := &reader{raw: raw, errs: &fieldErrors{}}
	return r.str(false, keys...)
}
