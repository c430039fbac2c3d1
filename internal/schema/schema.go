// Package schema validates CSV column mappings and resolves them to
// zero-based column indices.
package schema

import (
	"fmt"
	"strings"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// FieldError is a validation failure tied to one schema field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned by Validate when the schema is unusable.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Field + ": " + e.Message
	}
	return "invalid schema: " + strings.Join(msgs, "; ")
}

// Validate checks that required columns are present, an amount mode is
// chosen, the data start row is positive and every reference is a positive
// integer or a single letter. Setting both amount_column and paid in/out
// columns is allowed; the single amount column wins at extraction time.
func Validate(s *domain.CsvSchema) error {
	var errs ValidationErrors

	if s.TransactionDataStart < 1 {
		errs = append(errs, FieldError{Field: "transaction_data_start", Message: "must be 1 or greater"})
	}
	if !s.DateColumn.IsSet() {
		errs = append(errs, FieldError{Field: "date_column", Message: "is required"})
	}
	if !s.BalanceColumn.IsSet() {
		errs = append(errs, FieldError{Field: "balance_column", Message: "is required"})
	}
	if !s.AmountColumn.IsSet() && !s.PaidInColumn.IsSet() && !s.PaidOutColumn.IsSet() {
		errs = append(errs, FieldError{Field: "amount_column", Message: "set amount_column or at least one of paid_in_column/paid_out_column"})
	}

	for _, f := range fields(s) {
		if f.ref.Kind() == domain.ColumnInvalid {
			errs = append(errs, FieldError{
				Field:   f.name,
				Message: fmt.Sprintf("%q is not a positive column number or a single letter A-Z", f.ref.String()),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ResolveIndex converts a reference to a zero-based index: numbers map to
// value-1 and letters to their alphabet position. Unset or invalid
// references resolve to -1.
func ResolveIndex(ref domain.ColumnRef) int {
	switch ref.Kind() {
	case domain.ColumnIndex:
		return ref.Index() - 1
	case domain.ColumnLetter:
		return int(ref.Letter() - 'A')
	}
	return -1
}

// Resolved is a validated schema with every reference already converted to
// a zero-based index (-1 when not configured).
type Resolved struct {
	DataStart    int
	Date         int
	Balance      int
	Amount       int
	PaidIn       int
	PaidOut      int
	Description  int
	Reference    int
	SingleAmount bool
	DateFormat   string
}

// Resolve validates s and resolves its references once so extraction never
// branches on reference type per row.
func Resolve(s *domain.CsvSchema) (*Resolved, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	return &Resolved{
		DataStart:    s.TransactionDataStart,
		Date:         ResolveIndex(s.DateColumn),
		Balance:      ResolveIndex(s.BalanceColumn),
		Amount:       ResolveIndex(s.AmountColumn),
		PaidIn:       ResolveIndex(s.PaidInColumn),
		PaidOut:      ResolveIndex(s.PaidOutColumn),
		Description:  ResolveIndex(s.DescriptionColumn),
		Reference:    ResolveIndex(s.ReferenceColumn),
		SingleAmount: s.UsesSingleAmountColumn(),
		DateFormat:   strings.TrimSpace(s.DateFormat),
	}, nil
}

type namedRef struct {
	name string
	ref  domain.ColumnRef
}

func fields(s *domain.CsvSchema) []namedRef {
	return []namedRef{
		{"date_column", s.DateColumn},
		{"balance_column", s.BalanceColumn},
		{"amount_column", s.AmountColumn},
		{"paid_in_column", s.PaidInColumn},
		{"paid_out_column", s.PaidOutColumn},
		{"description_column", s.DescriptionColumn},
		{"reference_column", s.ReferenceColumn},
	}
}
