package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dvloznov/statement-importer/internal/domain"
)

func validSchema() *domain.CsvSchema {
	return &domain.CsvSchema{
		Name:                 "Barclays",
		TransactionDataStart: 2,
		DateColumn:           domain.IndexColumn(1),
		BalanceColumn:        domain.IndexColumn(2),
		AmountColumn:         domain.IndexColumn(3),
	}
}

func fieldsOf(err error) map[string]bool {
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]bool)
	for _, e := range verrs {
		out[e.Field] = true
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(s *domain.CsvSchema)
		wantFields []string
	}{
		{
			name:   "valid single amount",
			mutate: func(s *domain.CsvSchema) {},
		},
		{
			name: "valid paid in and out",
			mutate: func(s *domain.CsvSchema) {
				s.AmountColumn = domain.ColumnRef{}
				s.PaidInColumn = domain.LetterColumn("D")
				s.PaidOutColumn = domain.LetterColumn("e")
			},
		},
		{
			name: "only paid out is enough",
			mutate: func(s *domain.CsvSchema) {
				s.AmountColumn = domain.ColumnRef{}
				s.PaidOutColumn = domain.IndexColumn(4)
			},
		},
		{
			name: "amount and paid in together are accepted",
			mutate: func(s *domain.CsvSchema) {
				s.PaidInColumn = domain.IndexColumn(4)
			},
		},
		{
			name: "no amount mode",
			mutate: func(s *domain.CsvSchema) {
				s.AmountColumn = domain.ColumnRef{}
			},
			wantFields: []string{"amount_column"},
		},
		{
			name: "missing required columns",
			mutate: func(s *domain.CsvSchema) {
				s.DateColumn = domain.ColumnRef{}
				s.BalanceColumn = domain.ColumnRef{}
			},
			wantFields: []string{"date_column", "balance_column"},
		},
		{
			name: "data start below one",
			mutate: func(s *domain.CsvSchema) {
				s.TransactionDataStart = 0
			},
			wantFields: []string{"transaction_data_start"},
		},
		{
			name: "multi letter reference",
			mutate: func(s *domain.CsvSchema) {
				s.DescriptionColumn = domain.ParseColumnRef("AA")
			},
			wantFields: []string{"description_column"},
		},
		{
			name: "zero index",
			mutate: func(s *domain.CsvSchema) {
				s.DateColumn = domain.IndexColumn(0)
			},
			wantFields: []string{"date_column"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSchema()
			tt.mutate(s)
			err := Validate(s)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			got := fieldsOf(err)
			if got == nil {
				t.Fatalf("Validate() error = %v, want ValidationErrors", err)
			}
			for _, f := range tt.wantFields {
				if !got[f] {
					t.Errorf("Validate() missing error for field %q (got %v)", f, got)
				}
			}
			if len(got) != len(tt.wantFields) {
				t.Errorf("Validate() fields = %v, want %v", got, tt.wantFields)
			}
		})
	}
}

func TestResolveIndex(t *testing.T) {
	tests := []struct {
		ref  domain.ColumnRef
		want int
	}{
		{domain.IndexColumn(1), 0},
		{domain.IndexColumn(10), 9},
		{domain.LetterColumn("A"), 0},
		{domain.LetterColumn("c"), 2},
		{domain.LetterColumn("Z"), 25},
		{domain.ColumnRef{}, -1},
		{domain.ParseColumnRef("AB"), -1},
	}
	for _, tt := range tests {
		if got := ResolveIndex(tt.ref); got != tt.want {
			t.Errorf("ResolveIndex(%q) = %d, want %d", tt.ref.String(), got, tt.want)
		}
	}
}

func TestResolve_SingleAmountWins(t *testing.T) {
	s := validSchema()
	s.PaidInColumn = domain.IndexColumn(4)
	s.PaidOutColumn = domain.IndexColumn(5)

	r, err := Resolve(s)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !r.SingleAmount {
		t.Error("expected single amount mode to take precedence")
	}
	if r.Amount != 2 || r.PaidIn != 3 || r.PaidOut != 4 {
		t.Errorf("Resolve() indices = amount %d, paid in %d, paid out %d", r.Amount, r.PaidIn, r.PaidOut)
	}
	if r.Description != -1 {
		t.Errorf("unset description resolved to %d, want -1", r.Description)
	}
}

func TestSchemaJSON_ColumnRefs(t *testing.T) {
	payload := `{"name":"Monzo","transaction_data_start":1,"date_column":1,"balance_column":"b","paid_in_column":"4","paid_out_column":null,"description_column":"AA"}`

	var s domain.CsvSchema
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if s.DateColumn.Kind() != domain.ColumnIndex || s.DateColumn.Index() != 1 {
		t.Errorf("date_column = %+v, want index 1", s.DateColumn)
	}
	if s.BalanceColumn.Kind() != domain.ColumnLetter || s.BalanceColumn.Letter() != 'B' {
		t.Errorf("balance_column = %q, want letter B", s.BalanceColumn.String())
	}
	if s.PaidInColumn.Kind() != domain.ColumnIndex || s.PaidInColumn.Index() != 4 {
		t.Errorf("paid_in_column = %q, want index 4", s.PaidInColumn.String())
	}
	if s.PaidOutColumn.IsSet() {
		t.Errorf("paid_out_column should be unset")
	}

	if got := fieldsOf(Validate(&s)); !got["description_column"] || len(got) != 1 {
		t.Errorf("Validate() fields = %v, want only description_column", got)
	}

	out, err := json.Marshal(s.BalanceColumn)
	if err != nil || string(out) != `"B"` {
		t.Errorf("Marshal(balance_column) = %s, %v", out, err)
	}
	out, err = json.Marshal(s.DateColumn)
	if err != nil || string(out) != `1` {
		t.Errorf("Marshal(date_column) = %s, %v", out, err)
	}
}
