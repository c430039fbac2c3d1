package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ColumnKind tells which variant a ColumnRef holds.
type ColumnKind int

const (
	ColumnUnset ColumnKind = iota
	ColumnIndex
	ColumnLetter
	ColumnInvalid
)

// ColumnRef points at a CSV column either by 1-indexed position or by a
// single spreadsheet letter (A-Z). The zero value is an unset reference.
type ColumnRef struct {
	kind   ColumnKind
	index  int
	letter byte
	raw    string
}

// IndexColumn returns a 1-indexed positional reference.
func IndexColumn(n int) ColumnRef {
	if n < 1 {
		return ColumnRef{kind: ColumnInvalid, raw: strconv.Itoa(n)}
	}
	return ColumnRef{kind: ColumnIndex, index: n}
}

// LetterColumn returns a letter reference. Anything other than a single
// ASCII letter yields an invalid reference.
func LetterColumn(s string) ColumnRef {
	s = strings.TrimSpace(s)
	if len(s) != 1 {
		return ColumnRef{kind: ColumnInvalid, raw: s}
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c < 'A' || c > 'Z' {
		return ColumnRef{kind: ColumnInvalid, raw: s}
	}
	return ColumnRef{kind: ColumnLetter, letter: c}
}

// ParseColumnRef reads a reference as typed by a user: "" is unset, digits
// are positions and a single letter is a letter reference.
func ParseColumnRef(s string) ColumnRef {
	s = strings.TrimSpace(s)
	if s == "" {
		return ColumnRef{}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return IndexColumn(n)
	}
	return LetterColumn(s)
}

func (c ColumnRef) Kind() ColumnKind { return c.kind }

// IsSet reports whether the reference was provided at all, valid or not.
func (c ColumnRef) IsSet() bool { return c.kind != ColumnUnset }

// Index returns the 1-indexed position for ColumnIndex references.
func (c ColumnRef) Index() int { return c.index }

// Letter returns the upper-case letter for ColumnLetter references.
func (c ColumnRef) Letter() byte { return c.letter }

func (c ColumnRef) String() string {
	switch c.kind {
	case ColumnIndex:
		return strconv.Itoa(c.index)
	case ColumnLetter:
		return string(c.letter)
	case ColumnInvalid:
		return c.raw
	}
	return ""
}

// MarshalJSON writes positions as numbers, letters as strings and unset
// references as null.
func (c ColumnRef) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case ColumnIndex:
		return []byte(strconv.Itoa(c.index)), nil
	case ColumnUnset:
		return []byte("null"), nil
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a number, a string or null.
func (c *ColumnRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ColumnRef{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ParseColumnRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	i, err := n.Int64()
	if err != nil {
		*c = ColumnRef{kind: ColumnInvalid, raw: n.String()}
		return nil
	}
	*c = IndexColumn(int(i))
	return nil
}

// CsvSchema is a named, user-owned column mapping for one bank's export
// layout.
type CsvSchema struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Name                 string    `json:"name"`
	TransactionDataStart int       `json:"transaction_data_start"`
	DateColumn           ColumnRef `json:"date_column"`
	BalanceColumn        ColumnRef `json:"balance_column"`
	AmountColumn         ColumnRef `json:"amount_column"`
	PaidInColumn         ColumnRef `json:"paid_in_column"`
	PaidOutColumn        ColumnRef `json:"paid_out_column"`
	DescriptionColumn    ColumnRef `json:"description_column"`
	ReferenceColumn      ColumnRef `json:"reference_column"`
	DateFormat           string    `json:"date_format,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// UsesSingleAmountColumn reports whether extraction reads one signed amount
// column. It wins over paid in/out columns when both are configured.
func (s *CsvSchema) UsesSingleAmountColumn() bool {
	return s.AmountColumn.IsSet()
}

// Clone returns a copy of the schema under a new name with identity and
// timestamps cleared.
func (s *CsvSchema) Clone(name string) *CsvSchema {
	c := *s
	c.ID = ""
	c.Name = name
	c.CreatedAt = time.Time{}
	c.UpdatedAt = time.Time{}
	return &c
}
