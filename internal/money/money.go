// Package money converts currency strings from bank exports into signed
// integer minor units.
package money

import (
	"errors"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrMalformedAmount is returned by Parse for non-empty input that is not a
// plain decimal number once symbols and separators are removed, or whose
// value in pennies does not fit an int64.
var ErrMalformedAmount = errors.New("malformed amount")

var (
	hundred  = decimal.NewFromInt(100)
	minMinor = decimal.NewFromInt(math.MinInt64)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// ToMinorUnits returns raw in pennies, or nil when raw is empty or cannot be
// read.
func ToMinorUnits(raw string) *int64 {
	v, err := Parse(raw)
	if err != nil {
		return nil
	}
	return v
}

// Parse returns (nil, nil) for empty input and ErrMalformedAmount for input
// that is present but unreadable. Parentheses, a leading or trailing minus
// and a DR suffix mark negatives. Values are rounded half away from zero to
// whole pennies.
func Parse(raw string) (*int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	upper := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasSuffix(upper, "DR"):
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(upper, "CR"):
		s = strings.TrimSpace(s[:len(s)-2])
	}

	s = stripSymbols(s)
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	} else if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	} else {
		s = strings.TrimPrefix(s, "+")
	}

	s = normalizeSeparators(strings.TrimFunc(s, unicode.IsLetter))
	if s == "" || strings.IndexFunc(s, notDecimal) >= 0 {
		return nil, ErrMalformedAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ErrMalformedAmount
	}
	if negative {
		d = d.Neg()
	}

	scaled := d.Mul(hundred).Round(0)
	if scaled.LessThan(minMinor) || scaled.GreaterThan(maxMinor) {
		return nil, ErrMalformedAmount
	}
	minor := scaled.IntPart()
	return &minor, nil
}

// notDecimal reports runes outside plain digits and the decimal point, which
// keeps signs and exponent notation away from the decimal parser.
func notDecimal(r rune) bool {
	return r != '.' && (r < '0' || r > '9')
}

// stripSymbols drops currency symbols, digit-group spaces and apostrophes,
// then any ISO code or other letters at either end.
func stripSymbols(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) || r == '\'' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimFunc(b.String(), unicode.IsLetter)
}

// normalizeSeparators resolves thousands and decimal separators to a plain
// dot-decimal string. When both appear the last one is the decimal mark; a
// lone comma followed by one or two digits is a decimal comma, while three
// trailing digits read as thousands.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if tail := len(s) - lastComma - 1; strings.Count(s, ",") == 1 && (tail == 1 || tail == 2) {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	}
	return s
}
