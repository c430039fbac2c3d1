// Package dateparse turns the date strings found in bank exports into
// canonical ISO dates.
package dateparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	lenient "github.com/araddon/dateparse"
)

// ISOLayout is the canonical stored date form.
const ISOLayout = "2006-01-02"

var (
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	yearRun       = regexp.MustCompile(`\d{4}`)
)

// UnparseableDateError is returned when no format and no fallback could read
// the input.
type UnparseableDateError struct {
	Raw string
}

func (e *UnparseableDateError) Error() string {
	return fmt.Sprintf("unparseable date: %q", e.Raw)
}

// Parser resolves dates against an ordered, read-only format table.
type Parser struct {
	formats []Format
}

// New creates a parser over a copy of formats. Tests pass reduced tables.
func New(formats []Format) *Parser {
	return &Parser{formats: append([]Format(nil), formats...)}
}

// NewDefault creates a parser over DefaultFormats.
func NewDefault() *Parser {
	return New(defaultFormats)
}

// Formats returns a copy of the parser's table.
func (p *Parser) Formats() []Format {
	return append([]Format(nil), p.formats...)
}

// Parse returns raw as YYYY-MM-DD. A non-empty hint is tried first with a
// strict round trip; if it does not match, the table is consulted.
func (p *Parser) Parse(raw, hint string) (string, error) {
	s := normalize(raw)
	if s == "" {
		return "", &UnparseableDateError{Raw: raw}
	}

	if hint != "" {
		if t, ok := strictMatch(s, hint); ok {
			return t.Format(ISOLayout), nil
		}
	}

	for _, f := range p.formats {
		if t, ok := f.match(s); ok {
			return t.Format(ISOLayout), nil
		}
	}

	if yearRun.MatchString(s) {
		if t, err := lenient.ParseAny(s); err == nil {
			return t.Format(ISOLayout), nil
		}
	}

	return "", &UnparseableDateError{Raw: raw}
}

// DetectFormat picks the table format that reads the most samples. Each
// sample counts only for the first format that matches it; ties go to the
// earlier format.
func (p *Parser) DetectFormat(samples []string) (string, bool) {
	counts := make([]int, len(p.formats))
	for _, sample := range samples {
		s := normalize(sample)
		if s == "" {
			continue
		}
		for i, f := range p.formats {
			if _, ok := f.match(s); ok {
				counts[i]++
				break
			}
		}
	}

	best := -1
	for i, c := range counts {
		if c > 0 && (best < 0 || c > counts[best]) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return p.formats[best].Name, true
}

func normalize(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	return ordinalSuffix.ReplaceAllString(s, "$1")
}

func strictMatch(s, name string) (time.Time, bool) {
	layout := Layout(name)
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, false
	}
	if (Format{Name: name}).textual() {
		return t, strings.EqualFold(t.Format(layout), s)
	}
	return t, t.Format(layout) == s
}

// match parses s with unpadded tokens and accepts the result only if one of
// the padding variants reproduces s.
func (f Format) match(s string) (time.Time, bool) {
	t, err := time.Parse(Layout(f.looseName()), s)
	if err != nil {
		return time.Time{}, false
	}
	textual := f.textual()
	for _, v := range f.paddingVariants() {
		out := t.Format(Layout(v))
		if out == s || (textual && strings.EqualFold(out, s)) {
			return t, true
		}
	}
	return time.Time{}, false
}
