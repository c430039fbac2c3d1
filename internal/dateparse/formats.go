package dateparse

import "strings"

// Format is one entry of the format table, written with the PHP-style
// tokens users already know from bank export settings (d, j, m, n, Y, y,
// M, F, D, l, H, i, s).
type Format struct {
	Name string
}

// defaultFormats is ordered most specific first. Day-first numeric families
// sit ahead of month-first ones, so "5/1/2024" reads as 5 January.
var defaultFormats = []Format{
	{Name: "Y-m-d"},
	{Name: "Y/m/d"},
	{Name: "Y.m.d"},
	{Name: "Y-m-d H:i:s"},
	{Name: "Y-m-d H:i"},
	{Name: "d/m/Y"},
	{Name: "d-m-Y"},
	{Name: "d.m.Y"},
	{Name: "d/m/Y H:i:s"},
	{Name: "d/m/Y H:i"},
	{Name: "m/d/Y"},
	{Name: "m-d-Y"},
	{Name: "m.d.Y"},
	{Name: "d/m/y"},
	{Name: "d-m-y"},
	{Name: "d.m.y"},
	{Name: "m/d/y"},
	{Name: "m-d-y"},
	{Name: "Ymd"},
	{Name: "d M Y"},
	{Name: "d-M-Y"},
	{Name: "d/M/Y"},
	{Name: "d M y"},
	{Name: "d-M-y"},
	{Name: "d F Y"},
	{Name: "M d Y"},
	{Name: "M d, Y"},
	{Name: "F d Y"},
	{Name: "F d, Y"},
	{Name: "D, d M Y"},
	{Name: "D d M Y"},
	{Name: "l, d F Y"},
	{Name: "l d F Y"},
}

// DefaultFormats returns a copy of the built-in format table.
func DefaultFormats() []Format {
	return append([]Format(nil), defaultFormats...)
}

var phpTokens = map[rune]string{
	'd': "02",
	'j': "2",
	'm': "01",
	'n': "1",
	'Y': "2006",
	'y': "06",
	'M': "Jan",
	'F': "January",
	'D': "Mon",
	'l': "Monday",
	'H': "15",
	'i': "04",
	's': "05",
}

// Layout converts a PHP-style format into a Go reference layout. A
// backslash escapes the following character.
func Layout(name string) string {
	var b strings.Builder
	escaped := false
	for _, r := range name {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if tok, ok := phpTokens[r]; ok {
			b.WriteString(tok)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (f Format) textual() bool {
	return strings.ContainsAny(f.Name, "MFDl")
}

// compact formats have no separators, so padding cannot vary.
func (f Format) compact() bool {
	return !strings.ContainsAny(f.Name, "/-., ")
}

// looseName swaps zero-padded day and month tokens for their unpadded
// forms. Go's unpadded tokens accept one or two digits when parsing.
func (f Format) looseName() string {
	if f.compact() {
		return f.Name
	}
	r := strings.NewReplacer("d", "j", "m", "n")
	return r.Replace(f.Name)
}

// paddingVariants lists every zero-padding combination of the format, used
// to compare a parsed value back against the raw input.
func (f Format) paddingVariants() []string {
	if f.compact() {
		return []string{f.Name}
	}
	days := []string{"d"}
	if strings.Contains(f.Name, "d") {
		days = append(days, "j")
	}
	months := []string{"m"}
	if strings.Contains(f.Name, "m") {
		months = append(months, "n")
	}
	variants := make([]string, 0, len(days)*len(months))
	for _, d := range days {
		for _, m := range months {
			variants = append(variants, strings.NewReplacer("d", d, "m", m).Replace(f.Name))
		}
	}
	return variants
}
