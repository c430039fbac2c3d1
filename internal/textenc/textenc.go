// Package textenc detects the encoding of uploaded statement files and
// converts them to UTF-8.
package textenc

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding names reported in Result.
const (
	UTF8        = "UTF-8"
	UTF16LE     = "UTF-16LE"
	UTF16BE     = "UTF-16BE"
	Windows1252 = "Windows-1252"
	ISO88591    = "ISO-8859-1"
)

const bom = "\uFEFF"

// Result is the decoded text and the encoding it was read as.
type Result struct {
	Text     string
	Encoding string
}

// Normalize decodes raw into UTF-8. Candidates are tried in order: UTF-16
// (by byte order mark or NUL pattern), UTF-8, Windows-1252, and ISO-8859-1
// as the last resort. A leading U+FEFF is removed after decoding. Empty
// input yields an empty Result; callers decide whether that is an error.
func Normalize(raw []byte) Result {
	if len(raw) == 0 {
		return Result{Encoding: UTF8}
	}

	name, enc := detect(raw)
	text := string(raw)
	if enc != nil {
		decoded, _, err := transform.Bytes(enc.NewDecoder(), raw)
		if err != nil {
			// The byte-level charmaps cannot fail; a broken UTF-16 stream
			// degrades to the legacy single-byte reading.
			name, enc = ISO88591, charmap.ISO8859_1
			decoded, _, _ = transform.Bytes(enc.NewDecoder(), raw)
		}
		text = string(decoded)
	}

	return Result{
		Text:     strings.TrimPrefix(text, bom),
		Encoding: name,
	}
}

func detect(raw []byte) (string, encoding.Encoding) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return UTF16LE, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return UTF16BE, unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	}

	if order, ok := guessUTF16(raw); ok {
		if order == unicode.LittleEndian {
			return UTF16LE, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
		}
		return UTF16BE, unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	}

	if utf8.Valid(raw) {
		return UTF8, nil
	}
	if validWindows1252(raw) {
		return Windows1252, charmap.Windows1252
	}
	return ISO88591, charmap.ISO8859_1
}

// guessUTF16 looks for BOM-less UTF-16 text, where most ASCII characters
// leave a NUL in every other byte.
func guessUTF16(raw []byte) (unicode.Endianness, bool) {
	sample := raw
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if len(sample) < 4 || len(sample)%2 != 0 {
		return unicode.LittleEndian, false
	}

	var evenNUL, oddNUL int
	for i, b := range sample {
		if b != 0 {
			continue
		}
		if i%2 == 0 {
			evenNUL++
		} else {
			oddNUL++
		}
	}

	pairs := len(sample) / 2
	switch {
	case oddNUL*10 >= pairs*7 && evenNUL*10 < pairs:
		return unicode.LittleEndian, true
	case evenNUL*10 >= pairs*7 && oddNUL*10 < pairs:
		return unicode.BigEndian, true
	}
	return unicode.LittleEndian, false
}

// validWindows1252 rejects the five byte values Windows-1252 leaves
// undefined.
func validWindows1252(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case 0x81, 0x8D, 0x8F, 0x90, 0x9D:
			return false
		}
	}
	return true
}
