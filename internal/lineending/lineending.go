// Package lineending detects and rewrites line terminators.
package lineending

import (
	"fmt"
	"strings"
)

// Style is a line terminator convention.
type Style string

const (
	LF   Style = "LF"
	CRLF Style = "CRLF"
	CR   Style = "CR"
)

// Parse accepts "LF", "CRLF" or "CR" in any case.
func Parse(s string) (Style, error) {
	switch Style(strings.ToUpper(strings.TrimSpace(s))) {
	case LF:
		return LF, nil
	case CRLF:
		return CRLF, nil
	case CR:
		return CR, nil
	}
	return "", fmt.Errorf("lineending: unsupported style %q", s)
}

// Sequence returns the terminator bytes for the style.
func (s Style) Sequence() string {
	switch s {
	case CRLF:
		return "\r\n"
	case CR:
		return "\r"
	default:
		return "\n"
	}
}

// Detect returns the style that occurs most often in content. Ties favour
// CRLF, then CR. Content without terminators is LF.
func Detect(content string) Style {
	var crlf, lf, cr int
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\r':
			if i+1 < len(content) && content[i+1] == '\n' {
				crlf++
				i++
			} else {
				cr++
			}
		case '\n':
			lf++
		}
	}
	switch {
	case crlf > 0 && crlf >= lf && crlf >= cr:
		return CRLF
	case cr > 0 && cr >= lf:
		return CR
	default:
		return LF
	}
}

// Convert rewrites every terminator in content to style in one linear
// pass: CRLF and lone CR are read as LF, then each LF is expanded.
func Convert(content string, style Style) string {
	seq := style.Sequence()
	var b strings.Builder
	b.Grow(len(content) + len(content)/16)
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch c {
		case '\r':
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
			b.WriteString(seq)
		case '\n':
			b.WriteString(seq)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Normalize rewrites all terminators to LF.
func Normalize(content string) string {
	return Convert(content, LF)
}
