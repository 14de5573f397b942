package judge

import (
	"fmt"
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// stripTrailingCommas drops commas that immediately precede a closing brace
// or bracket, the most common mechanical defect in model-emitted JSON.
func stripTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

// escapeControlChars replaces bare control characters inside string literals
// with their escaped forms. Control characters outside strings are left
// alone; they are legal formatting there.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case inString && r == '\\':
			b.WriteRune(r)
			escaped = true
		case r == '"':
			inString = !inString
			b.WriteRune(r)
		case inString && r < 0x20:
			switch r {
			case '\n':
				b.WriteString(`\n`)
			case '\t':
				b.WriteString(`\t`)
			case '\r':
				b.WriteString(`\r`)
			default:
				b.WriteString(fmt.Sprintf(`\u%04x`, r))
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

const (
	openersBefore = `{[:,`
	closersAfter  = `:,}]`
)

// repairQuotes re-escapes quote characters that cannot be structural: a
// quote is kept as-is only when the next non-space character is a structural
// delimiter (':', ',', '}', ']' or end-of-string) or the previous non-space
// character opens a value ('{', '[', ':' or ','). Anything else is an
// unescaped inner quotation mark inside a string and gets escaped. This
// repairs the common case of a bare quote inside a rationale sentence.
func repairQuotes(s string) string {
	bytes := []byte(s)
	var b strings.Builder
	b.Grow(len(bytes) + 8)
	for i := 0; i < len(bytes); i++ {
		c := bytes[i]
		if c != '"' {
			b.WriteByte(c)
			continue
		}
		if backslashRun(bytes, i)%2 == 1 {
			// already escaped
			b.WriteByte(c)
			continue
		}
		if quoteIsStructural(bytes, i) {
			b.WriteByte(c)
			continue
		}
		b.WriteString(`\"`)
	}
	return b.String()
}

// backslashRun counts the consecutive backslashes immediately before index i
func backslashRun(bytes []byte, i int) int {
	n := 0
	for j := i - 1; j >= 0 && bytes[j] == '\\'; j-- {
		n++
	}
	return n
}

func quoteIsStructural(bytes []byte, i int) bool {
	prev := prevNonSpace(bytes, i)
	if prev == 0 || strings.IndexByte(openersBefore, prev) >= 0 {
		return true
	}
	next := nextNonSpace(bytes, i)
	if next == 0 || strings.IndexByte(closersAfter, next) >= 0 {
		return true
	}
	return false
}

func prevNonSpace(bytes []byte, i int) byte {
	for j := i - 1; j >= 0; j-- {
		switch bytes[j] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return bytes[j]
	}
	return 0
}

func nextNonSpace(bytes []byte, i int) byte {
	for j := i + 1; j < len(bytes); j++ {
		switch bytes[j] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return bytes[j]
	}
	return 0
}

var smartQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// repairStructure is the general-purpose lenient pass: normalize smart
// quotes, escape stray control characters, drop trailing commas, cut
// trailing garbage after the object closes, and append any missing closers.
func repairStructure(s string) string {
	s = smartQuotes.Replace(s)
	s = stripTrailingCommas(escapeControlChars(s))

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					// object closed; anything after is garbage
					return s[:i+1]
				}
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
