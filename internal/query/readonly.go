package query

import (
	"strings"
	"unicode"
)

const (
	rejectedMessage = "only read-only SELECT or WITH statements are allowed"
	stackedMessage  = "only a single statement is allowed"
)

// IsReadOnly reports whether the first keyword of sqlText, after leading
// whitespace and comments, is SELECT or WITH.
func IsReadOnly(sqlText string) bool {
	switch strings.ToUpper(leadingKeyword(sqlText)) {
	case "SELECT", "WITH":
		return true
	default:
		return false
	}
}

// CheckReadOnly returns a KindRejected error for anything IsReadOnly refuses.
func CheckReadOnly(sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return Rejected("sql is required")
	}
	if !IsReadOnly(sqlText) {
		return Rejected(rejectedMessage)
	}
	if hasStackedStatement(sqlText) {
		return Rejected(stackedMessage)
	}
	return nil
}

// hasStackedStatement reports whether anything other than whitespace,
// comments or further semicolons follows a semicolon. Semicolons inside
// quoted strings, quoted identifiers and comments are ignored.
func hasStackedStatement(sqlText string) bool {
	terminated := false
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		switch {
		case c == '-' && strings.HasPrefix(sqlText[i:], "--"):
			newline := strings.IndexByte(sqlText[i:], '\n')
			if newline < 0 {
				return false
			}
			i += newline
		case c == '/' && strings.HasPrefix(sqlText[i:], "/*"):
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		case c == ';':
			terminated = true
		case unicode.IsSpace(rune(c)):
		case terminated:
			return true
		case c == '\'' || c == '"' || c == '`':
			end := closingQuote(sqlText, i+1, c)
			if end < 0 {
				return false
			}
			i = end
		}
	}
	return false
}

// closingQuote returns the index of the quote that closes a literal opened
// just before from. A doubled quote is an escaped quote.
func closingQuote(sqlText string, from int, quote byte) int {
	for i := from; i < len(sqlText); i++ {
		if sqlText[i] != quote {
			continue
		}
		if i+1 < len(sqlText) && sqlText[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return -1
}

func leadingKeyword(sqlText string) string {
	rest := sqlText
	for {
		rest = strings.TrimLeftFunc(rest, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
		switch {
		case strings.HasPrefix(rest, "--"):
			newline := strings.IndexByte(rest, '\n')
			if newline < 0 {
				return ""
			}
			rest = rest[newline+1:]
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest, "*/")
			if end < 0 {
				return ""
			}
			rest = rest[end+2:]
		default:
			end := strings.IndexFunc(rest, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
			})
			if end < 0 {
				return rest
			}
			return rest[:end]
		}
	}
}
