package query

import (
	"strings"
	"unicode"
)

// Sanitize makes user input safe to hand to a full-text MATCH expression.
// Every rune that is neither a letter, a digit nor a double quote becomes a
// space. If the result has an odd number of quotes, every quote becomes a
// space as well, so phrases are always balanced. Sanitize is idempotent.
func Sanitize(q string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '"' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, q)

	if strings.Count(cleaned, `"`)%2 != 0 {
		cleaned = strings.ReplaceAll(cleaned, `"`, " ")
	}
	return cleaned
}
