// sanitize.go - Free-text neutralization applied before persistence.
package feedback

import (
	"strings"
)

// htmlEscaper replaces every character that is significant inside HTML
// markup or attribute values with its entity.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&#x27;",
	"<", "&lt;",
	">", "&gt;",
	"/", "&#x2F;",
	`\`, "&#x5C;",
	"`", "&#96;",
)

// Sanitize strips ASCII control characters (0x00-0x1F and 0x7F) and then
// HTML-escapes the remainder. Any non-string value yields "".
func Sanitize(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return htmlEscaper.Replace(stripLow(s))
}

func stripLow(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
