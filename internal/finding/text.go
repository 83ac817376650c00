package finding

import (
	"html"
	"regexp"
	"strconv"
)

var unicodeEscape = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// DisplayText decodes HTML entities and literal \uXXXX escapes found in rule
// descriptions. It is applied when rendering, never to stored text.
func DisplayText(s string) string {
	s = unicodeEscape.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
	return html.UnescapeString(s)
}
