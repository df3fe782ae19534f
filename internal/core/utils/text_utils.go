package utils

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

const DefaultPreviewLength = 200

// Preview collapses whitespace and cuts text to at most length runes, adding
// "..." when something was cut.
func Preview(text string, length int) string {
	text = strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
	runes := []rune(text)
	if len(runes) <= length {
		return text
	}
	return string(runes[:length]) + "..."
}
