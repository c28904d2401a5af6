package tool

import (
	"strings"
	"unicode/utf8"
)

// composeMetadata joins the title and description fields in that order with
// no separator, then truncates to limit characters. A non-positive limit
// disables truncation.
func composeMetadata(title, description string, limit int) string {
	var b strings.Builder
	if t := strings.TrimSpace(title); t != "" {
		b.WriteString("Title: ")
		b.WriteString(t)
	}
	if d := strings.TrimSpace(description); d != "" {
		b.WriteString("Description: ")
		b.WriteString(d)
	}
	return truncateRunes(b.String(), limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
