package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func strict() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PlainText strips markup and control characters, collapses whitespace and truncates
// the result to limit runes. A non-positive limit disables truncation.
func PlainText(value string, limit int) string {
	if value == "" {
		return ""
	}
	stripped := html.UnescapeString(strict().Sanitize(value))

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	count := 0
	for _, r := range stripped {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if limit > 0 && count >= limit {
			break
		}
		if space {
			b.WriteByte(' ')
			count++
			space = false
			if limit > 0 && count >= limit {
				break
			}
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// StripControl removes every control rune, newlines included, and keeps at most limit
// runes. It leaves markup alone; use PlainText for user-facing text.
func StripControl(value string, limit int) string {
	var b strings.Builder
	b.Grow(len(value))
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if limit > 0 && count >= limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
