// Package billing turns message text into billable words and token cost.
package billing

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	schemeURLPattern = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://\S+$`)
	bareURLPattern   = regexp.MustCompile(`(?i)^(www\.\S+|mailto:\S+|[a-z0-9-]+(\.[a-z0-9-]+)+/\S*)$`)
)

// emojiTable covers pictographs, dingbats, flags and the joiners/modifiers
// that glue emoji sequences together.
var emojiTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200d, Hi: 0x200d, Stride: 1}, // zero width joiner
		{Lo: 0x203c, Hi: 0x203c, Stride: 1},
		{Lo: 0x2049, Hi: 0x2049, Stride: 1},
		{Lo: 0x20e3, Hi: 0x20e3, Stride: 1}, // combining keycap
		{Lo: 0x2122, Hi: 0x2122, Stride: 1},
		{Lo: 0x2139, Hi: 0x2139, Stride: 1},
		{Lo: 0x2194, Hi: 0x21aa, Stride: 1},
		{Lo: 0x231a, Hi: 0x23ff, Stride: 1},
		{Lo: 0x24c2, Hi: 0x24c2, Stride: 1},
		{Lo: 0x25aa, Hi: 0x25fe, Stride: 1},
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2934, Hi: 0x2935, Stride: 1},
		{Lo: 0x2b05, Hi: 0x2b55, Stride: 1},
		{Lo: 0x3030, Hi: 0x3030, Stride: 1},
		{Lo: 0x303d, Hi: 0x303d, Stride: 1},
		{Lo: 0x3297, Hi: 0x3299, Stride: 1},
		{Lo: 0xfe0e, Hi: 0xfe0f, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1faff, Stride: 1},
		{Lo: 0xe0020, Hi: 0xe007f, Stride: 1}, // tag sequences
	},
}

// IsEmoji reports whether r is an emoji code point or emoji sequence glue.
func IsEmoji(r rune) bool {
	return unicode.Is(emojiTable, r)
}

// CountWords returns the number of billable words in text.
//
// Text is NFC-normalized, URL-shaped tokens are dropped, emoji code points are
// removed, and remaining tokens without any letter or digit are discarded.
// CountWords never fails.
func CountWords(text string) int {
	if text == "" {
		return 0
	}
	text = norm.NFC.String(text)

	count := 0
	for _, token := range strings.Fields(text) {
		if isURL(token) {
			continue
		}
		token = stripEmoji(token)
		if hasWordRune(token) {
			count++
		}
	}
	return count
}

func isURL(token string) bool {
	return schemeURLPattern.MatchString(token) || bareURLPattern.MatchString(token)
}

func stripEmoji(token string) string {
	return strings.Map(func(r rune) rune {
		if IsEmoji(r) {
			return -1
		}
		return r
	}, token)
}

func hasWordRune(token string) bool {
	for _, r := range token {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
