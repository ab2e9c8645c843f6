package nlu

import (
	"strings"
	"unicode"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// token is a word of the utterance with rune offsets into the original.
type token struct {
	text   string
	folded string
	start  int
	end    int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r)
}

func tokenize(s string) []token {
	var out []token
	runes := []rune(s)
	start := -1
	for i, r := range runes {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, newToken(runes, start, i))
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, newToken(runes, start, len(runes)))
	}
	return out
}

func newToken(runes []rune, start, end int) token {
	text := string(runes[start:end])
	return token{text: text, folded: embedding.Fold(text), start: start, end: end}
}

// normalize lowercases, replaces punctuation other than apostrophes and
// hyphens with spaces and collapses whitespace. Rules match against it.
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if r == '\'' || r == '’' {
			return '\''
		}
		if r == '-' {
			return r
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, strings.ToLower(s))
	return strings.Join(strings.Fields(mapped), " ")
}

// spanOf builds a Span over runes [start,end) of the original utterance.
func spanOf(runes []rune, start, end int) models.Span {
	start = max(start, 0)
	end = min(end, len(runes))
	return models.Span{Start: start, End: end, Text: string(runes[start:end])}
}

func overlaps(a, b models.Span) bool {
	return a.Start < b.End && b.Start < a.End
}

func overlapsAny(s models.Span, taken []models.Span) bool {
	for _, t := range taken {
		if overlaps(s, t) {
			return true
		}
	}
	return false
}
