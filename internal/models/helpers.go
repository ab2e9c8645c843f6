// Package models defines the data structures shared by the Wayfarer pipeline.
package models

import (
	"strings"
	"unicode"
)

// Slugify converts a display name into a lowercase ASCII id segment.
// Spaces and underscores become hyphens, other non-alphanumerics are dropped.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r == ' ' || r == '_' || r == '-':
			b.WriteByte('-')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		}
	}
	return b.String()
}
