// Package langdetect classifies the language of short chat utterances.
//
// Detection is pure: script classification over Unicode ranges, then
// stop-word and diacritic profiles to separate Latin-script languages.
package langdetect

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Unknown is returned when no language can be determined.
const Unknown = "unknown"

// Detection is the result of classifying one utterance.
type Detection struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
	// Fallback is true when the code came from the previous or default
	// language rather than from the text itself.
	Fallback bool `json:"fallback"`
}

// Detector holds the thresholds used by Detect. The zero value is not
// usable; use New.
type Detector struct {
	defaultLang    string
	minLetters     int
	mixedThreshold float64
}

// Option configures a Detector.
type Option func(*Detector)

// WithMinLetters sets the letter count below which input is treated as too
// short to classify.
func WithMinLetters(n int) Option {
	return func(d *Detector) { d.minLetters = n }
}

// New creates a detector falling back to defaultLang.
func New(defaultLang string, opts ...Option) *Detector {
	d := &Detector{
		defaultLang:    Canonical(defaultLang),
		minLetters:     4,
		mixedThreshold: 0.3,
	}
	if d.defaultLang == Unknown {
		d.defaultLang = "en"
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Canonical normalizes a language tag to its base ISO 639-1 code
// ("en-GB" -> "en"). Unparseable tags map to Unknown.
func Canonical(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == Unknown || tag == "und" {
		return Unknown
	}
	t, err := language.Parse(tag)
	if err != nil {
		return Unknown
	}
	base, conf := t.Base()
	if conf == language.No {
		return Unknown
	}
	return base.String()
}

// Detect classifies text. previous is the session's earlier language (may be
// empty) and is used for short or mixed-script input. Detect never fails.
func (d *Detector) Detect(text, previous string) Detection {
	counts, letters := scriptCounts(text)
	if letters == 0 {
		if strings.TrimSpace(text) == "" {
			return Detection{Code: Unknown}
		}
		return d.fallback(previous)
	}

	dominant, second := topTwo(counts)
	if float64(counts[second])/float64(letters) > d.mixedThreshold {
		return d.fallback(previous)
	}

	share := float64(counts[dominant]) / float64(letters)
	if dominant != scriptLatin {
		code := scriptLanguage[dominant]
		if letters < 2 || code == Unknown {
			return d.fallback(previous)
		}
		return Detection{Code: code, Confidence: round2(0.6 + 0.39*share)}
	}

	words := tokenize(text)
	code, score := latinProfile(words)
	if letters < d.minLetters || (code == "" && len(words) < 2) {
		if code != "" && score >= 2 {
			return Detection{Code: code, Confidence: 0.6}
		}
		return d.fallback(previous)
	}
	if code == "" {
		// Latin text without a profile hit: most likely English.
		return Detection{Code: "en", Confidence: 0.5}
	}
	conf := 0.55 + 0.1*float64(score)
	if conf > 0.98 {
		conf = 0.98
	}
	return Detection{Code: code, Confidence: round2(conf * share)}
}

func (d *Detector) fallback(previous string) Detection {
	if p := Canonical(previous); p != Unknown {
		return Detection{Code: p, Confidence: 0.5, Fallback: true}
	}
	return Detection{Code: d.defaultLang, Confidence: 0.3, Fallback: true}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}
