package langdetect

import "unicode"

type script int

const (
	scriptLatin script = iota
	scriptArabic
	scriptCyrillic
	scriptGreek
	scriptHebrew
	scriptHan
	scriptKana
	scriptHangul
	scriptDevanagari
	scriptOther
	numScripts
)

var scriptLanguage = map[script]string{
	scriptArabic:     "ar",
	scriptCyrillic:   "ru",
	scriptGreek:      "el",
	scriptHebrew:     "he",
	scriptHan:        "zh",
	scriptKana:       "ja",
	scriptHangul:     "ko",
	scriptDevanagari: "hi",
	scriptOther:      Unknown,
}

func classify(r rune) script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return scriptLatin
	case unicode.Is(unicode.Arabic, r):
		return scriptArabic
	case unicode.Is(unicode.Cyrillic, r):
		return scriptCyrillic
	case unicode.Is(unicode.Greek, r):
		return scriptGreek
	case unicode.Is(unicode.Hebrew, r):
		return scriptHebrew
	case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
		return scriptKana
	case unicode.Is(unicode.Han, r):
		return scriptHan
	case unicode.Is(unicode.Hangul, r):
		return scriptHangul
	case unicode.Is(unicode.Devanagari, r):
		return scriptDevanagari
	default:
		return scriptOther
	}
}

// scriptCounts tallies letters per script.
func scriptCounts(text string) ([numScripts]int, int) {
	var counts [numScripts]int
	total := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		counts[classify(r)]++
		total++
	}
	// Japanese text mixes kana with kanji; attribute Han to Japanese when
	// any kana is present.
	if counts[scriptKana] > 0 && counts[scriptHan] > 0 {
		counts[scriptKana] += counts[scriptHan]
		counts[scriptHan] = 0
	}
	return counts, total
}

func topTwo(counts [numScripts]int) (script, script) {
	first, second := scriptLatin, scriptOther
	firstN, secondN := -1, -1
	for s := script(0); s < numScripts; s++ {
		n := counts[s]
		switch {
		case n > firstN:
			second, secondN = first, firstN
			first, firstN = s, n
		case n > secondN:
			second, secondN = s, n
		}
	}
	return first, second
}
