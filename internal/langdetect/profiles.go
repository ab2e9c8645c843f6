package langdetect

import (
	"sort"
	"strings"
)

// Stop words and greetings typical of each Latin-script language. Words that
// are common to several languages are left out to keep profiles separable.
var latinProfiles = map[string][]string{
	"en": {"the", "and", "is", "are", "what", "where", "how", "hi", "hello", "hey", "thanks", "thank", "you",
		"please", "want", "show", "find", "hotel", "hotels", "near", "i", "me", "my", "to", "in", "of",
		"bye", "goodbye", "yes", "no", "book", "tour", "weather", "restaurants", "good", "morning", "with", "for"},
	"fr": {"le", "la", "les", "et", "est", "où", "je", "bonjour", "salut", "merci", "voudrais", "veux",
		"un", "une", "des", "du", "au", "aux", "pour", "avec", "quel", "quelle", "oui", "non", "s'il",
		"plaît", "réserver", "visite", "météo", "hôtel", "hôtels", "près", "au revoir", "bonsoir"},
	"de": {"der", "die", "das", "und", "ist", "wo", "ich", "hallo", "danke", "bitte", "möchte", "ein",
		"eine", "mit", "für", "nicht", "ja", "nein", "guten", "tag", "wetter", "buchen", "zeig", "mir", "tschüss"},
	"es": {"el", "los", "las", "y", "es", "dónde", "donde", "yo", "hola", "gracias", "quiero", "una",
		"con", "para", "qué", "sí", "por", "favor", "adiós", "buenos", "días", "reservar", "tiempo", "cerca"},
	"it": {"il", "gli", "che", "è", "dove", "io", "ciao", "grazie", "voglio", "una", "con", "per",
		"sì", "prenotare", "tempo", "vicino", "buongiorno", "arrivederci", "vorrei"},
}

var profileIndex = buildProfileIndex()

func buildProfileIndex() map[string][]string {
	idx := make(map[string][]string)
	for lang, words := range latinProfiles {
		for _, w := range words {
			idx[w] = append(idx[w], lang)
		}
	}
	for w := range idx {
		sort.Strings(idx[w])
	}
	return idx
}

// diacriticHints add weight for characters strongly tied to one language.
var diacriticHints = map[rune]string{
	'ß': "de", 'ä': "de", 'ö': "de", 'ü': "de",
	'ç': "fr", 'ê': "fr", 'è': "fr", 'à': "fr", 'ù': "fr", 'œ': "fr", 'â': "fr", 'î': "fr", 'ô': "fr",
	'ñ': "es", '¿': "es", '¡': "es", 'á': "es", 'í': "es", 'ó': "es", 'ú': "es",
	'ì': "it", 'ò': "it",
}

// latinProfile returns the best-scoring language and its hit count. Ties and
// zero hits return "".
func latinProfile(words []string) (string, int) {
	scores := map[string]int{}
	for _, w := range words {
		for _, lang := range profileIndex[w] {
			scores[lang]++
		}
		for _, r := range w {
			if lang, ok := diacriticHints[r]; ok {
				scores[lang]++
			}
		}
	}
	// Two-word phrases ("au revoir") live in the profiles too.
	joined := strings.Join(words, " ")
	for lang, entries := range latinProfiles {
		for _, e := range entries {
			if strings.Contains(e, " ") && strings.Contains(joined, e) {
				scores[lang] += 2
			}
		}
	}

	best, bestN, tie := "", 0, false
	langs := make([]string, 0, len(scores))
	for lang := range scores {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		n := scores[lang]
		switch {
		case n > bestN:
			best, bestN, tie = lang, n, false
		case n == bestN && n > 0:
			tie = true
		}
	}
	if tie {
		if scores["en"] == bestN {
			return "en", bestN
		}
		return "", 0
	}
	return best, bestN
}
