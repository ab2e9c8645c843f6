package nlu

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// maxNGram is the longest name, in words, the matcher looks for.
const maxNGram = 4

// exactOnlyLen is the folded length at or below which only exact matches
// count; short words are too easy to confuse.
const exactOnlyLen = 4

type gazEntry struct {
	models.GazetteerEntry
	folded string
}

// matcher finds gazetteer names in utterances, tolerating misspellings.
type matcher struct {
	threshold float64
	byLen     map[int][]gazEntry
}

func newMatcher(g models.Gazetteer, threshold float64) *matcher {
	m := &matcher{threshold: threshold, byLen: map[int][]gazEntry{}}
	for _, e := range g.Entries {
		words := embedding.Tokens(e.Name)
		if len(words) == 0 || len(words) > maxNGram {
			continue
		}
		m.byLen[len(words)] = append(m.byLen[len(words)], gazEntry{GazetteerEntry: e, folded: strings.Join(words, " ")})
	}
	return m
}

// similarity is 1 - normalized edit distance over runes.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest <= exactOnlyLen {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

type candidate struct {
	entry gazEntry
	score float64
}

// find returns entities for every non-overlapping name found, longest
// names first. When several distinct records tie for the best score on the
// same words, each is returned flagged Ambiguous.
func (m *matcher) find(utterance string) []models.Entity {
	if m == nil {
		return nil
	}
	tokens := tokenize(utterance)
	runes := []rune(utterance)
	var out []models.Entity
	var taken []models.Span

	for n := min(maxNGram, len(tokens)); n >= 1; n-- {
		entries := m.byLen[n]
		if len(entries) == 0 {
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			s := spanOf(runes, tokens[i].start, tokens[i+n-1].end)
			if overlapsAny(s, taken) {
				continue
			}
			words := make([]string, n)
			for k := range n {
				words[k] = tokens[i+k].folded
			}
			best := m.best(strings.Join(words, " "), entries)
			if len(best) == 0 {
				continue
			}
			taken = append(taken, s)
			out = append(out, toEntities(best, s)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}

func (m *matcher) best(phrase string, entries []gazEntry) []candidate {
	var best []candidate
	top := 0.0
	for _, e := range entries {
		score := similarity(phrase, e.folded)
		if score < m.threshold {
			continue
		}
		switch {
		case score > top+1e-9:
			top = score
			best = []candidate{{entry: e, score: score}}
		case score > top-1e-9:
			best = append(best, candidate{entry: e, score: score})
		}
	}
	return dedupe(best)
}

// dedupe collapses aliases of the same target (one record named in two
// languages, or a city listed twice).
func dedupe(cands []candidate) []candidate {
	seen := map[string]bool{}
	out := cands[:0]
	for _, c := range cands {
		key := string(c.entry.Type) + "|" + c.entry.RecordID + "|" + strings.ToLower(c.entry.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func toEntities(cands []candidate, s models.Span) []models.Entity {
	ambiguous := len(cands) > 1
	out := make([]models.Entity, 0, len(cands))
	for _, c := range cands {
		conf := 0.99
		if c.score < 1 {
			conf = 0.9 * c.score
		}
		if ambiguous {
			conf *= 0.8
		}
		out = append(out, models.Entity{
			Type:       c.entry.Type,
			Value:      c.entry.Value,
			Span:       s,
			Confidence: conf,
			RecordID:   c.entry.RecordID,
			Ambiguous:  ambiguous,
		})
	}
	return out
}
