package knowledge

import (
	"cmp"
	"slices"
	"strings"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// Weights blends keyword and vector scores.
type Weights struct {
	Keyword float64
	Vector  float64
}

// stopwords are dropped from queries before keyword matching.
var stopwords = map[string]bool{
	// en
	"a": true, "an": true, "the": true, "in": true, "at": true, "of": true, "to": true,
	"for": true, "me": true, "my": true, "i": true, "we": true, "is": true, "are": true,
	"show": true, "find": true, "any": true, "some": true, "please": true, "what": true,
	"where": true, "which": true, "want": true, "like": true, "near": true, "around": true,
	"good": true, "best": true, "can": true, "you": true, "and": true, "or": true,
	"there": true, "visit": true, "see": true, "recommend": true,
	// fr
	"le": true, "la": true, "les": true, "un": true, "une": true, "des": true, "du": true,
	"de": true, "au": true, "aux": true, "dans": true, "je": true, "veux": true,
	"voir": true, "quels": true, "quel": true, "quelles": true, "il": true, "y": true,
	// es / de
	"el": true, "los": true, "las": true, "en": true, "que": true, "der": true,
	"die": true, "das": true, "und": true, "im": true,
	// ar
	"في": true, "من": true, "الى": true, "على": true, "ما": true, "هي": true,
	"اريد": true,
}

func stem(t string) string {
	if len(t) > 4 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
		return strings.TrimSuffix(t, "s")
	}
	return t
}

// queryTerms returns the distinct stemmed content words of q.
func queryTerms(q string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range embedding.Tokens(q) {
		if stopwords[t] {
			continue
		}
		t = stem(t)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// recordTerms is the bag of stemmed words a record can be matched on.
func recordTerms(r models.Record) map[string]bool {
	terms := map[string]bool{}
	add := func(s string) {
		for _, t := range embedding.Tokens(s) {
			terms[stem(t)] = true
		}
	}
	for _, s := range r.Name {
		add(s)
	}
	for _, s := range r.Description {
		add(s)
	}
	add(r.Category)
	add(r.City)
	return terms
}

// keywordScore is the fraction of query terms present in the record, in
// [0,1]. When filters were applied every candidate already matched them,
// so the overlap is lifted into [0.5,1].
func keywordScore(terms []string, r models.Record, filtered bool) float64 {
	overlap := 0.0
	if len(terms) > 0 {
		have := recordTerms(r)
		n := 0
		for _, t := range terms {
			if have[t] {
				n++
			}
		}
		overlap = float64(n) / float64(len(terms))
	}
	if filtered {
		return (1 + overlap) / 2
	}
	return overlap
}

// rank blends scores and orders by descending score, then id ascending.
func rank(candidates []models.Record, terms []string, sims map[string]float64, filtered bool, w Weights) []models.ScoredRecord {
	out := make([]models.ScoredRecord, 0, len(candidates))
	for _, r := range candidates {
		kw := keywordScore(terms, r, filtered)
		vs := max(0, min(1, sims[r.ID]))
		r.Embedding = nil
		out = append(out, models.ScoredRecord{
			Record:       r,
			Score:        w.Keyword*kw + w.Vector*vs,
			KeywordScore: kw,
			VectorScore:  vs,
		})
	}
	slices.SortStableFunc(out, func(a, b models.ScoredRecord) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Record.ID, b.Record.ID)
	})
	return out
}
