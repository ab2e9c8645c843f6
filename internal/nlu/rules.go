package nlu

import (
	"regexp"
	"sort"

	"github.com/raphaelgruber/wayfarer/internal/intents"
)

// rule is an anchored pattern for a canonical phrasing.
type rule struct {
	intent     string
	lang       string
	re         *regexp.Regexp
	confidence float64
}

// compileRules flattens catalog rules in catalog order, languages sorted.
// Patterns were validated when the catalog was parsed.
func compileRules(c *intents.Catalog) []rule {
	var out []rule
	for _, in := range c.Intents() {
		langs := make([]string, 0, len(in.Rules))
		for lang := range in.Rules {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			for _, p := range in.Rules[lang] {
				out = append(out, rule{
					intent:     in.ID,
					lang:       lang,
					re:         regexp.MustCompile(p),
					confidence: in.RuleConfidence,
				})
			}
		}
	}
	return out
}

// matchRule tries rules of lang first, then every other language, so a
// greeting typed in a language the detector could not pin down still hits.
func matchRule(rules []rule, text, lang string) (rule, bool) {
	if text == "" {
		return rule{}, false
	}
	for _, r := range rules {
		if r.lang == lang && r.re.MatchString(text) {
			return r, true
		}
	}
	for _, r := range rules {
		if r.lang != lang && r.re.MatchString(text) {
			return r, true
		}
	}
	return rule{}, false
}
