package nlu

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"un": 1, "une": 1, "deux": 2, "trois": 3, "quatre": 4, "cinq": 5, "sept": 7, "huit": 8, "dix": 10,
	"zwei": 2, "drei": 3, "vier": 4, "fünf": 5,
	"dos": 2, "tres": 3, "cuatro": 4, "cinco": 5,
	"a couple": 2, "couple": 2,
}

const numAlt = `\d{1,3}|[٠-٩]{1,3}|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|deux|trois|quatre|cinq|sept|huit|dix|zwei|drei|vier|fünf|dos|tres|cuatro|cinco`

var (
	isoRangeRe = regexp.MustCompile(`(?:from|du|between|vom|del)\s+(\d{4}-\d{2}-\d{2})\s+(?:to|au|and|until|till|bis|al|-)\s+(\d{4}-\d{2}-\d{2})`)
	isoDateRe  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	relDayRe   = regexp.MustCompile(`\b(day after tomorrow|après-demain|aujourd'hui|today|tonight|tomorrow|ce soir|demain|heute|morgen|pasado mañana|hoy|mañana)\b`)
	arRelDayRe = regexp.MustCompile(`(بعد غد|غداً|غدا|الليلة|اليوم)`)
	weekendRe  = regexp.MustCompile(`\b(next |this )?(weekend|week-end|wochenende|fin de semana)\b`)
	nextWeekRe = regexp.MustCompile(`\b(next week|la semaine prochaine|nächste woche|la próxima semana)\b`)
	inDaysRe   = regexp.MustCompile(`\b(?:in|dans)\s+(\d{1,2})\s+(?:days?|jours)\b`)
	durationRe = regexp.MustCompile(`\b(?:for|pendant|für|durante)\s+(` + numAlt + `)\s+(?:days?|nights?|jours|nuits|tage|días|noches)\b`)
	weekdayRe  = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	monthDayRe = regexp.MustCompile(`\b(?:(\d{1,2})\s+(january|february|march|april|may|june|july|august|september|october|november|december)|(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2}))\b`)

	partyRe   = regexp.MustCompile(`\b(?:for|party of|group of|we are|we're|pour|für|para)\s+(` + numAlt + `)(\s+(?:people|persons|person|adults|guests|travelers|travellers|of us|pax|personnes|personen|personas))?(\s+(?:days?|nights?|jours|nuits|tage|días|noches))?\b`)
	countRe   = regexp.MustCompile(`\b(` + numAlt + `|a couple)\s+(?:people|persons|adults|guests|travelers|travellers|pax|personnes|personen|personas)\b`)
	arCountRe = regexp.MustCompile(`([0-9٠-٩]{1,3})\s*(?:أشخاص|شخص|أفراد)`)
	arTwoRe   = regexp.MustCompile(`(لشخصين|شخصين)`)
	bareNumRe = regexp.MustCompile(`^\s*([0-9٠-٩]{1,3})\s*$`)

	priceRes = []struct {
		band string
		re   *regexp.Regexp
	}{
		{models.PriceLuxury, regexp.MustCompile(`\b(luxury|luxurious|upscale|high-end|five[- ]star|5[- ]star|fancy|luxe|luxus)\b|فاخر`)},
		{models.PriceBudget, regexp.MustCompile(`\b(cheap|cheapest|budget|affordable|inexpensive|low-cost|pas cher|günstig|barato)\b|bon marché|économique|رخيص|اقتصادي`)},
		{models.PriceMid, regexp.MustCompile(`\b(mid-range|midrange|mid range|moderate|moderately priced|mid-priced|milieu de gamme|moyen de gamme)\b|متوسط`)},
	}
)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March, "april": time.April,
	"may": time.May, "june": time.June, "july": time.July, "august": time.August,
	"september": time.September, "october": time.October, "november": time.November, "december": time.December,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// extractor pulls dates, party sizes and price bands out of an utterance.
type extractor struct {
	now func() time.Time
}

type match struct {
	span  models.Span
	start time.Time
	end   time.Time
}

func (x extractor) extract(utterance string) []models.Entity {
	low := strings.ToLower(utterance)
	runes := []rune(utterance)
	var out []models.Entity
	var taken []models.Span

	if e, ok := x.dateRange(low, runes); ok {
		out = append(out, e)
		taken = append(taken, e.Span)
	}
	for _, e := range partySizes(low, runes) {
		if !overlapsAny(e.Span, taken) {
			out = append(out, e)
			taken = append(taken, e.Span)
			break
		}
	}
	for _, p := range priceRes {
		loc := p.re.FindStringIndex(low)
		if loc == nil {
			continue
		}
		s := runeSpan(low, runes, loc[0], loc[1])
		if overlapsAny(s, taken) {
			continue
		}
		out = append(out, models.Entity{Type: models.EntityPriceBand, Value: p.band, Span: s, Confidence: 0.85})
		taken = append(taken, s)
		break
	}
	return out
}

func (x extractor) today() time.Time {
	n := x.now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, n.Location())
}

// dateRange combines at most one start expression with an optional duration.
func (x extractor) dateRange(low string, runes []rune) (models.Entity, bool) {
	today := x.today()

	if m := isoRangeRe.FindStringSubmatchIndex(low); m != nil {
		start, err1 := time.ParseInLocation(models.DateLayout, low[m[2]:m[3]], today.Location())
		end, err2 := time.ParseInLocation(models.DateLayout, low[m[4]:m[5]], today.Location())
		if err1 == nil && err2 == nil && !end.Before(start) {
			return dateEntity(start, end, runeSpan(low, runes, m[0], m[1]), 0.95), true
		}
	}

	starts := x.startMatches(low, runes, today)
	dur, durSpan, hasDur := duration(low, runes)

	if len(starts) == 0 && !hasDur {
		return models.Entity{}, false
	}
	var m match
	if len(starts) > 0 {
		m = starts[0]
	} else {
		m = match{span: durSpan, start: today, end: today}
	}
	if hasDur {
		m.end = m.start.AddDate(0, 0, dur-1)
		m.span = unionSpan(runes, m.span, durSpan)
	}
	return dateEntity(m.start, m.end, m.span, 0.9), true
}

func (x extractor) startMatches(low string, runes []rune, today time.Time) []match {
	var out []match
	add := func(loc []int, start, end time.Time) {
		out = append(out, match{span: runeSpan(low, runes, loc[0], loc[1]), start: start, end: end})
	}

	if loc := isoDateRe.FindStringSubmatchIndex(low); loc != nil {
		if d, err := time.ParseInLocation(models.DateLayout, low[loc[2]:loc[3]], today.Location()); err == nil {
			add(loc, d, d)
		}
	}
	if loc := relDayRe.FindStringSubmatchIndex(low); loc != nil {
		d := today.AddDate(0, 0, relativeOffset(low[loc[2]:loc[3]]))
		add(loc, d, d)
	}
	if loc := arRelDayRe.FindStringSubmatchIndex(low); loc != nil {
		d := today.AddDate(0, 0, relativeOffset(low[loc[2]:loc[3]]))
		add(loc, d, d)
	}
	if loc := weekendRe.FindStringSubmatchIndex(low); loc != nil {
		sat := nextWeekday(today, time.Saturday, true)
		if today.Weekday() == time.Sunday {
			sat = today.AddDate(0, 0, -1)
		}
		if loc[2] >= 0 && strings.TrimSpace(low[loc[2]:loc[3]]) == "next" {
			sat = sat.AddDate(0, 0, 7)
		}
		start := sat
		if start.Before(today) {
			start = today
		}
		add(loc, start, sat.AddDate(0, 0, 1))
	}
	if loc := nextWeekRe.FindStringIndex(low); loc != nil {
		mon := nextWeekday(today, time.Monday, false)
		add(loc, mon, mon.AddDate(0, 0, 6))
	}
	if loc := inDaysRe.FindStringSubmatchIndex(low); loc != nil {
		n := parseNumber(low[loc[2]:loc[3]])
		d := today.AddDate(0, 0, n)
		add(loc, d, d)
	}
	if loc := weekdayRe.FindStringSubmatchIndex(low); loc != nil {
		d := nextWeekday(today, weekdays[low[loc[2]:loc[3]]], true)
		add(loc, d, d)
	}
	if loc := monthDayRe.FindStringSubmatchIndex(low); loc != nil {
		dayStr, monStr := "", ""
		if loc[2] >= 0 {
			dayStr, monStr = low[loc[2]:loc[3]], low[loc[4]:loc[5]]
		} else {
			monStr, dayStr = low[loc[6]:loc[7]], low[loc[8]:loc[9]]
		}
		day := parseNumber(dayStr)
		if day >= 1 && day <= 31 {
			d := time.Date(today.Year(), months[monStr], day, 0, 0, 0, 0, today.Location())
			if d.Before(today) {
				d = d.AddDate(1, 0, 0)
			}
			add(loc, d, d)
		}
	}

	// Earliest mention wins.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].span.Start < out[j-1].span.Start; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func relativeOffset(word string) int {
	switch word {
	case "tomorrow", "demain", "morgen", "mañana", "غدا", "غداً":
		return 1
	case "day after tomorrow", "après-demain", "pasado mañana", "بعد غد":
		return 2
	default:
		return 0
	}
}

// nextWeekday returns the next date falling on wd. includeToday allows
// today itself.
func nextWeekday(today time.Time, wd time.Weekday, includeToday bool) time.Time {
	diff := (int(wd) - int(today.Weekday()) + 7) % 7
	if diff == 0 && !includeToday {
		diff = 7
	}
	return today.AddDate(0, 0, diff)
}

func duration(low string, runes []rune) (int, models.Span, bool) {
	loc := durationRe.FindStringSubmatchIndex(low)
	if loc == nil {
		return 0, models.Span{}, false
	}
	n := parseNumber(low[loc[2]:loc[3]])
	if n < 1 || n > 60 {
		return 0, models.Span{}, false
	}
	return n, runeSpan(low, runes, loc[0], loc[1]), true
}

func dateEntity(start, end time.Time, s models.Span, conf float64) models.Entity {
	return models.Entity{
		Type:       models.EntityDateRange,
		Value:      models.FormatDateRange(start, end),
		Span:       s,
		Confidence: conf,
	}
}

func partySizes(low string, runes []rune) []models.Entity {
	var out []models.Entity
	add := func(loc []int, num string, conf float64) {
		n := parseNumber(num)
		if n <= 0 {
			return
		}
		out = append(out, models.Entity{
			Type:       models.EntityPartySize,
			Value:      fmt.Sprint(n),
			Span:       runeSpan(low, runes, loc[0], loc[1]),
			Confidence: conf,
		})
	}

	for _, loc := range partyRe.FindAllStringSubmatchIndex(low, -1) {
		if loc[6] >= 0 {
			continue // "for 3 days" is a duration
		}
		conf := 0.7
		if loc[4] >= 0 {
			conf = 0.9
		}
		add(loc, low[loc[2]:loc[3]], conf)
	}
	for _, loc := range countRe.FindAllStringSubmatchIndex(low, -1) {
		add(loc, low[loc[2]:loc[3]], 0.9)
	}
	for _, loc := range arCountRe.FindAllStringSubmatchIndex(low, -1) {
		add(loc, low[loc[2]:loc[3]], 0.9)
	}
	if loc := arTwoRe.FindStringIndex(low); loc != nil {
		add([]int{loc[0], loc[1]}, "2", 0.9)
	}
	if loc := bareNumRe.FindStringSubmatchIndex(low); loc != nil {
		add([]int{loc[2], loc[3]}, low[loc[2]:loc[3]], 0.6)
	}
	return out
}

// parseNumber reads ASCII or Arabic-Indic digits or a number word. It
// returns 0 when s is not a number.
func parseNumber(s string) int {
	s = strings.TrimSpace(s)
	if n, ok := numberWords[s]; ok {
		return n
	}
	n := 0
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return 0
		}
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
		case r >= '٠' && r <= '٩':
			n = n*10 + int(r-'٠')
		default:
			return 0
		}
	}
	return n
}

// runeSpan converts byte offsets in low to rune offsets in the original.
func runeSpan(low string, runes []rune, from, to int) models.Span {
	return spanOf(runes, utf8.RuneCountInString(low[:from]), utf8.RuneCountInString(low[:to]))
}

func unionSpan(runes []rune, a, b models.Span) models.Span {
	return spanOf(runes, min(a.Start, b.Start), max(a.End, b.End))
}
