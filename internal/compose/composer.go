// Package compose renders assistant responses from dialog actions,
// retrieved records and capability outcomes.
package compose

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/models"
	"github.com/raphaelgruber/wayfarer/internal/services"
)

// Response is a rendered reply. Language is the language Text is written
// in; it differs from the requested language when the catalog has no
// native templates for it.
type Response struct {
	Text        string
	Suggestions []string
	Media       []models.Media
	Degraded    bool
	Language    string
}

// Input is everything one response is built from.
type Input struct {
	Action   models.DialogAction
	Language string
	// Results are the ranked records for search answers.
	Results []models.ScoredRecord
	// Dropped lists filters relaxed to obtain Results.
	Dropped []string
	// Record is the looked-up record for lookup answers; nil when absent.
	Record *models.Record
	// Outcomes holds capability results keyed by capability name.
	Outcomes map[string]services.Outcome
	// RetrievalFailed marks an answer whose grounding data could not be
	// loaded.
	RetrievalFailed bool
}

type item struct {
	ID          string
	Name        string
	City        string
	Category    string
	PriceBand   string
	Description string
	Rating      float64
}

// view is the data every template is executed with.
type view struct {
	Intent  string
	Slot    string
	Value   string
	Options []string
	Slots   map[string]string
	City    string
	Class   string
	Items   []item
	Dropped []string
	Record  *item
	Weather *services.WeatherReport
}

// Composer renders responses. It is safe for concurrent use.
type Composer struct {
	catalog *Catalog
	logger  *slog.Logger
}

// New creates a composer over catalog.
func New(catalog *Catalog, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = config.Discard()
	}
	return &Composer{catalog: catalog, logger: logger}
}

// Supports reports whether lang is rendered natively.
func (c *Composer) Supports(lang string) bool {
	return c.catalog.Supports(lang)
}

// Canned renders the fixed reply of a zero-slot intent. Both the fast path
// and the full path answer canned intents through here.
func (c *Composer) Canned(intent, lang string) (Response, bool) {
	key := "canned." + intent
	if !c.catalog.Has(key) {
		return Response{}, false
	}
	lang = c.renderLanguage(lang)
	return Response{
		Text:        c.text(key, lang, view{Intent: intent}),
		Suggestions: c.catalog.suggestionsFor(key, lang),
		Media:       []models.Media{},
		Language:    lang,
	}, true
}

// Apology is the degraded reply used when a turn cannot be answered.
func (c *Composer) Apology(lang string) Response {
	lang = c.renderLanguage(lang)
	return Response{
		Text:        c.text(keyApology, lang, view{}),
		Suggestions: c.catalog.suggestionsFor(keyApology, lang),
		Media:       []models.Media{},
		Degraded:    true,
		Language:    lang,
	}
}

// Compose renders the response for one dialog action.
func (c *Composer) Compose(in Input) Response {
	lang := c.renderLanguage(in.Language)
	a := in.Action
	v := view{
		Intent:  a.Intent,
		Slot:    a.Slot,
		Value:   a.Value,
		Options: a.Options,
		Slots:   a.Slots,
		City:    a.Slots["city"],
	}
	resp := Response{Media: []models.Media{}, Language: lang, Degraded: anyDegraded(in.Outcomes)}

	switch a.Kind {
	case models.ActionAskSlot:
		var parts []string
		if a.Reason != "" && c.catalog.Has("reason."+a.Reason) {
			parts = append(parts, c.text("reason."+a.Reason, lang, v))
		}
		key := "ask." + a.Slot
		if !c.catalog.Has(key) {
			key = keyAskDefault
		}
		resp.Text = strings.Join(append(parts, c.text(key, lang, v)), " ")
		resp.Suggestions = c.catalog.suggestionsFor(key, lang)

	case models.ActionConfirm:
		key := "confirm." + a.Slot
		if !c.catalog.Has(key) {
			key = keyConfirmDefault
		}
		resp.Text = c.text(key, lang, v)
		resp.Suggestions = c.catalog.suggestionsFor(keyConfirm, lang)

	case models.ActionClarify:
		resp.Text = c.text(keyClarify, lang, v)
		resp.Suggestions = append([]string{}, a.Options...)

	case models.ActionAnswer:
		if canned, ok := c.Canned(a.Intent, in.Language); ok {
			canned.Degraded = resp.Degraded
			return canned
		}
		if in.RetrievalFailed {
			return c.Apology(in.Language)
		}
		c.answer(&resp, in, v)

	default:
		c.fallback(&resp, in, v)
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	return resp
}

func (c *Composer) answer(resp *Response, in Input, v view) {
	lang := resp.Language
	a := in.Action
	var parts []string

	switch s := a.Search; {
	case s != nil && s.RecordID != "":
		if in.Record == nil {
			parts = append(parts, c.text(keyLookupMissing, lang, v))
			break
		}
		it := toItem(*in.Record, lang)
		v.Record = &it
		parts = append(parts, c.text(keyLookup, lang, v))
		resp.Media = media(*in.Record, lang)

	case s != nil:
		v.Class = string(s.Class)
		for _, r := range in.Results {
			v.Items = append(v.Items, toItem(r.Record, lang))
		}
		if len(v.Items) == 0 {
			parts = append(parts, c.text(keyEmpty, lang, v))
			break
		}
		if len(in.Dropped) > 0 && c.catalog.Has(keyRelaxed) {
			v.Dropped = in.Dropped
			parts = append(parts, c.text(keyRelaxed, lang, v))
		}
		parts = append(parts, c.text(keyResults, lang, v))
		resp.Media = media(in.Results[0].Record, lang)

	case c.catalog.Has("answer." + a.Intent):
		parts = append(parts, c.text("answer."+a.Intent, lang, v))
	}

	out, called := in.Outcomes[services.Weather]
	report, ok := out.Value.(services.WeatherReport)
	switch {
	case called && ok && !out.Degraded:
		v.Weather = &report
		parts = append(parts, c.text(keyWeatherReport, lang, v))
	case a.Search == nil && slices.Contains(a.Capabilities, services.Weather):
		// Weather is the answer itself, so say it is missing.
		parts = append(parts, c.text(keyWeatherUnavailable, lang, v))
	}

	if len(parts) == 0 {
		c.fallback(resp, in, v)
		return
	}
	resp.Text = strings.Join(parts, "\n")
	resp.Suggestions = c.catalog.suggestionsFor("answer."+a.Intent, lang)
}

// fallback prefers a generated reply and otherwise renders the fixed
// fallback message.
func (c *Composer) fallback(resp *Response, in Input, v view) {
	resp.Suggestions = c.catalog.suggestionsFor(keyFallback, resp.Language)
	if out, ok := in.Outcomes[services.Generate]; ok && !out.Degraded {
		if g, ok := out.Value.(services.Generation); ok && g.Text != "" {
			resp.Text = g.Text
			// Generated text is written in the requested language.
			if in.Language != "" {
				resp.Language = in.Language
			}
			return
		}
	}
	resp.Text = c.text(keyFallback, resp.Language, v)
}

// text renders key and falls back to the English fallback message if
// rendering fails.
func (c *Composer) text(key, lang string, v view) string {
	s, err := c.catalog.render(key, lang, v)
	if err == nil {
		return s
	}
	c.logger.Error("render response", "key", key, "language", lang, "error", err)
	s, err = c.catalog.render(keyFallback, "en", view{})
	if err != nil {
		return "Sorry, something went wrong."
	}
	return s
}

func (c *Composer) renderLanguage(lang string) string {
	if c.catalog.Supports(lang) {
		return lang
	}
	return "en"
}

func anyDegraded(outcomes map[string]services.Outcome) bool {
	for _, o := range outcomes {
		if o.Degraded {
			return true
		}
	}
	return false
}

func toItem(r models.Record, lang string) item {
	return item{
		ID:          r.ID,
		Name:        r.Name.In(lang),
		City:        r.City,
		Category:    r.Category,
		PriceBand:   r.PriceBand,
		Description: r.Description.In(lang),
		Rating:      r.Rating,
	}
}

// media attaches the record's image and an OpenStreetMap link.
func media(r models.Record, lang string) []models.Media {
	out := []models.Media{}
	name := r.Name.In(lang)
	if r.ImageURL != "" {
		out = append(out, models.Media{Kind: models.MediaImage, URL: r.ImageURL, Caption: name})
	}
	if !r.Location.IsZero() {
		out = append(out, models.Media{Kind: models.MediaMap, URL: MapURL(r.Location), Caption: name})
	}
	return out
}

// MapURL links to an OpenStreetMap view centred on p.
func MapURL(p models.GeoPoint) string {
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%.5f&mlon=%.5f#map=16/%.5f/%.5f", p.Lat, p.Lon, p.Lat, p.Lon)
}
