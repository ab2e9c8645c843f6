package compose

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/wayfarer/internal/services"
)

//go:embed templates.yaml
var defaultTemplates []byte

// ErrInvalidTemplates is returned when a template catalog fails validation.
var ErrInvalidTemplates = errors.New("invalid response templates")

// Message keys every catalog must define in English.
var requiredKeys = []string{
	keyFallback, keyApology, keyAskDefault, keyConfirmDefault, keyClarify,
	keyResults, keyEmpty, keyLookup, keyLookupMissing,
	keyWeatherReport, keyWeatherUnavailable,
}

const (
	keyFallback           = "fallback"
	keyApology            = "apology"
	keyAskDefault         = "ask.default"
	keyConfirmDefault     = "confirm.default"
	keyConfirm            = "confirm"
	keyClarify            = "clarify"
	keyResults            = "answer.results"
	keyEmpty              = "answer.empty"
	keyRelaxed            = "answer.relaxed"
	keyLookup             = "answer.lookup"
	keyLookupMissing      = "answer.lookup_missing"
	keyWeatherReport      = "weather.report"
	keyWeatherUnavailable = "weather.unavailable"
)

type templateFile struct {
	Languages   []string                                `yaml:"languages"`
	Labels      map[string]map[string]map[string]string `yaml:"labels"`
	Messages    map[string]map[string]string            `yaml:"messages"`
	Suggestions map[string]map[string][]string          `yaml:"suggestions"`
}

// Catalog holds compiled, localized response templates.
type Catalog struct {
	languages   []string
	labels      map[string]map[string]map[string]string
	templates   map[string]map[string]*template.Template
	suggestions map[string]map[string][]string
}

// DefaultCatalog returns the embedded templates.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultTemplates)
}

// LoadCatalog reads templates from path, or the embedded default when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read response templates: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes, compiles and dry-runs a YAML template catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplates, err)
	}
	if !slices.Contains(f.Languages, "en") {
		return nil, fmt.Errorf("%w: languages must include en", ErrInvalidTemplates)
	}

	c := &Catalog{
		languages:   f.Languages,
		labels:      f.Labels,
		templates:   make(map[string]map[string]*template.Template, len(f.Messages)),
		suggestions: f.Suggestions,
	}
	for _, key := range requiredKeys {
		if f.Messages[key]["en"] == "" {
			return nil, fmt.Errorf("%w: message %q has no en text", ErrInvalidTemplates, key)
		}
	}
	sample := sampleView()
	for key, byLang := range f.Messages {
		if byLang["en"] == "" {
			return nil, fmt.Errorf("%w: message %q has no en text", ErrInvalidTemplates, key)
		}
		c.templates[key] = make(map[string]*template.Template, len(byLang))
		for lang, src := range byLang {
			tmpl, err := template.New(key + "." + lang).
				Option("missingkey=zero").
				Funcs(c.funcs(lang)).
				Parse(src)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", ErrInvalidTemplates, key, lang, err)
			}
			if err := tmpl.Execute(&bytes.Buffer{}, sample); err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", ErrInvalidTemplates, key, lang, err)
			}
			c.templates[key][lang] = tmpl
		}
	}
	return c, nil
}

// Supports reports whether responses are written natively in lang.
func (c *Catalog) Supports(lang string) bool {
	return slices.Contains(c.languages, lang)
}

// Has reports whether a message key is defined.
func (c *Catalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

func (c *Catalog) render(key, lang string, v view) (string, error) {
	byLang, ok := c.templates[key]
	if !ok {
		return "", fmt.Errorf("no message %q", key)
	}
	tmpl, ok := byLang[lang]
	if !ok {
		tmpl = byLang["en"]
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (c *Catalog) label(group, key, lang string) string {
	byLang := c.labels[group][key]
	if s := byLang[lang]; s != "" {
		return s
	}
	if s := byLang["en"]; s != "" {
		return s
	}
	return strings.ReplaceAll(key, "_", " ")
}

// suggestionsFor never returns nil so responses marshal as [].
func (c *Catalog) suggestionsFor(key, lang string) []string {
	byLang := c.suggestions[key]
	if s, ok := byLang[lang]; ok {
		return slices.Clone(s)
	}
	if s, ok := byLang["en"]; ok {
		return slices.Clone(s)
	}
	return []string{}
}

func (c *Catalog) funcs(lang string) template.FuncMap {
	return template.FuncMap{
		"join": strings.Join,
		"inc":  func(i int) int { return i + 1 },
		"label": func(group, key string) string {
			return c.label(group, key, lang)
		},
		"dates": func(v string) string {
			from, to, ok := strings.Cut(v, "/")
			if !ok || from == to {
				return fmt.Sprintf(c.label("dates", "single", lang), from)
			}
			return fmt.Sprintf(c.label("dates", "range", lang), from, to)
		},
	}
}

func sampleView() view {
	rec := item{Name: "Karnak Temple", City: "Luxor", Description: "Temple complex.", Rating: 4.8}
	return view{
		Intent:  "find_attractions",
		Slot:    "city",
		Value:   "2026-11-02/2026-11-05",
		Options: []string{"Luxor", "Cairo"},
		Slots:   map[string]string{"city": "Luxor", "date_range": "2026-11-02/2026-11-05", "party_size": "2"},
		City:    "Luxor",
		Class:   "attraction",
		Items:   []item{rec},
		Dropped: []string{"price_band"},
		Record:  &rec,
		Weather: &services.WeatherReport{Temperature: 30, High: 34, Low: 20, Condition: "clear"},
	}
}
