package models

import (
	"strings"
	"time"
)

// EntityClass identifies which kind of knowledge record is searched.
type EntityClass string

const (
	ClassAttraction EntityClass = "attraction"
	ClassHotel      EntityClass = "hotel"
	ClassRestaurant EntityClass = "restaurant"
)

// Classes lists every searchable entity class.
var Classes = []EntityClass{ClassAttraction, ClassHotel, ClassRestaurant}

// Valid reports whether c is a known entity class.
func (c EntityClass) Valid() bool {
	switch c {
	case ClassAttraction, ClassHotel, ClassRestaurant:
		return true
	}
	return false
}

// Price bands used as structured filters.
const (
	PriceBudget = "budget"
	PriceMid    = "mid"
	PriceLuxury = "luxury"
)

// Localized holds one text per language code ("en", "ar", ...).
type Localized map[string]string

// In returns the text for lang, falling back to English and then to any
// available translation.
func (l Localized) In(lang string) string {
	if s, ok := l[lang]; ok && s != "" {
		return s
	}
	if s, ok := l["en"]; ok && s != "" {
		return s
	}
	for _, s := range l {
		if s != "" {
			return s
		}
	}
	return ""
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// IsZero reports whether the point is unset.
func (p GeoPoint) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// Record is a knowledge record (attraction, hotel or restaurant).
// IDs are unique within a class. Records are immutable after ingestion
// except for Embedding and EmbeddedAt, which the re-embedder refreshes.
type Record struct {
	ID          string      `json:"id" yaml:"id"`
	Class       EntityClass `json:"class" yaml:"class"`
	Name        Localized   `json:"name" yaml:"name"`
	Description Localized   `json:"description,omitempty" yaml:"description"`
	City        string      `json:"city" yaml:"city"`
	Category    string      `json:"category,omitempty" yaml:"category"`
	PriceBand   string      `json:"price_band,omitempty" yaml:"price_band"`
	Location    GeoPoint    `json:"location" yaml:"location"`
	Rating      float64     `json:"rating,omitempty" yaml:"rating"`
	ImageURL    string      `json:"image_url,omitempty" yaml:"image_url"`
	Embedding   []float32   `json:"embedding,omitempty" yaml:"-"`
	EmbeddedAt  *time.Time  `json:"embedded_at,omitempty" yaml:"-"`
}

// EmbeddingText is the text embedded for vector search.
func (r Record) EmbeddingText() string {
	text := r.Name.In("en") + ". " + r.Description.In("en")
	if r.Category != "" {
		text += " " + r.Category
	}
	if r.City != "" {
		text += " " + r.City
	}
	return text
}

// Filters are structured search predicates. All non-empty fields are AND-ed.
type Filters struct {
	City      string `json:"city,omitempty"`
	Category  string `json:"category,omitempty"`
	PriceBand string `json:"price_band,omitempty"`
}

// IsEmpty reports whether no predicate is set.
func (f Filters) IsEmpty() bool {
	return f.City == "" && f.Category == "" && f.PriceBand == ""
}

// Count returns the number of set predicates.
func (f Filters) Count() int {
	n := 0
	for _, v := range []string{f.City, f.Category, f.PriceBand} {
		if v != "" {
			n++
		}
	}
	return n
}

// Match reports whether r satisfies every set predicate (case-insensitive).
func (f Filters) Match(r Record) bool {
	return matchField(f.City, r.City) &&
		matchField(f.Category, r.Category) &&
		matchField(f.PriceBand, r.PriceBand)
}

func matchField(want, got string) bool {
	return want == "" || equalFold(want, got)
}

// ScoredRecord is a ranked search hit.
type ScoredRecord struct {
	Record       Record  `json:"record"`
	Score        float64 `json:"score"`
	KeywordScore float64 `json:"keyword_score"`
	VectorScore  float64 `json:"vector_score"`
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
