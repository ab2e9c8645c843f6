package models

// IntentSource records which extraction strategy produced an intent.
type IntentSource string

const (
	SourceRule       IntentSource = "rule"
	SourceFuzzy      IntentSource = "fuzzy"
	SourceCue        IntentSource = "cue"
	SourceClassifier IntentSource = "classifier"
)

// IntentUnknown is the label used when nothing matched.
const IntentUnknown = "unknown"

// ScoredIntent is a label with its confidence.
type ScoredIntent struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// IntentResult is the per-turn classification output. It is not persisted
// beyond the Turn record.
type IntentResult struct {
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"`
	Alternates []ScoredIntent `json:"alternates,omitempty"`
	Source     IntentSource   `json:"source,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"`
}

// EntityType names the kind of extracted entity.
type EntityType string

const (
	EntityCity       EntityType = "city"
	EntityAttraction EntityType = "attraction"
	EntityHotel      EntityType = "hotel"
	EntityRestaurant EntityType = "restaurant"
	EntityCategory   EntityType = "category"
	EntityPriceBand  EntityType = "price_band"
	EntityDateRange  EntityType = "date_range"
	EntityPartySize  EntityType = "party_size"
)

// EntityTypeForClass maps a knowledge class to the entity type naming it.
func EntityTypeForClass(c EntityClass) EntityType {
	switch c {
	case ClassHotel:
		return EntityHotel
	case ClassRestaurant:
		return EntityRestaurant
	default:
		return EntityAttraction
	}
}

// Span locates an entity in the source utterance (rune offsets).
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Entity is an extracted, normalized value. Several entities of the same
// type may be present; Ambiguous marks candidates surfaced together because
// no single match was clearly best.
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Span       Span       `json:"span"`
	Confidence float64    `json:"confidence"`
	RecordID   string     `json:"record_id,omitempty"`
	Ambiguous  bool       `json:"ambiguous,omitempty"`
}

// EntitiesOfType returns the entities with type t in input order.
func EntitiesOfType(entities []Entity, t EntityType) []Entity {
	var out []Entity
	for _, e := range entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
