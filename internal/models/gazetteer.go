package models

import "strings"

// GazetteerEntry is one surface form the NLU can recognize. A record with
// names in several languages contributes one entry per name, all sharing
// the RecordID.
type GazetteerEntry struct {
	Name     string      `json:"name"`
	Type     EntityType  `json:"type"`
	Value    string      `json:"value"`
	RecordID string      `json:"record_id,omitempty"`
	Class    EntityClass `json:"class,omitempty"`
}

// City is a known city with a representative location.
type City struct {
	Name     string   `json:"name"`
	Location GeoPoint `json:"location"`
}

// Gazetteer lists the names, cities and categories known to the
// knowledge store.
type Gazetteer struct {
	Entries []GazetteerEntry `json:"entries"`
	Cities  []City           `json:"cities"`
}

// City looks up a known city by name, case-insensitively.
func (g Gazetteer) City(name string) (City, bool) {
	for _, c := range g.Cities {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return City{}, false
}
