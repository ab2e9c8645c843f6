package knowledge

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

//go:embed fixture.yaml
var defaultFixture []byte

// CityInfo carries localized city names and a reference location.
type CityInfo struct {
	Name     string           `yaml:"name"`
	Names    models.Localized `yaml:"names"`
	Location models.GeoPoint  `yaml:"location"`
}

// Fixture is a YAML document of cities and records for the in-memory
// store and local development.
type Fixture struct {
	Cities  []CityInfo      `yaml:"cities"`
	Records []models.Record `yaml:"records"`
}

// DefaultFixture returns the embedded sample data set.
func DefaultFixture() (Fixture, error) {
	return ParseFixture(defaultFixture)
}

// LoadFixture reads a fixture file. An empty path loads the embedded one.
func LoadFixture(path string) (Fixture, error) {
	if path == "" {
		return DefaultFixture()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates a fixture. Ids must be unique per
// class and every record needs an English name and a city.
func ParseFixture(data []byte) (Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	seen := map[string]bool{}
	for i, r := range fx.Records {
		if !r.Class.Valid() {
			return Fixture{}, fmt.Errorf("fixture record %d: %w: %q", i, ErrInvalidClass, r.Class)
		}
		if r.ID == "" {
			r.ID = models.Slugify(r.Name.In("en"))
			fx.Records[i].ID = r.ID
		}
		if r.ID == "" || r.Name["en"] == "" || r.City == "" {
			return Fixture{}, fmt.Errorf("fixture record %d (%s): id, name.en and city are required", i, r.ID)
		}
		key := string(r.Class) + ":" + r.ID
		if seen[key] {
			return Fixture{}, fmt.Errorf("fixture record %d: duplicate id %s", i, key)
		}
		seen[key] = true
	}
	return fx, nil
}
