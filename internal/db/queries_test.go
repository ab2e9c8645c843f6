package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

func TestPlaceKey(t *testing.T) {
	assert.Equal(t, "hotel:old-cataract", PlaceKey(models.ClassHotel, "old-cataract"))
}

func TestFilterClause(t *testing.T) {
	vars := map[string]any{}
	clause := filterClause(models.Filters{City: " Luxor ", PriceBand: "luxury"}, vars)

	assert.Contains(t, clause, "string::lowercase(city) = string::lowercase($city)")
	assert.Contains(t, clause, "$price_band")
	assert.NotContains(t, clause, "$category")
	assert.True(t, strings.HasPrefix(clause, " AND "))
	assert.Equal(t, map[string]any{"city": "Luxor", "price_band": "luxury"}, vars)

	assert.Empty(t, filterClause(models.Filters{}, map[string]any{}))
}

func TestPlaceRowRecord(t *testing.T) {
	at := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	row := placeRow{
		Class:      "attraction",
		Slug:       "karnak-temple",
		Name:       map[string]string{"en": "Karnak Temple", "ar": "معبد الكرنك"},
		City:       "Luxor",
		Category:   "temple",
		Lat:        25.7188,
		Lon:        32.6573,
		Rating:     4.8,
		Embedding:  []float32{0.1, 0.2},
		EmbeddedAt: &at,
	}
	rec := row.record()
	assert.Equal(t, "karnak-temple", rec.ID)
	assert.Equal(t, models.ClassAttraction, rec.Class)
	assert.Equal(t, "معبد الكرنك", rec.Name.In("ar"))
	assert.Equal(t, models.GeoPoint{Lat: 25.7188, Lon: 32.6573}, rec.Location)
	assert.Equal(t, &at, rec.EmbeddedAt)
}

func TestSchemaSQLUsesDimension(t *testing.T) {
	assert.Contains(t, SchemaSQL(768), "HNSW DIMENSION 768")
}

func TestWrapQueryError(t *testing.T) {
	assert.NoError(t, wrapQueryError(nil))

	plain := errors.New("socket closed")
	assert.Same(t, plain, wrapQueryError(plain))

	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"unique index", "Database index `place_class_slug` already contains 'hotel', with record `place:x`", ErrDuplicate},
		{"record exists", "Database record `place:x` already exists", ErrDuplicate},
		{"conflict", "Transaction conflict: resource busy", ErrConflict},
		{"dimension", "Incorrect vector dimension (3). Expected a vector of 384 dimension.", ErrDimension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("query: %w", &surrealdb.QueryError{Message: tt.msg})
			assert.ErrorIs(t, wrapQueryError(err), tt.want)
		})
	}

	other := &surrealdb.QueryError{Message: "Parse error"}
	assert.Same(t, error(other), wrapQueryError(other))
}
