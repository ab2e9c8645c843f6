package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

// placeRow is the stored shape of a knowledge record.
type placeRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	Class       string                 `json:"class"`
	Slug        string                 `json:"slug"`
	Name        map[string]string      `json:"name"`
	Description map[string]string      `json:"description"`
	City        string                 `json:"city"`
	Category    string                 `json:"category"`
	PriceBand   string                 `json:"price_band"`
	Lat         float64                `json:"lat"`
	Lon         float64                `json:"lon"`
	Rating      float64                `json:"rating"`
	ImageURL    string                 `json:"image_url"`
	Embedding   []float32              `json:"embedding,omitempty"`
	EmbeddedAt  *time.Time             `json:"embedded_at,omitempty"`
	Similarity  float64                `json:"similarity,omitempty"`
}

func (r placeRow) record() models.Record {
	return models.Record{
		ID:          r.Slug,
		Class:       models.EntityClass(r.Class),
		Name:        models.Localized(r.Name),
		Description: models.Localized(r.Description),
		City:        r.City,
		Category:    r.Category,
		PriceBand:   r.PriceBand,
		Location:    models.GeoPoint{Lat: r.Lat, Lon: r.Lon},
		Rating:      r.Rating,
		ImageURL:    r.ImageURL,
		Embedding:   r.Embedding,
		EmbeddedAt:  r.EmbeddedAt,
	}
}

// VectorHit is a record with its cosine similarity to the query vector.
type VectorHit struct {
	Record     models.Record
	Similarity float64
}

// PlaceKey is the record key of a knowledge record.
func PlaceKey(class models.EntityClass, id string) string {
	return string(class) + ":" + id
}

// filterClause renders the AND-ed structured predicates. Comparisons are
// case-insensitive to match the in-memory store.
func filterClause(f models.Filters, vars map[string]any) string {
	var b strings.Builder
	if f.City != "" {
		b.WriteString(" AND string::lowercase(city) = string::lowercase($city)")
		vars["city"] = strings.TrimSpace(f.City)
	}
	if f.Category != "" {
		b.WriteString(" AND string::lowercase(category) = string::lowercase($category)")
		vars["category"] = strings.TrimSpace(f.Category)
	}
	if f.PriceBand != "" {
		b.WriteString(" AND string::lowercase(price_band) = string::lowercase($price_band)")
		vars["price_band"] = strings.TrimSpace(f.PriceBand)
	}
	return b.String()
}

func rows(results *[]surrealdb.QueryResult[[]placeRow]) []placeRow {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// QueryUpsertPlace creates or replaces a knowledge record. The record must
// carry an embedding.
func (c *Client) QueryUpsertPlace(ctx context.Context, rec models.Record) error {
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("upsert place %s: missing embedding", rec.ID)
	}
	name, desc := map[string]string(rec.Name), map[string]string(rec.Description)
	if name == nil {
		name = map[string]string{}
	}
	if desc == nil {
		desc = map[string]string{}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("place", $key) SET
			class = $class,
			slug = $slug,
			name = $name,
			description = $description,
			city = $city,
			category = $category,
			price_band = $price_band,
			lat = $lat,
			lon = $lon,
			rating = $rating,
			image_url = $image_url,
			embedding = $embedding,
			embedded_at = time::now()
	`, map[string]any{
		"key":         PlaceKey(rec.Class, rec.ID),
		"class":       string(rec.Class),
		"slug":        rec.ID,
		"name":        name,
		"description": desc,
		"city":        rec.City,
		"category":    rec.Category,
		"price_band":  rec.PriceBand,
		"lat":         rec.Location.Lat,
		"lon":         rec.Location.Lon,
		"rating":      rec.Rating,
		"image_url":   rec.ImageURL,
		"embedding":   rec.Embedding,
	})
	if err != nil {
		return fmt.Errorf("upsert place %s: %w", rec.ID, wrapQueryError(err))
	}
	return nil
}

// QueryGetPlace retrieves a record by class and id.
// Returns nil if not found.
func (c *Client) QueryGetPlace(ctx context.Context, class models.EntityClass, id string) (*models.Record, error) {
	results, err := surrealdb.Query[[]placeRow](ctx, c.db, `
		SELECT * OMIT embedding FROM type::record("place", $key)
	`, map[string]any{"key": PlaceKey(class, id)})
	if err != nil {
		return nil, fmt.Errorf("get place: %w", wrapQueryError(err))
	}
	found := rows(results)
	if len(found) == 0 {
		return nil, nil
	}
	rec := found[0].record()
	return &rec, nil
}

// QueryFilterPlaces returns every record of class matching the filters,
// ordered by slug.
func (c *Client) QueryFilterPlaces(ctx context.Context, class models.EntityClass, f models.Filters) ([]models.Record, error) {
	vars := map[string]any{"class": string(class)}
	sql := fmt.Sprintf(`
		SELECT * OMIT embedding FROM place
		WHERE class = $class%s
		ORDER BY slug ASC
	`, filterClause(f, vars))

	results, err := surrealdb.Query[[]placeRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("filter places: %w", wrapQueryError(err))
	}
	found := rows(results)
	out := make([]models.Record, 0, len(found))
	for _, r := range found {
		out = append(out, r.record())
	}
	return out, nil
}

// QueryVectorSearch returns the limit nearest records of class by cosine
// similarity, restricted by the filters.
// HNSW with ef=40 for better recall.
func (c *Client) QueryVectorSearch(ctx context.Context, class models.EntityClass, f models.Filters, embedding []float32, limit int) ([]VectorHit, error) {
	vars := map[string]any{"class": string(class), "emb": embedding}
	sql := fmt.Sprintf(`
		SELECT *, vector::similarity::cosine(embedding, $emb) AS similarity OMIT embedding
		FROM place
		WHERE class = $class%s AND embedding <|%d,40|> $emb
		ORDER BY similarity DESC
	`, filterClause(f, vars), limit)

	results, err := surrealdb.Query[[]placeRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", wrapQueryError(err))
	}
	found := rows(results)
	out := make([]VectorHit, 0, len(found))
	for _, r := range found {
		out = append(out, VectorHit{Record: r.record(), Similarity: r.Similarity})
	}
	return out, nil
}

// QueryUpdateEmbedding replaces a record's embedding. Returns ErrNotFound
// when the record does not exist.
func (c *Client) QueryUpdateEmbedding(ctx context.Context, class models.EntityClass, id string, embedding []float32) error {
	results, err := surrealdb.Query[[]placeRow](ctx, c.db, `
		UPDATE type::record("place", $key) SET
			embedding = $embedding,
			embedded_at = time::now()
		RETURN AFTER
	`, map[string]any{"key": PlaceKey(class, id), "embedding": embedding})
	if err != nil {
		return fmt.Errorf("update embedding: %w", wrapQueryError(err))
	}
	if len(rows(results)) == 0 {
		return fmt.Errorf("update embedding %s: %w", PlaceKey(class, id), ErrNotFound)
	}
	return nil
}

// QueryListPlaces returns every record without embeddings, ordered by class
// and slug.
func (c *Client) QueryListPlaces(ctx context.Context) ([]models.Record, error) {
	results, err := surrealdb.Query[[]placeRow](ctx, c.db, `
		SELECT * OMIT embedding FROM place ORDER BY class ASC, slug ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", wrapQueryError(err))
	}
	found := rows(results)
	out := make([]models.Record, 0, len(found))
	for _, r := range found {
		out = append(out, r.record())
	}
	return out, nil
}
