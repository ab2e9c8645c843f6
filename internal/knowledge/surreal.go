package knowledge

import (
	"context"

	"github.com/raphaelgruber/wayfarer/internal/db"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// SurrealStore adapts the SurrealDB client to Store. Vector search runs on
// the HNSW index with the structured filters applied in the same query.
type SurrealStore struct {
	client *db.Client
}

var _ Store = (*SurrealStore)(nil)

// NewSurrealStore wraps an open client.
func NewSurrealStore(client *db.Client) *SurrealStore {
	return &SurrealStore{client: client}
}

// Filter implements Store.
func (s *SurrealStore) Filter(ctx context.Context, class models.EntityClass, f models.Filters) ([]models.Record, error) {
	return s.client.QueryFilterPlaces(ctx, class, f)
}

// Get implements Store.
func (s *SurrealStore) Get(ctx context.Context, class models.EntityClass, id string) (*models.Record, error) {
	return s.client.QueryGetPlace(ctx, class, id)
}

// VectorSearch implements Store.
func (s *SurrealStore) VectorSearch(ctx context.Context, class models.EntityClass, f models.Filters, vec []float32, limit int) ([]Hit, error) {
	found, err := s.client.QueryVectorSearch(ctx, class, f, vec, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(found))
	for _, h := range found {
		hits = append(hits, Hit{ID: h.Record.ID, Similarity: h.Similarity})
	}
	return hits, nil
}

// List implements Store.
func (s *SurrealStore) List(ctx context.Context) ([]models.Record, error) {
	return s.client.QueryListPlaces(ctx)
}

// UpdateEmbedding implements Store.
func (s *SurrealStore) UpdateEmbedding(ctx context.Context, class models.EntityClass, id string, vec []float32) error {
	return s.client.QueryUpdateEmbedding(ctx, class, id, vec)
}

// Upsert writes a full record, embedding included.
func (s *SurrealStore) Upsert(ctx context.Context, r models.Record) error {
	return s.client.QueryUpsertPlace(ctx, r)
}

// Ping implements Store.
func (s *SurrealStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
