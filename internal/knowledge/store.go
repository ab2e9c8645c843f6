// Package knowledge implements hybrid keyword and vector retrieval over
// attractions, hotels and restaurants.
package knowledge

import (
	"context"
	"errors"

	"github.com/raphaelgruber/wayfarer/internal/models"
)

// Sentinel errors for retrieval operations.
var (
	// ErrUnavailable indicates the record store or vector index could not be
	// reached. Callers degrade instead of failing the turn.
	ErrUnavailable = errors.New("knowledge store unavailable")

	// ErrInvalidClass indicates an unknown entity class.
	ErrInvalidClass = errors.New("invalid entity class")
)

// Hit is a vector-similarity match identified by record id.
type Hit struct {
	ID         string
	Similarity float64
}

// Store is the record store. Records returned by Filter and Get need not
// carry their embedding.
type Store interface {
	// Filter returns the records of class matching every set filter,
	// ordered by id.
	Filter(ctx context.Context, class models.EntityClass, f models.Filters) ([]models.Record, error)

	// Get returns the record, or nil (not an error) when absent.
	Get(ctx context.Context, class models.EntityClass, id string) (*models.Record, error)

	// VectorSearch ranks records of class matching f by cosine similarity.
	VectorSearch(ctx context.Context, class models.EntityClass, f models.Filters, embedding []float32, limit int) ([]Hit, error)

	// List returns every record of every class.
	List(ctx context.Context) ([]models.Record, error)

	// UpdateEmbedding replaces a record's embedding.
	UpdateEmbedding(ctx context.Context, class models.EntityClass, id string, embedding []float32) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// VectorIndex is an optional external index consulted for the vector pass
// instead of the store. Hits may be stale; the retriever drops any that do
// not resolve in the store.
type VectorIndex interface {
	Search(ctx context.Context, class models.EntityClass, f models.Filters, embedding []float32, limit int) ([]Hit, error)
	Upsert(ctx context.Context, records []models.Record) error
	Ping(ctx context.Context) error
}
