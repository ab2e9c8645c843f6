// Package embedding provides text embedding generation with multiple backend support.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/llm"
)

// Embedder defines the interface for text embedding providers.
// Implementations include the local hashing embedder and langchaingo
// backed providers (Ollama, OpenAI).
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the vector index dimension of the knowledge store.
	Dimension() int
}

var _ Embedder = (*llm.Embedder)(nil)

// New creates the configured embedder wrapped in an LRU cache of
// cfg.NLUCacheSize entries.
func New(cfg config.Config) (Embedder, error) {
	var base Embedder
	switch cfg.EmbedProvider {
	case config.ProviderHash, "":
		base = NewHashEmbedder(cfg.EmbedDimension)
	case config.ProviderOllama, config.ProviderOpenAI:
		e, err := llm.NewEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		base = e
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.EmbedProvider)
	}
	if cfg.NLUCacheSize <= 0 {
		return base, nil
	}
	return NewCached(base, cfg.NLUCacheSize)
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty,
// zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
