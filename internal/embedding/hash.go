package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultHashDimension matches the all-minilm dimension so a store built with
// the hashing embedder keeps the same schema.
const DefaultHashDimension = 384

// HashEmbedder is a deterministic, offline embedder based on feature hashing
// of word unigrams, bigrams and character trigrams. It needs no model and is
// used for local development, tests and as the NLU classifier's default.
type HashEmbedder struct {
	dim int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hashing embedder. dim <= 0 selects
// DefaultHashDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Model() string  { return "hash" }
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed never fails unless ctx is done.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, h.dim)
	words := Tokens(text)
	for i, w := range words {
		h.add(v, "w:"+w, 1.0)
		if i > 0 {
			h.add(v, "b:"+words[i-1]+" "+w, 0.5)
		}
		padded := "#" + w + "#"
		r := []rune(padded)
		for j := 0; j+3 <= len(r); j++ {
			h.add(v, "c:"+string(r[j:j+3]), 0.25)
		}
	}
	return Normalize(v), nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// A transform chain keeps state between Reset and Transform, so each
// goroutine takes its own from the pool.
var folders = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	},
}

// Fold lowercases s and strips combining marks ("Hôtel" -> "hotel"). Safe
// for concurrent use.
func Fold(s string) string {
	t := folders.Get().(transform.Transformer)
	defer folders.Put(t)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Tokens splits folded text into letter/digit words.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
