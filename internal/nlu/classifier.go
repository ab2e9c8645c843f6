package nlu

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/intents"
)

// centroidModel scores utterances by cosine similarity to the mean
// embedding of each intent's examples.
type centroidModel struct {
	labels    []string
	centroids [][]float32
}

func buildModel(ctx context.Context, emb embedding.Embedder, cat *intents.Catalog) (*centroidModel, error) {
	m := &centroidModel{}
	for _, in := range cat.Intents() {
		examples := examplesOf(in)
		if len(examples) == 0 {
			continue
		}
		vectors, err := emb.EmbedBatch(ctx, examples)
		if err != nil {
			return nil, fmt.Errorf("embed examples for %s: %w", in.ID, err)
		}
		centroid := make([]float32, emb.Dimension())
		for _, v := range vectors {
			if len(v) != len(centroid) {
				return nil, fmt.Errorf("embed examples for %s: dimension mismatch", in.ID)
			}
			for i, x := range v {
				centroid[i] += x
			}
		}
		m.labels = append(m.labels, in.ID)
		m.centroids = append(m.centroids, embedding.Normalize(centroid))
	}
	if len(m.labels) == 0 {
		return nil, fmt.Errorf("no intent examples to build classifier")
	}
	return m, nil
}

func examplesOf(in intents.Intent) []string {
	langs := make([]string, 0, len(in.Examples))
	for lang := range in.Examples {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	var out []string
	for _, lang := range langs {
		out = append(out, in.Examples[lang]...)
	}
	return out
}

func (m *centroidModel) similarities(vec []float32) []float64 {
	out := make([]float64, len(m.centroids))
	for i, c := range m.centroids {
		out[i] = embedding.Cosine(vec, c)
	}
	return out
}

// softmax converts logits into probabilities.
func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	top := logits[0]
	for _, l := range logits[1:] {
		top = math.Max(top, l)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - top)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
