package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/jobs"
	"github.com/raphaelgruber/wayfarer/internal/metrics"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

func newTestRetriever(t *testing.T, index VectorIndex, extra ...models.Record) (*Retriever, *MemoryStore) {
	t.Helper()
	fx, err := DefaultFixture()
	require.NoError(t, err)

	store := NewMemoryStore(append(fx.Records, extra...))
	emb := embedding.NewHashEmbedder(64)
	re := NewReembedder(store, nil, emb, jobs.NewManager(config.Discard()), config.Discard())
	_, err = re.Run(context.Background(), RunOptions{Trigger: "startup"})
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Cities = fx.Cities
	return New(store, index, emb, metrics.NewCollector(), config.Discard(), opts), store
}

func ids(results []models.ScoredRecord) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Record.ID
	}
	return out
}

func TestSearchIsDeterministicWithIDTieBreak(t *testing.T) {
	twin := func(id string) models.Record {
		return models.Record{
			ID:          id,
			Class:       models.ClassAttraction,
			Name:        models.Localized{"en": "Twin Obelisk"},
			Description: models.Localized{"en": "Granite obelisk."},
			City:        "Luxor",
			Category:    "monument",
		}
	}
	r, _ := newTestRetriever(t, nil, twin("twin-b"), twin("twin-a"))
	ctx := context.Background()
	f := models.Filters{City: "Luxor", Category: "monument"}

	first, err := r.Search(ctx, models.ClassAttraction, "obelisk", f, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"twin-a", "twin-b"}, ids(first))
	assert.Equal(t, first[0].Score, first[1].Score)

	for range 5 {
		again, err := r.Search(ctx, models.ClassAttraction, "obelisk", f, 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchZeroMatchFiltersReturnEmpty(t *testing.T) {
	r, _ := newTestRetriever(t, nil)
	tests := []struct {
		name    string
		class   models.EntityClass
		filters models.Filters
	}{
		{"unknown city", models.ClassAttraction, models.Filters{City: "Atlantis"}},
		{"no match on AND", models.ClassHotel, models.Filters{City: "Aswan", PriceBand: models.PriceMid}},
		{"category on hotels", models.ClassHotel, models.Filters{Category: "temple"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Search(context.Background(), tt.class, "anything", tt.filters, 5)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestSearchAppliesFiltersAndRanks(t *testing.T) {
	r, _ := newTestRetriever(t, nil)
	ctx := context.Background()

	got, err := r.Search(ctx, models.ClassAttraction, "museum", models.Filters{City: "luxor"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "luxor-museum", got[0].Record.ID)
	for _, hit := range got {
		assert.Equal(t, "Luxor", hit.Record.City)
		assert.Nil(t, hit.Record.Embedding)
		assert.GreaterOrEqual(t, hit.KeywordScore, 0.5, "filtered candidates get the filter bonus")
	}

	got, err = r.Search(ctx, models.ClassAttraction, "", models.Filters{City: "Luxor", Category: "temple"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"karnak-temple", "luxor-temple"}, ids(got))
}

func TestSearchTopK(t *testing.T) {
	r, _ := newTestRetriever(t, nil)
	got, err := r.Search(context.Background(), models.ClassAttraction, "temple", models.Filters{}, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.Search(context.Background(), models.ClassAttraction, "temple", models.Filters{}, 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultOptions().DefaultTopK)
}

func TestSearchRejectsUnknownClass(t *testing.T) {
	r, _ := newTestRetriever(t, nil)
	_, err := r.Search(context.Background(), "museum", "x", models.Filters{}, 5)
	assert.ErrorIs(t, err, ErrInvalidClass)
}

func TestSearchRelaxed(t *testing.T) {
	r, _ := newTestRetriever(t, nil)
	ctx := context.Background()

	got, err := r.SearchRelaxed(ctx, models.ClassHotel, "hotel", models.Filters{City: "Luxor", Category: "spa", PriceBand: "palatial"}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{DroppedPriceBand, DroppedCategory}, got.Dropped)
	assert.Len(t, got.Results, 3)

	got, err = r.SearchRelaxed(ctx, models.ClassHotel, "hotel", models.Filters{City: "Luxor"}, 5)
	require.NoError(t, err)
	assert.Empty(t, got.Dropped, "nothing dropped when the first search matches")

	got, err = r.SearchRelaxed(ctx, models.ClassRestaurant, "", models.Filters{City: "Atlantis"}, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{DroppedCity}, got.Dropped)
	assert.Len(t, got.Results, 5)
}

func TestGetByID(t *testing.T) {
	r, _ := newTestRetriever(t, nil)
	ctx := context.Background()

	rec, ok, err := r.GetByID(ctx, models.ClassAttraction, "karnak-temple")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "معبد الكرنك", rec.Name.In("ar"))
	assert.Nil(t, rec.Embedding)

	rec, ok, err = r.GetByID(ctx, models.ClassHotel, "karnak-temple")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestStoreUnavailable(t *testing.T) {
	r, store := newTestRetriever(t, nil)
	store.SetUnavailable(errors.New("connection refused"))
	ctx := context.Background()

	_, err := r.Search(ctx, models.ClassAttraction, "temple", models.Filters{City: "Luxor"}, 5)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = r.GetByID(ctx, models.ClassAttraction, "karnak-temple")
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, r.Ping(ctx), ErrUnavailable)

	_, err = r.Gazetteer(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}

type fakeIndex struct {
	hits    []Hit
	err     error
	calls   int
	upserts []models.Record
}

func (f *fakeIndex) Search(context.Context, models.EntityClass, models.Filters, []float32, int) ([]Hit, error) {
	f.calls++
	return f.hits, f.err
}

func (f *fakeIndex) Upsert(_ context.Context, records []models.Record) error {
	f.upserts = append(f.upserts, records...)
	return nil
}

func (f *fakeIndex) Ping(context.Context) error { return f.err }

func TestVectorIndexHitsMustResolve(t *testing.T) {
	index := &fakeIndex{hits: []Hit{
		{ID: "ghost-temple", Similarity: 0.99},
		{ID: "philae-temple", Similarity: 0.9},
	}}
	r, _ := newTestRetriever(t, index)

	got, err := r.Search(context.Background(), models.ClassAttraction, "island temple", models.Filters{}, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, index.calls)
	assert.NotContains(t, ids(got), "ghost-temple")
	require.NotEmpty(t, got)
	assert.Equal(t, "philae-temple", got[0].Record.ID)
	assert.InDelta(t, 0.9, got[0].VectorScore, 1e-9)
}

func TestVectorIndexFailureFallsBackToStore(t *testing.T) {
	index := &fakeIndex{err: errors.New("grpc unavailable")}
	withIndex, _ := newTestRetriever(t, index)
	storeOnly, _ := newTestRetriever(t, nil)
	ctx := context.Background()
	f := models.Filters{City: "Aswan"}

	got, err := withIndex.Search(ctx, models.ClassAttraction, "temple", f, 5)
	require.NoError(t, err)
	want, err := storeOnly.Search(ctx, models.ClassAttraction, "temple", f, 5)
	require.NoError(t, err)
	assert.Equal(t, ids(want), ids(got))
	assert.Equal(t, "philae-temple", got[0].Record.ID)
}

func TestGazetteer(t *testing.T) {
	r, _ := newTestRetriever(t, nil)
	g, err := r.Gazetteer(context.Background())
	require.NoError(t, err)

	luxor, ok := g.City("luxor")
	require.True(t, ok)
	assert.InDelta(t, 25.6872, luxor.Location.Lat, 1e-6)
	assert.Len(t, g.Cities, 3)

	var sofra []string
	var cityAliases, categories []string
	for _, e := range g.Entries {
		switch {
		case e.Type == models.EntityRestaurant && e.Name == "Sofra":
			sofra = append(sofra, e.RecordID)
		case e.Type == models.EntityCity && e.Value == "Luxor":
			cityAliases = append(cityAliases, e.Name)
		case e.Type == models.EntityCategory:
			categories = append(categories, e.Value)
		}
	}
	assert.ElementsMatch(t, []string{"sofra-luxor", "sofra-cairo"}, sofra)
	assert.ElementsMatch(t, []string{"Luxor", "الأقصر", "Louxor"}, cityAliases)
	assert.Contains(t, categories, "museum")
	assert.Contains(t, categories, "temple")
}
