package nlu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/intents"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// Wednesday.
var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type staticSource struct {
	g     models.Gazetteer
	err   error
	calls atomic.Int32
}

func (s *staticSource) Gazetteer(context.Context) (models.Gazetteer, error) {
	s.calls.Add(1)
	return s.g, s.err
}

func testGazetteer() models.Gazetteer {
	return models.Gazetteer{
		Entries: []models.GazetteerEntry{
			{Name: "Luxor", Type: models.EntityCity, Value: "Luxor"},
			{Name: "الأقصر", Type: models.EntityCity, Value: "Luxor"},
			{Name: "Cairo", Type: models.EntityCity, Value: "Cairo"},
			{Name: "Karnak Temple", Type: models.EntityAttraction, Value: "Karnak Temple", RecordID: "karnak-temple", Class: models.ClassAttraction},
			{Name: "معبد الكرنك", Type: models.EntityAttraction, Value: "Karnak Temple", RecordID: "karnak-temple", Class: models.ClassAttraction},
			{Name: "Sofra", Type: models.EntityRestaurant, Value: "Sofra", RecordID: "sofra-luxor", Class: models.ClassRestaurant},
			{Name: "Sofra", Type: models.EntityRestaurant, Value: "Sofra", RecordID: "sofra-cairo", Class: models.ClassRestaurant},
			{Name: "Philae", Type: models.EntityAttraction, Value: "Philae", RecordID: "philae", Class: models.ClassAttraction},
			{Name: "museum", Type: models.EntityCategory, Value: "museum"},
		},
		Cities: []models.City{{Name: "Luxor"}, {Name: "Cairo"}},
	}
}

func newTestEngine(t *testing.T, emb embedding.Embedder, src GazetteerSource, mutate ...func(*Options)) *Engine {
	t.Helper()
	cat, err := intents.Default()
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	for _, m := range mutate {
		m(&opts)
	}
	return New(cat, emb, src, config.Discard(), opts)
}

func TestClassifyGreetingRule(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})

	res, ents := e.Classify(context.Background(), "Hi!", "en")
	assert.Equal(t, "greeting", res.Label)
	assert.InDelta(t, 0.97, res.Confidence, 1e-9)
	assert.Equal(t, models.SourceRule, res.Source)
	assert.False(t, res.Degraded)
	assert.Empty(t, ents)
}

func TestClassifyRuleInOtherLanguage(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})

	res, _ := e.Classify(context.Background(), "Bonjour", "en")
	assert.Equal(t, "greeting", res.Label)
	assert.Equal(t, models.SourceRule, res.Source)
}

func TestClassifyTaskRuleStillExtractsEntities(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})

	res, ents := e.Classify(context.Background(), "I want to book a tour in Luxor tomorrow for 2 people", "en")
	assert.Equal(t, "book_tour", res.Label)
	assert.Equal(t, models.SourceRule, res.Source)

	require.Len(t, ents, 3)
	assert.Equal(t, models.EntityCity, ents[0].Type)
	assert.Equal(t, "Luxor", ents[0].Value)
	assert.Equal(t, models.EntityDateRange, ents[1].Type)
	assert.Equal(t, "2026-10-15/2026-10-15", ents[1].Value)
	assert.Equal(t, models.EntityPartySize, ents[2].Type)
	assert.Equal(t, "2", ents[2].Value)
}

func TestClassifyWithClassifier(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})
	ctx := context.Background()

	tests := []struct {
		text  string
		label string
	}{
		{"show me attractions in Luxor", "find_attractions"},
		{"find hotels in Cairo", "find_hotels"},
		{"good restaurants for dinner in Luxor", "find_restaurants"},
		{"what is the weather forecast in Cairo", "weather"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res, _ := e.Classify(ctx, tt.text, "en")
			assert.Equal(t, tt.label, res.Label)
			assert.Equal(t, models.SourceClassifier, res.Source)
			assert.False(t, res.Degraded)
			assert.GreaterOrEqual(t, res.Confidence, 0.45)
			assert.LessOrEqual(t, res.Confidence, 1.0)
			assert.NotEmpty(t, res.Alternates)
		})
	}
}

func TestClassifyLuxorEntityResolvesUnambiguously(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})

	_, ents := e.Classify(context.Background(), "show me attractions in Luxor", "en")
	cities := models.EntitiesOfType(ents, models.EntityCity)
	require.Len(t, cities, 1)
	assert.Equal(t, "Luxor", cities[0].Value)
	assert.False(t, cities[0].Ambiguous)
	assert.Equal(t, models.Span{Start: 23, End: 28, Text: "Luxor"}, cities[0].Span)
}

func TestFuzzyMatchRecoversMisspelling(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})

	_, ents := e.Classify(context.Background(), "tell me about Karnek temple", "en")
	attractions := models.EntitiesOfType(ents, models.EntityAttraction)
	require.Len(t, attractions, 1)
	assert.Equal(t, "karnak-temple", attractions[0].RecordID)
	assert.Equal(t, "Karnek temple", attractions[0].Span.Text)
	assert.False(t, attractions[0].Ambiguous)
	assert.Less(t, attractions[0].Confidence, 0.99)
}

func TestFuzzyMatchAcrossAliases(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})

	_, ents := e.Classify(context.Background(), "أخبرني عن معبد الكرنك", "ar")
	attractions := models.EntitiesOfType(ents, models.EntityAttraction)
	require.Len(t, attractions, 1)
	assert.Equal(t, "karnak-temple", attractions[0].RecordID)
}

func TestAmbiguousNamesSurfaceAllCandidates(t *testing.T) {
	e := newTestEngine(t, embedding.NewHashEmbedder(0), &staticSource{g: testGazetteer()})

	_, ents := e.Classify(context.Background(), "is sofra good for dinner", "en")
	restaurants := models.EntitiesOfType(ents, models.EntityRestaurant)
	require.Len(t, restaurants, 2)
	ids := []string{restaurants[0].RecordID, restaurants[1].RecordID}
	assert.ElementsMatch(t, []string{"sofra-luxor", "sofra-cairo"}, ids)
	for _, r := range restaurants {
		assert.True(t, r.Ambiguous)
	}
}

type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func TestClassifyDegradesWhenClassifierUnavailable(t *testing.T) {
	e := newTestEngine(t, failingEmbedder{embedding.NewHashEmbedder(0)}, &staticSource{g: testGazetteer()})

	res, ents := e.Classify(context.Background(), "where can I find a hotel in Luxor", "en")
	assert.Equal(t, "find_hotels", res.Label)
	assert.Equal(t, models.SourceCue, res.Source)
	assert.True(t, res.Degraded)
	assert.LessOrEqual(t, res.Confidence, 0.6)
	assert.NotEmpty(t, models.EntitiesOfType(ents, models.EntityCity), "fuzzy matching still works")

	res, _ = e.Classify(context.Background(), "Philae?", "en")
	assert.Equal(t, "attraction_info", res.Label)
	assert.Equal(t, models.SourceFuzzy, res.Source)

	res, _ = e.Classify(context.Background(), "qwerty zxcv", "en")
	assert.Equal(t, models.IntentUnknown, res.Label)
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Confidence)
}

type slowEmbedder struct {
	*embedding.HashEmbedder
	delay time.Duration
}

func (s slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	time.Sleep(s.delay)
	return s.HashEmbedder.Embed(context.Background(), text)
}

func TestClassifyRespectsLatencyBudget(t *testing.T) {
	e := newTestEngine(t, slowEmbedder{embedding.NewHashEmbedder(0), 300 * time.Millisecond}, &staticSource{g: testGazetteer()},
		func(o *Options) { o.LatencyBudget = 20 * time.Millisecond })
	require.NoError(t, e.Warmup(context.Background()))

	start := time.Now()
	res, _ := e.Classify(context.Background(), "find hotels in Luxor", "en")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 200*time.Millisecond)
	assert.True(t, res.Degraded)
	assert.Equal(t, "find_hotels", res.Label)
	assert.LessOrEqual(t, res.Confidence, 0.6)
}

type countingEmbedder struct {
	*embedding.HashEmbedder
	batches atomic.Int32
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches.Add(1)
	time.Sleep(time.Millisecond)
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestWarmupRunsOnceForConcurrentCallers(t *testing.T) {
	emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(0)}
	src := &staticSource{g: testGazetteer()}
	e := newTestEngine(t, emb, src)
	assert.False(t, e.Ready())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Classify(context.Background(), "find hotels in Luxor", "en")
		}()
	}
	wg.Wait()

	assert.True(t, e.Ready())
	after := emb.batches.Load()
	assert.Equal(t, int32(1), src.calls.Load())

	require.NoError(t, e.Warmup(context.Background()))
	assert.Equal(t, after, emb.batches.Load(), "warm engine does not rebuild")
}

func TestWarmupFailureIsRetried(t *testing.T) {
	src := &staticSource{g: testGazetteer(), err: errors.New("store down")}
	e := newTestEngine(t, embedding.NewHashEmbedder(0), src)

	assert.Error(t, e.Warmup(context.Background()))
	assert.False(t, e.Ready())

	// Within the retry interval Classify does not hammer the source.
	res, ents := e.Classify(context.Background(), "find hotels in Luxor", "en")
	assert.Equal(t, int32(1), src.calls.Load())
	assert.True(t, res.Degraded)
	assert.Empty(t, models.EntitiesOfType(ents, models.EntityCity))

	src.err = nil
	require.NoError(t, e.Warmup(context.Background()))
	assert.True(t, e.Ready())
	assert.Len(t, e.Gazetteer().Cities, 2)
}

func TestRefreshReloadsGazetteer(t *testing.T) {
	src := &staticSource{g: testGazetteer()}
	e := newTestEngine(t, embedding.NewHashEmbedder(0), src)
	require.NoError(t, e.Warmup(context.Background()))

	src.g.Entries = append(src.g.Entries, models.GazetteerEntry{Name: "Aswan", Type: models.EntityCity, Value: "Aswan"})
	require.NoError(t, e.Refresh(context.Background()))

	_, ents := e.Classify(context.Background(), "hotels in aswan", "en")
	cities := models.EntitiesOfType(ents, models.EntityCity)
	require.Len(t, cities, 1)
	assert.Equal(t, "Aswan", cities[0].Value)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hi there", normalize("  Hi,   there!! "))
	assert.Equal(t, "what's the currency", normalize("What’s the currency?"))
	assert.Equal(t, "que peux-tu faire", normalize("Que peux-tu faire ?"))
}

func TestSoftmax(t *testing.T) {
	p := softmax([]float64{1, 1, 1, 1})
	for _, v := range p {
		assert.InDelta(t, 0.25, v, 1e-9)
	}
	assert.Nil(t, softmax(nil))
}
