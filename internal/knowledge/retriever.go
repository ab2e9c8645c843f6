package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/metrics"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// Options tunes ranking.
type Options struct {
	// Filtered weights apply when at least one filter is set.
	Filtered Weights
	// Unfiltered weights apply to free-text searches.
	Unfiltered Weights
	// DefaultTopK is used when a caller passes topK <= 0.
	DefaultTopK int
	// Cities adds aliases and reference locations to the gazetteer.
	Cities []CityInfo
}

// DefaultOptions skew toward exact filter matches when filters are present.
func DefaultOptions() Options {
	return Options{
		Filtered:    Weights{Keyword: 0.7, Vector: 0.3},
		Unfiltered:  Weights{Keyword: 0.35, Vector: 0.65},
		DefaultTopK: 5,
	}
}

// Retriever runs hybrid searches against a Store, optionally using an
// external VectorIndex for the vector pass.
type Retriever struct {
	store    Store
	index    VectorIndex
	embedder embedding.Embedder
	metrics  *metrics.Collector
	logger   *slog.Logger
	opts     Options
}

// New creates a retriever. index and collector may be nil.
func New(store Store, index VectorIndex, embedder embedding.Embedder, collector *metrics.Collector, logger *slog.Logger, opts Options) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultOptions().DefaultTopK
	}
	return &Retriever{
		store:    store,
		index:    index,
		embedder: embedder,
		metrics:  collector,
		logger:   logger,
		opts:     opts,
	}
}

// Search returns at most topK records of class matching every set filter,
// ranked by blended keyword and vector score with ties broken by id.
// A filter set matching nothing yields an empty result and no error.
func (r *Retriever) Search(ctx context.Context, class models.EntityClass, query string, f models.Filters, topK int) ([]models.ScoredRecord, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}
	if topK <= 0 {
		topK = r.opts.DefaultTopK
	}
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordTiming(metrics.OpRetrieval, time.Since(start))
		}
	}()

	candidates, err := r.store.Filter(ctx, class, f)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %s: %w", ErrUnavailable, class, err)
	}
	if len(candidates) == 0 {
		return []models.ScoredRecord{}, nil
	}

	sims, err := r.similarities(ctx, class, query, f, len(candidates))
	if err != nil {
		return nil, err
	}

	w := r.opts.Unfiltered
	if !f.IsEmpty() {
		w = r.opts.Filtered
	}
	ranked := rank(candidates, queryTerms(query), sims, !f.IsEmpty(), w)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	r.logger.Debug("search",
		"class", class,
		"query", query,
		"filters", f.Count(),
		"candidates", len(candidates),
		"results", len(ranked))
	return ranked, nil
}

// similarities runs the vector pass. Only hits whose ids resolve to a
// stored record are used. An embedding failure leaves the vector pass
// empty rather than failing the search.
func (r *Retriever) similarities(ctx context.Context, class models.EntityClass, query string, f models.Filters, limit int) (map[string]float64, error) {
	sims := map[string]float64{}
	if strings.TrimSpace(query) == "" || r.embedder == nil {
		return sims, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("query embedding failed, keyword ranking only", "error", err)
		return sims, nil
	}

	var hits []Hit
	if r.index != nil {
		hits, err = r.index.Search(ctx, class, f, vec, limit)
		if err != nil {
			r.logger.Warn("vector index search failed, using store", "error", err)
			hits = nil
		}
	}
	if hits == nil {
		hits, err = r.store.VectorSearch(ctx, class, f, vec, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: vector search %s: %w", ErrUnavailable, class, err)
		}
	}
	for _, h := range hits {
		sims[h.ID] = h.Similarity
	}
	return sims, nil
}

// Dropped filter names reported by SearchRelaxed.
const (
	DroppedPriceBand = "price_band"
	DroppedCategory  = "category"
	DroppedCity      = "city"
)

// Relaxed is the outcome of SearchRelaxed.
type Relaxed struct {
	Results []models.ScoredRecord
	// Dropped lists the filters removed to obtain Results, in drop order.
	Dropped []string
}

// SearchRelaxed runs Search and, while the result is empty, drops set
// filters in the order price band, category, city.
func (r *Retriever) SearchRelaxed(ctx context.Context, class models.EntityClass, query string, f models.Filters, topK int) (Relaxed, error) {
	var out Relaxed
	for {
		results, err := r.Search(ctx, class, query, f, topK)
		if err != nil {
			return Relaxed{}, err
		}
		out.Results = results
		if len(results) > 0 || f.IsEmpty() {
			return out, nil
		}
		switch {
		case f.PriceBand != "":
			f.PriceBand = ""
			out.Dropped = append(out.Dropped, DroppedPriceBand)
		case f.Category != "":
			f.Category = ""
			out.Dropped = append(out.Dropped, DroppedCategory)
		default:
			f.City = ""
			out.Dropped = append(out.Dropped, DroppedCity)
		}
	}
}

// GetByID looks up one record. An absent record is (nil, false, nil).
func (r *Retriever) GetByID(ctx context.Context, class models.EntityClass, id string) (*models.Record, bool, error) {
	if !class.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidClass, class)
	}
	rec, err := r.store.Get(ctx, class, id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s:%s: %w", ErrUnavailable, class, id, err)
	}
	if rec == nil {
		return nil, false, nil
	}
	rec.Embedding = nil
	return rec, true, nil
}

// Ping checks the store and, when configured, the vector index.
func (r *Retriever) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if r.index != nil {
		if err := r.index.Ping(ctx); err != nil {
			return fmt.Errorf("%w: vector index: %w", ErrUnavailable, err)
		}
	}
	return nil
}

// Gazetteer lists every record name (one entry per language), every city
// and every category known to the store.
func (r *Retriever) Gazetteer(ctx context.Context) (models.Gazetteer, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return models.Gazetteer{}, fmt.Errorf("%w: list: %w", ErrUnavailable, err)
	}
	return buildGazetteer(records, r.opts.Cities), nil
}

func buildGazetteer(records []models.Record, cities []CityInfo) models.Gazetteer {
	var g models.Gazetteer
	seen := map[string]bool{}
	add := func(e models.GazetteerEntry) {
		key := string(e.Type) + "|" + e.RecordID + "|" + strings.ToLower(e.Name)
		if e.Name == "" || seen[key] {
			return
		}
		seen[key] = true
		g.Entries = append(g.Entries, e)
	}

	type acc struct {
		name     string
		lat, lon float64
		n        int
	}
	byCity := map[string]*acc{}
	var cityOrder []string
	categories := map[string]bool{}

	for _, rec := range records {
		for _, lang := range slices.Sorted(maps.Keys(rec.Name)) {
			add(models.GazetteerEntry{
				Name:     rec.Name[lang],
				Type:     models.EntityTypeForClass(rec.Class),
				Value:    rec.Name.In("en"),
				RecordID: rec.ID,
				Class:    rec.Class,
			})
		}
		if rec.City != "" {
			key := strings.ToLower(rec.City)
			a, ok := byCity[key]
			if !ok {
				a = &acc{name: rec.City}
				byCity[key] = a
				cityOrder = append(cityOrder, key)
			}
			if !rec.Location.IsZero() {
				a.lat += rec.Location.Lat
				a.lon += rec.Location.Lon
				a.n++
			}
		}
		if rec.Category != "" {
			categories[strings.ToLower(rec.Category)] = true
		}
	}

	known := map[string]CityInfo{}
	for _, c := range cities {
		known[strings.ToLower(c.Name)] = c
	}
	for _, key := range cityOrder {
		a := byCity[key]
		city := models.City{Name: a.name}
		info, ok := known[key]
		switch {
		case ok && !info.Location.IsZero():
			city.Location = info.Location
		case a.n > 0:
			city.Location = models.GeoPoint{Lat: a.lat / float64(a.n), Lon: a.lon / float64(a.n)}
		}
		g.Cities = append(g.Cities, city)
		add(models.GazetteerEntry{Name: a.name, Type: models.EntityCity, Value: a.name})
		for _, lang := range slices.Sorted(maps.Keys(info.Names)) {
			add(models.GazetteerEntry{Name: info.Names[lang], Type: models.EntityCity, Value: a.name})
		}
	}
	for _, c := range slices.Sorted(maps.Keys(categories)) {
		add(models.GazetteerEntry{Name: c, Type: models.EntityCategory, Value: c})
	}
	return g
}
