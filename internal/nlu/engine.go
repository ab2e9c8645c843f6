// Package nlu classifies utterances into intents and extracts entities.
//
// Three strategies run with fixed precedence: anchored rules for canonical
// phrasings, fuzzy gazetteer matching for entity names, and an
// embedding-centroid classifier over the full label set. The classifier is
// warmed lazily and bounded by a latency budget; when it is unavailable the
// engine falls back to keyword cues with a capped confidence.
package nlu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/intents"
	"github.com/raphaelgruber/wayfarer/internal/models"
)

// ErrBudgetExceeded is reported in logs when classification ran past the
// latency budget.
var ErrBudgetExceeded = errors.New("nlu latency budget exceeded")

var errWarmupBackoff = errors.New("nlu warm-up failed recently")

// GazetteerSource supplies known names for fuzzy matching and entity
// resolution.
type GazetteerSource interface {
	Gazetteer(ctx context.Context) (models.Gazetteer, error)
}

// Options tunes the engine.
type Options struct {
	LatencyBudget   time.Duration
	WarmupTimeout   time.Duration
	DegradedCeiling float64
	MinConfidence   float64
	FuzzyThreshold  float64
	// Temperature divides cosine similarities before the softmax.
	Temperature float64
	CueWeight   float64
	SlotWeight  float64
	// RetryInterval spaces out warm-up retries triggered by Classify after
	// a failure, so a dead backend does not stall every turn.
	RetryInterval time.Duration
	Now           func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		LatencyBudget:   250 * time.Millisecond,
		WarmupTimeout:   15 * time.Second,
		DegradedCeiling: 0.6,
		MinConfidence:   0.45,
		FuzzyThreshold:  0.8,
		Temperature:     0.1,
		CueWeight:       1.5,
		SlotWeight:      0.5,
		RetryInterval:   30 * time.Second,
		Now:             time.Now,
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	catalog  *intents.Catalog
	embedder embedding.Embedder
	source   GazetteerSource
	opts     Options
	logger   *slog.Logger

	rules   []rule
	cues    map[string][]string
	extract extractor

	warm      singleflight.Group
	mu        sync.RWMutex
	model     *centroidModel
	matcher   *matcher
	gazetteer models.Gazetteer
	failedAt  time.Time
}

// New creates an engine. source may be nil, in which case no names are
// recognized.
func New(catalog *intents.Catalog, embedder embedding.Embedder, source GazetteerSource, logger *slog.Logger, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.LatencyBudget <= 0 {
		opts.LatencyBudget = defaults.LatencyBudget
	}
	if opts.WarmupTimeout <= 0 {
		opts.WarmupTimeout = defaults.WarmupTimeout
	}
	if opts.DegradedCeiling <= 0 {
		opts.DegradedCeiling = defaults.DegradedCeiling
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = defaults.FuzzyThreshold
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaults.Temperature
	}
	if opts.CueWeight == 0 {
		opts.CueWeight = defaults.CueWeight
	}
	if opts.SlotWeight == 0 {
		opts.SlotWeight = defaults.SlotWeight
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaults.RetryInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		catalog:  catalog,
		embedder: embedder,
		source:   source,
		opts:     opts,
		logger:   logger,
		rules:    compileRules(catalog),
		cues:     indexCues(catalog),
		extract:  extractor{now: opts.Now},
	}
}

func indexCues(c *intents.Catalog) map[string][]string {
	idx := map[string][]string{}
	for _, in := range c.Intents() {
		for _, words := range in.Cues {
			for _, w := range words {
				key := embedding.Fold(w)
				if !slices.Contains(idx[key], in.ID) {
					idx[key] = append(idx[key], in.ID)
				}
			}
		}
	}
	return idx
}

// Warmup builds the classifier and loads the gazetteer. Concurrent callers
// share one initialization; a failed warm-up is retried on the next call.
func (e *Engine) Warmup(ctx context.Context) error {
	_, _, err := e.ensureWarm(ctx, true)
	return err
}

// Ready reports whether both the classifier and the gazetteer are loaded.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil && e.matcher != nil
}

// Refresh reloads the gazetteer, e.g. after the knowledge store changed.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.loadGazetteer(ctx)
}

// Gazetteer returns the currently loaded gazetteer.
func (e *Engine) Gazetteer() models.Gazetteer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gazetteer
}

func (e *Engine) ensureWarm(ctx context.Context, force bool) (*centroidModel, *matcher, error) {
	e.mu.RLock()
	model, m, failedAt := e.model, e.matcher, e.failedAt
	e.mu.RUnlock()
	if model != nil && m != nil {
		return model, m, nil
	}
	if !force && !failedAt.IsZero() && e.opts.Now().Sub(failedAt) < e.opts.RetryInterval {
		return model, m, errWarmupBackoff
	}

	_, err, _ := e.warm.Do("warm", func() (any, error) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.WarmupTimeout)
		defer cancel()
		return nil, e.warmup(wctx)
	})

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model, e.matcher, err
}

func (e *Engine) warmup(ctx context.Context) error {
	start := time.Now()
	var errs []error

	e.mu.RLock()
	needModel, needGaz := e.model == nil, e.matcher == nil
	e.mu.RUnlock()

	if needModel {
		model, err := buildModel(ctx, e.embedder, e.catalog)
		if err != nil {
			errs = append(errs, fmt.Errorf("build classifier: %w", err))
		} else {
			e.mu.Lock()
			e.model = model
			e.mu.Unlock()
		}
	}
	if needGaz {
		if err := e.loadGazetteer(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	e.mu.Lock()
	if err != nil {
		e.failedAt = e.opts.Now()
	} else {
		e.failedAt = time.Time{}
	}
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("nlu warm-up incomplete", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return err
	}
	e.logger.Info("nlu warm", "duration_ms", time.Since(start).Milliseconds(), "model", e.embedder.Model())
	return nil
}

func (e *Engine) loadGazetteer(ctx context.Context) error {
	var g models.Gazetteer
	if e.source != nil {
		var err error
		g, err = e.source.Gazetteer(ctx)
		if err != nil {
			return fmt.Errorf("load gazetteer: %w", err)
		}
	}
	m := newMatcher(g, e.opts.FuzzyThreshold)
	e.mu.Lock()
	e.gazetteer = g
	e.matcher = m
	e.mu.Unlock()
	return nil
}

// Classify never fails. When the classifier cannot run, the result carries
// Degraded=true and a confidence no higher than the degraded ceiling.
func (e *Engine) Classify(ctx context.Context, utterance, lang string) (models.IntentResult, []models.Entity) {
	text := normalize(utterance)

	if r, ok := matchRule(e.rules, text, lang); ok {
		res := models.IntentResult{Label: r.intent, Confidence: r.confidence, Source: models.SourceRule}
		in, _ := e.catalog.Get(r.intent)
		if in.Kind != intents.KindTask {
			return res, nil
		}
		_, m, err := e.ensureWarm(ctx, false)
		if m == nil && err != nil {
			res.Degraded = true
		}
		return res, e.entities(utterance, m)
	}

	model, m, warmErr := e.ensureWarm(ctx, false)
	entities := e.entities(utterance, m)
	hits := e.cueHits(utterance)

	if model == nil {
		e.logger.Debug("classifier unavailable", "error", warmErr)
		return e.degraded(hits, entities), entities
	}

	vec, err := e.embedWithin(ctx, utterance)
	if err != nil {
		e.logger.Warn("classifier degraded", "error", err)
		return e.degraded(hits, entities), entities
	}

	res := e.rank(model, vec, hits, entities)
	if m == nil {
		res.Degraded = true
		res.Confidence = min(res.Confidence, e.opts.DegradedCeiling)
	}
	return res, entities
}

// embedWithin bounds the utterance embedding by the latency budget even for
// embedders that ignore cancellation.
func (e *Engine) embedWithin(ctx context.Context, utterance string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.LatencyBudget)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := e.embedder.Embed(ctx, utterance)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.vec, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrBudgetExceeded
		}
		return nil, ctx.Err()
	}
}

func (e *Engine) entities(utterance string, m *matcher) []models.Entity {
	out := m.find(utterance)
	var taken []models.Span
	for _, ent := range out {
		taken = append(taken, ent.Span)
	}
	for _, ent := range e.extract.extract(utterance) {
		if !overlapsAny(ent.Span, taken) {
			out = append(out, ent)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}

func (e *Engine) cueHits(utterance string) map[string]int {
	hits := map[string]int{}
	seen := map[string]bool{}
	for _, tok := range tokenize(utterance) {
		if seen[tok.folded] {
			continue
		}
		seen[tok.folded] = true
		for _, id := range e.cues[tok.folded] {
			hits[id]++
		}
	}
	return hits
}

// slotSupport counts the distinct entity types present that fill a slot of
// the intent.
func (e *Engine) slotSupport(in intents.Intent, entities []models.Entity) int {
	n := 0
	seen := map[models.EntityType]bool{}
	for _, ent := range entities {
		if seen[ent.Type] {
			continue
		}
		if _, ok := e.catalog.SlotForEntity(in.Slots(), ent.Type); ok {
			seen[ent.Type] = true
			n++
		}
	}
	return n
}

func (e *Engine) rank(model *centroidModel, vec []float32, hits map[string]int, entities []models.Entity) models.IntentResult {
	sims := model.similarities(vec)
	logits := make([]float64, len(sims))
	for i, label := range model.labels {
		in, _ := e.catalog.Get(label)
		logits[i] = sims[i]/e.opts.Temperature +
			e.opts.CueWeight*float64(hits[label]) +
			e.opts.SlotWeight*float64(e.slotSupport(in, entities))
	}
	probs := softmax(logits)

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })

	res := models.IntentResult{
		Label:      model.labels[order[0]],
		Confidence: round3(probs[order[0]]),
		Source:     models.SourceClassifier,
	}
	for _, i := range order[1:min(len(order), 4)] {
		res.Alternates = append(res.Alternates, models.ScoredIntent{Label: model.labels[i], Confidence: round3(probs[i])})
	}
	if res.Confidence < e.opts.MinConfidence {
		res.Alternates = append([]models.ScoredIntent{{Label: res.Label, Confidence: res.Confidence}}, res.Alternates...)
		res.Label = models.IntentUnknown
	}
	return res
}

// degraded guesses from keyword cues and recognized names alone.
func (e *Engine) degraded(hits map[string]int, entities []models.Entity) models.IntentResult {
	res := models.IntentResult{Label: models.IntentUnknown, Degraded: true}

	best, bestHits := "", 0
	for _, id := range e.catalog.Labels() {
		if hits[id] > bestHits {
			best, bestHits = id, hits[id]
		}
	}
	switch {
	case bestHits > 0:
		res.Label = best
		res.Source = models.SourceCue
		res.Confidence = min(e.opts.DegradedCeiling, 0.45+0.05*float64(bestHits))
	case len(models.EntitiesOfType(entities, models.EntityAttraction)) > 0:
		if _, ok := e.catalog.Get("attraction_info"); ok {
			res.Label = "attraction_info"
			res.Source = models.SourceFuzzy
			res.Confidence = min(e.opts.DegradedCeiling, 0.5)
		}
	}
	return res
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}
