package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/wayfarer/internal/compose"
	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/dialog"
	"github.com/raphaelgruber/wayfarer/internal/intents"
	"github.com/raphaelgruber/wayfarer/internal/knowledge"
	"github.com/raphaelgruber/wayfarer/internal/langdetect"
	"github.com/raphaelgruber/wayfarer/internal/metrics"
	"github.com/raphaelgruber/wayfarer/internal/models"
	"github.com/raphaelgruber/wayfarer/internal/services"
	"github.com/raphaelgruber/wayfarer/internal/session"
)

// Wednesday.
var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type scripted struct {
	res  models.IntentResult
	ents []models.Entity
}

type fakeNLU struct {
	script  map[string]scripted
	warmErr error
	// panicOn makes Classify fail hard for one utterance.
	panicOn string
}

func (f *fakeNLU) Classify(_ context.Context, utterance, _ string) (models.IntentResult, []models.Entity) {
	if utterance == f.panicOn {
		var seen map[string]int
		seen[utterance]++
	}
	if s, ok := f.script[utterance]; ok {
		return s.res, s.ents
	}
	return models.IntentResult{Label: models.IntentUnknown, Confidence: 0.2, Source: models.SourceClassifier}, nil
}

func (f *fakeNLU) Gazetteer() models.Gazetteer {
	return models.Gazetteer{Cities: []models.City{
		{Name: "Luxor", Location: models.GeoPoint{Lat: 25.6872, Lon: 32.6396}},
		{Name: "Cairo", Location: models.GeoPoint{Lat: 30.0444, Lon: 31.2357}},
	}}
}

func (f *fakeNLU) Warmup(context.Context) error { return f.warmErr }

func city(v string) models.Entity {
	return models.Entity{Type: models.EntityCity, Value: v, Confidence: 1}
}

func defaultScript() map[string]scripted {
	return map[string]scripted{
		"hi": {res: models.IntentResult{Label: "greeting", Confidence: 0.97, Source: models.SourceRule}},
		"attractions in Luxor": {
			res:  models.IntentResult{Label: "find_attractions", Confidence: 0.82, Source: models.SourceClassifier},
			ents: []models.Entity{city("Luxor")},
		},
		"hotels in Luxor": {
			res:  models.IntentResult{Label: "find_hotels", Confidence: 0.8, Source: models.SourceClassifier},
			ents: []models.Entity{city("Luxor")},
		},
		"show me attractions": {
			res: models.IntentResult{Label: "find_attractions", Confidence: 0.7, Source: models.SourceClassifier},
		},
		"Luxor": {
			res:  models.IntentResult{Label: models.IntentUnknown, Confidence: 0.3, Source: models.SourceClassifier},
			ents: []models.Entity{city("Luxor")},
		},
		"book a tour in Luxor for 99 people": {
			res: models.IntentResult{Label: "book_tour", Confidence: 0.97, Source: models.SourceRule},
			ents: []models.Entity{
				city("Luxor"),
				{Type: models.EntityPartySize, Value: "99", Confidence: 0.9},
			},
		},
	}
}

type fakeRetriever struct {
	mu       sync.Mutex
	searches []models.SearchRequest
	results  []models.ScoredRecord
	err      error
	pingErr  error
	delay    time.Duration
	block    bool
	panics   bool
	// gate, when set, holds every search until it is closed.
	gate chan struct{}
}

func (f *fakeRetriever) Search(ctx context.Context, class models.EntityClass, query string, fl models.Filters, topK int) ([]models.ScoredRecord, error) {
	f.mu.Lock()
	f.searches = append(f.searches, models.SearchRequest{Class: class, Query: query, Filters: fl, TopK: topK})
	f.mu.Unlock()
	if f.panics {
		var hits map[string]int
		hits[query]++
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeRetriever) SearchRelaxed(ctx context.Context, class models.EntityClass, query string, fl models.Filters, topK int) (knowledge.Relaxed, error) {
	res, err := f.Search(ctx, class, query, fl, topK)
	return knowledge.Relaxed{Results: res}, err
}

func (f *fakeRetriever) GetByID(context.Context, models.EntityClass, string) (*models.Record, bool, error) {
	return nil, false, f.err
}

func (f *fakeRetriever) Ping(context.Context) error { return f.pingErr }

func (f *fakeRetriever) calls() []models.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SearchRequest(nil), f.searches...)
}

type recordingTracker struct {
	inner *dialog.Tracker
	mu    sync.Mutex
	calls int
	last  dialog.Decision
}

func (r *recordingTracker) Track(in dialog.Input) dialog.Decision {
	d := r.inner.Track(in)
	r.mu.Lock()
	r.calls++
	r.last = d
	r.mu.Unlock()
	return d
}

type fakeCap struct {
	name string
	fn   func(ctx context.Context, args services.Args) (any, error)
}

func (f fakeCap) Name() string { return f.name }

func (f fakeCap) Call(ctx context.Context, args services.Args) (any, error) { return f.fn(ctx, args) }

func weatherCap() fakeCap {
	return fakeCap{name: services.Weather, fn: func(context.Context, services.Args) (any, error) {
		return services.WeatherReport{Temperature: 31, High: 35, Low: 20, Condition: "clear"}, nil
	}}
}

func blockingCap(name string) fakeCap {
	return fakeCap{name: name, fn: func(ctx context.Context, _ services.Args) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func karnak() models.ScoredRecord {
	return models.ScoredRecord{Score: 0.9, Record: models.Record{
		ID:    "karnak-temple",
		Class: models.ClassAttraction,
		Name:  models.Localized{"en": "Karnak Temple"},
		City:  "Luxor",
	}}
}

type harness struct {
	o       *Orchestrator
	store   *session.MemoryStore
	nlu     *fakeNLU
	retr    *fakeRetriever
	tracker *recordingTracker
	metrics *metrics.Collector
}

type setup struct {
	caps    []services.Capability
	opts    func(*Options)
	store   SessionStore
	noReady bool
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	cat, err := intents.Default()
	require.NoError(t, err)
	tmpl, err := compose.DefaultCatalog()
	require.NoError(t, err)

	h := &harness{
		store:   session.NewMemoryStore(time.Hour),
		nlu:     &fakeNLU{script: defaultScript()},
		retr:    &fakeRetriever{results: []models.ScoredRecord{karnak()}},
		tracker: &recordingTracker{inner: dialog.New(cat, dialog.Options{TopK: 5})},
		metrics: metrics.NewCollector(),
	}
	var store SessionStore = h.store
	if s.store != nil {
		store = s.store
	}
	opts := DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	opts.ReadyWait = 50 * time.Millisecond
	if s.opts != nil {
		s.opts(&opts)
	}
	h.o = New(Deps{
		Sessions:  store,
		Detector:  langdetect.New("en"),
		NLU:       h.nlu,
		Catalog:   cat,
		Tracker:   h.tracker,
		Retriever: h.retr,
		Services:  services.NewDispatcher(s.caps, 0, services.DefaultBreakerSettings(), h.metrics, config.Discard()),
		Composer:  compose.New(tmpl, config.Discard()),
		Metrics:   h.metrics,
		Logger:    config.Discard(),
	}, opts)
	if !s.noReady {
		require.NoError(t, h.o.Warmup(context.Background(), time.Second))
	}
	return h
}

func (h *harness) turn(t *testing.T, sessionID, utterance string) models.TurnResult {
	t.Helper()
	res, err := h.o.HandleTurn(context.Background(), TurnRequest{SessionID: sessionID, Utterance: utterance, Language: "en"})
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T, id string) *models.Session {
	t.Helper()
	s, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestLuxorScenarioResolvesInOneTurn(t *testing.T) {
	h := newHarness(t, setup{caps: []services.Capability{weatherCap()}})

	res := h.turn(t, "", "attractions in Luxor")
	assert.Equal(t, models.ActionAnswer, res.Action)
	assert.False(t, res.Degraded)
	assert.False(t, res.FastPath)
	assert.Contains(t, res.Text, "Karnak Temple")
	assert.Contains(t, res.Text, "Weather in Luxor")
	assert.NotEmpty(t, res.SessionID)

	assert.Equal(t, []models.DialogStateName{models.StateIdle, models.StateCollecting, models.StateResolved},
		h.tracker.last.Action.Transitions)

	calls := h.retr.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.ClassAttraction, calls[0].Class)
	assert.Equal(t, models.Filters{City: "Luxor"}, calls[0].Filters)

	sess := h.session(t, res.SessionID)
	assert.Equal(t, map[string]string{"city": "Luxor"}, sess.Slots)
	assert.Equal(t, models.StateIdle, sess.Dialog.State)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, models.RoleUser, sess.Turns[0].Role)
	assert.Equal(t, "attractions in Luxor", sess.Turns[0].Text)
	assert.Equal(t, models.RoleAssistant, sess.Turns[1].Role)
	assert.Equal(t, res.Text, sess.Turns[1].Text)
}

func TestGreetingTakesFastPath(t *testing.T) {
	h := newHarness(t, setup{})

	res := h.turn(t, "", "hi")
	assert.True(t, res.FastPath)
	assert.False(t, res.Degraded)
	assert.Equal(t, "greeting", res.Intent)
	assert.Empty(t, h.retr.calls(), "fast path must not touch retrieval")
	assert.Zero(t, h.tracker.calls, "fast path must not touch the tracker")
	assert.Len(t, h.session(t, res.SessionID).Turns, 2)
	assert.Equal(t, int64(1), h.metrics.Snapshot().Counters[metrics.CountFastPath])
}

func TestFastPathMatchesFullPath(t *testing.T) {
	fast := newHarness(t, setup{})
	full := newHarness(t, setup{opts: func(o *Options) { o.FastPathThreshold = 0.99 }})

	a := fast.turn(t, "", "hi")
	b := full.turn(t, "", "hi")
	require.True(t, a.FastPath)
	require.False(t, b.FastPath)
	assert.Equal(t, 1, full.tracker.calls)
	assert.Equal(t, a.Text, b.Text)
	assert.Equal(t, a.Suggestions, b.Suggestions)
	assert.Equal(t, a.Media, b.Media)
	assert.Equal(t, a.Degraded, b.Degraded)
}

func TestCapabilityTimeoutDegrades(t *testing.T) {
	h := newHarness(t, setup{
		caps: []services.Capability{blockingCap(services.Weather)},
		opts: func(o *Options) { o.CapabilityTimeout = 30 * time.Millisecond },
	})

	start := time.Now()
	res := h.turn(t, "", "attractions in Luxor")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Text)
	assert.Contains(t, res.Text, "Karnak Temple")
	assert.True(t, h.session(t, res.SessionID).Turns[1].Degraded)
}

func TestTurnDeadlineBoundsRetrieval(t *testing.T) {
	h := newHarness(t, setup{opts: func(o *Options) { o.TurnDeadline = 40 * time.Millisecond }})
	h.retr.block = true

	res := h.turn(t, "", "attractions in Luxor")
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Text, "can't reach my travel guide")
	assert.Len(t, h.session(t, res.SessionID).Turns, 2)
}

func TestRetrievalUnavailableApologizes(t *testing.T) {
	h := newHarness(t, setup{})
	h.retr.err = knowledge.ErrUnavailable

	res := h.turn(t, "", "attractions in Luxor")
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Text, "can't reach my travel guide")

	sess := h.session(t, res.SessionID)
	require.Len(t, sess.Turns, 2)
	assert.True(t, sess.Turns[1].Degraded)
	assert.Equal(t, int64(1), h.metrics.Snapshot().Counters[metrics.CountDegraded])
}

func TestPanickingStageDegrades(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		arrange   func(h *harness)
		action    models.ActionKind
	}{
		{
			name:      "retriever",
			utterance: "attractions in Luxor",
			arrange:   func(h *harness) { h.retr.panics = true },
			action:    models.ActionAnswer,
		},
		{
			name:      "nlu",
			utterance: "hi",
			arrange:   func(h *harness) { h.nlu.panicOn = "hi" },
			action:    models.ActionFallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, setup{})
			tt.arrange(h)

			res, err := h.o.HandleTurn(context.Background(), TurnRequest{Utterance: tt.utterance, Language: "en"})
			require.NoError(t, err)
			assert.True(t, res.Degraded)
			assert.NotEmpty(t, res.Text)
			assert.Equal(t, tt.action, res.Action)

			sess := h.session(t, res.SessionID)
			require.Len(t, sess.Turns, 2)
			assert.Equal(t, tt.utterance, sess.Turns[0].Text)
			assert.True(t, sess.Turns[1].Degraded)
			assert.Equal(t, int64(1), h.metrics.Snapshot().Counters[metrics.CountPanics])
			assert.Zero(t, h.o.locks.size())
		})
	}
}

func TestCollectSlotAcrossTurns(t *testing.T) {
	h := newHarness(t, setup{})

	first := h.turn(t, "", "show me attractions")
	assert.Equal(t, models.ActionAskSlot, first.Action)
	assert.Contains(t, first.Text, "Which city")
	assert.Empty(t, h.retr.calls())
	assert.Equal(t, models.StateCollecting, h.session(t, first.SessionID).Dialog.State)

	second := h.turn(t, first.SessionID, "Luxor")
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, models.ActionAnswer, second.Action)
	require.Len(t, h.retr.calls(), 1)
	assert.Equal(t, "Luxor", h.retr.calls()[0].Filters.City)
	assert.Len(t, h.session(t, first.SessionID).Turns, 4)
}

func TestInvalidValueNeverReachesSlots(t *testing.T) {
	h := newHarness(t, setup{})

	res := h.turn(t, "", "book a tour in Luxor for 99 people")
	assert.Equal(t, models.ActionAskSlot, res.Action)

	sess := h.session(t, res.SessionID)
	_, ok := sess.Slots["party_size"]
	assert.False(t, ok)
	for _, v := range sess.Slots {
		assert.NotEqual(t, "99", v)
	}
	// The raw entity is kept in history only.
	assert.Equal(t, "99", sess.Turns[0].Entities[1].Value)
}

func TestConcurrentTurnsSameSessionAreSerialized(t *testing.T) {
	h := newHarness(t, setup{})
	first := h.turn(t, "", "hi")
	h.retr.delay = 30 * time.Millisecond

	utterances := []string{"attractions in Luxor", "hotels in Luxor"}
	var wg sync.WaitGroup
	errs := make([]error, len(utterances))
	for i, u := range utterances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.o.HandleTurn(context.Background(), TurnRequest{SessionID: first.SessionID, Utterance: u, Language: "en"})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	sess := h.session(t, first.SessionID)
	require.Len(t, sess.Turns, 6)
	seen := map[string]int{}
	for i := 0; i < len(sess.Turns); i += 2 {
		assert.Equal(t, models.RoleUser, sess.Turns[i].Role)
		assert.Equal(t, models.RoleAssistant, sess.Turns[i+1].Role)
		seen[sess.Turns[i].Text]++
	}
	assert.Equal(t, map[string]int{"hi": 1, "attractions in Luxor": 1, "hotels in Luxor": 1}, seen)
	assert.Zero(t, h.o.locks.size())
}

func TestSessionBusy(t *testing.T) {
	h := newHarness(t, setup{opts: func(o *Options) { o.SessionLockWait = 20 * time.Millisecond }})

	release, err := h.o.locks.acquire(context.Background(), "busy", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = h.o.HandleTurn(context.Background(), TurnRequest{SessionID: "busy", Utterance: "hi"})
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestInvalidInputIsRejected(t *testing.T) {
	h := newHarness(t, setup{opts: func(o *Options) { o.MaxUtteranceLength = 10 }})

	tests := []struct {
		name      string
		utterance string
	}{
		{"empty", ""},
		{"whitespace", "   \t"},
		{"too long", strings.Repeat("a", 11)},
		{"invalid utf8", "\xff\xfe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.o.HandleTurn(context.Background(), TurnRequest{SessionID: "s1", Utterance: tt.utterance})
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	s, err := h.store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, s, "rejected input must not create state")
}

func TestNotReady(t *testing.T) {
	h := newHarness(t, setup{noReady: true, opts: func(o *Options) { o.ReadyWait = 10 * time.Millisecond }})

	assert.False(t, h.o.Ready())
	_, err := h.o.HandleTurn(context.Background(), TurnRequest{Utterance: "hi"})
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, h.o.Warmup(context.Background(), time.Second))
	assert.True(t, h.o.Ready())
	_, err = h.o.HandleTurn(context.Background(), TurnRequest{Utterance: "hi"})
	assert.NoError(t, err)
}

func TestWarmupFailsWhenStorageUnreachable(t *testing.T) {
	h := newHarness(t, setup{noReady: true})
	h.retr.pingErr = errors.New("connection refused")

	err := h.o.Warmup(context.Background(), 300*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage unreachable")
	assert.False(t, h.o.Ready())
}

func TestWarmupToleratesNLUFailure(t *testing.T) {
	h := newHarness(t, setup{noReady: true})
	h.nlu.warmErr = errors.New("embedder down")

	require.NoError(t, h.o.Warmup(context.Background(), time.Second))
	assert.True(t, h.o.Ready())
}

func TestUnknownSessionStartsNew(t *testing.T) {
	h := newHarness(t, setup{})

	res := h.turn(t, "expired-id", "hi")
	assert.NotEqual(t, "expired-id", res.SessionID)
	assert.Len(t, h.session(t, res.SessionID).Turns, 2)
	s, err := h.store.Get(context.Background(), "expired-id")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func waiters(l *keyedLock, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.refs
	}
	return 0
}

func TestQueuedTurnsOnExpiredIDShareOneSession(t *testing.T) {
	h := newHarness(t, setup{})
	h.retr.gate = make(chan struct{})

	utterances := []string{"attractions in Luxor", "hotels in Luxor"}
	results := make([]models.TurnResult, len(utterances))
	errs := make([]error, len(utterances))
	var wg sync.WaitGroup
	submit := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.o.HandleTurn(context.Background(),
				TurnRequest{SessionID: "expired-id", Utterance: utterances[i], Language: "en"})
		}()
	}

	submit(0)
	require.Eventually(t, func() bool { return len(h.retr.calls()) == 1 }, time.Second, time.Millisecond)
	submit(1)
	require.Eventually(t, func() bool { return waiters(h.o.locks, "expired-id") == 2 }, time.Second, time.Millisecond)
	close(h.retr.gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.NotEqual(t, "expired-id", results[0].SessionID)
	assert.Equal(t, results[0].SessionID, results[1].SessionID)

	sess := h.session(t, results[0].SessionID)
	require.Len(t, sess.Turns, 4)
	assert.Equal(t, "attractions in Luxor", sess.Turns[0].Text)
	assert.Equal(t, "hotels in Luxor", sess.Turns[2].Text)
	assert.Zero(t, h.o.locks.size())
}

func TestCancelledTurnIsDiscarded(t *testing.T) {
	h := newHarness(t, setup{})
	first := h.turn(t, "", "hi")
	h.retr.block = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := h.o.HandleTurn(ctx, TurnRequest{SessionID: first.SessionID, Utterance: "attractions in Luxor", Language: "en"})
	assert.ErrorIs(t, err, context.Canceled)

	sess := h.session(t, first.SessionID)
	assert.Len(t, sess.Turns, 2)
	assert.Empty(t, sess.Slots)
}

// conflictStore lets another writer save the session right before the
// first Set of a turn.
type conflictStore struct {
	*session.MemoryStore
	interfered atomic.Bool
}

func (c *conflictStore) Set(ctx context.Context, s *models.Session) error {
	if !c.interfered.Swap(true) {
		other, err := c.MemoryStore.Get(ctx, s.ID)
		if err == nil && other != nil {
			other.Append(models.Turn{Role: models.RoleUser, Text: "from another replica", Timestamp: testNow})
			_ = c.MemoryStore.Set(ctx, other)
		}
	}
	return c.MemoryStore.Set(ctx, s)
}

func TestVersionConflictReappliesTurn(t *testing.T) {
	mem := session.NewMemoryStore(time.Hour)
	require.NoError(t, mem.Set(context.Background(), models.NewSession("s1", testNow)))
	cs := &conflictStore{MemoryStore: mem}
	h := newHarness(t, setup{store: cs})

	res := h.turn(t, "s1", "attractions in Luxor")
	assert.False(t, res.Degraded)

	sess, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 3)
	assert.Equal(t, "from another replica", sess.Turns[0].Text)
	assert.Equal(t, "attractions in Luxor", sess.Turns[1].Text)
	assert.Equal(t, "Luxor", sess.Slots["city"])
	assert.Equal(t, int64(1), h.metrics.Snapshot().Counters[metrics.CountConflictRetry])
}

func TestUnsupportedLanguageIsTranslated(t *testing.T) {
	translate := fakeCap{name: services.Translate, fn: func(_ context.Context, args services.Args) (any, error) {
		return services.Translation{Text: "[de] " + args["text"].(string), Target: args["target"].(string)}, nil
	}}
	h := newHarness(t, setup{caps: []services.Capability{translate}})

	res, err := h.o.HandleTurn(context.Background(), TurnRequest{Utterance: "hi", Language: "de"})
	require.NoError(t, err)
	assert.Equal(t, "de", res.Language)
	assert.True(t, strings.HasPrefix(res.Text, "[de] Hello"))
	assert.False(t, res.Degraded)
}

func TestTranslationFailureKeepsEnglish(t *testing.T) {
	h := newHarness(t, setup{
		caps: []services.Capability{blockingCap(services.Translate)},
		opts: func(o *Options) { o.CapabilityTimeout = 20 * time.Millisecond },
	})

	res, err := h.o.HandleTurn(context.Background(), TurnRequest{Utterance: "hi", Language: "de"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.True(t, strings.HasPrefix(res.Text, "Hello"))
}

func TestFallbackUsesGenerator(t *testing.T) {
	gen := fakeCap{name: services.Generate, fn: func(context.Context, services.Args) (any, error) {
		return services.Generation{Text: "Try a felucca ride at sunset."}, nil
	}}
	h := newHarness(t, setup{caps: []services.Capability{gen}})

	res := h.turn(t, "", "what should I do tonight")
	assert.Equal(t, models.ActionFallback, res.Action)
	assert.Equal(t, "Try a felucca ride at sunset.", res.Text)
	assert.False(t, res.Degraded)
}

func TestFallbackWithoutGenerator(t *testing.T) {
	h := newHarness(t, setup{})

	res := h.turn(t, "", "what should I do tonight")
	assert.Equal(t, models.ActionFallback, res.Action)
	assert.Contains(t, res.Text, "didn't quite get that")
	assert.False(t, res.Degraded)
}

func TestKeyedLockReleasesEntries(t *testing.T) {
	l := newKeyedLock()
	release, err := l.acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, l.size())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.acquire(ctx, "a", time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	l.setAlias("a", "fresh")
	assert.Equal(t, "fresh", l.alias("a"))

	release()
	assert.Equal(t, 0, l.size())
	assert.Empty(t, l.alias("a"))
}
