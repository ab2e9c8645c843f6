// Package orchestrator runs conversation turns end to end: session load,
// language detection, NLU, dialog tracking, grounding retrieval and
// capability fan-out, response composition and persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/wayfarer/internal/compose"
	"github.com/raphaelgruber/wayfarer/internal/dialog"
	"github.com/raphaelgruber/wayfarer/internal/intents"
	"github.com/raphaelgruber/wayfarer/internal/knowledge"
	"github.com/raphaelgruber/wayfarer/internal/langdetect"
	"github.com/raphaelgruber/wayfarer/internal/metrics"
	"github.com/raphaelgruber/wayfarer/internal/models"
	"github.com/raphaelgruber/wayfarer/internal/services"
	"github.com/raphaelgruber/wayfarer/internal/session"
)

// Errors returned by HandleTurn. Every other failure degrades the turn.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotReady     = errors.New("assistant not ready")
	ErrSessionBusy  = errors.New("session busy")
)

// SessionStore is the subset of session.Store a turn needs.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Set(ctx context.Context, s *models.Session) error
	Ping(ctx context.Context) error
}

// LanguageDetector classifies utterance language.
type LanguageDetector interface {
	Detect(text, previous string) langdetect.Detection
}

// NLU classifies utterances and exposes the gazetteer it matched against.
type NLU interface {
	Classify(ctx context.Context, utterance, lang string) (models.IntentResult, []models.Entity)
	Gazetteer() models.Gazetteer
	Warmup(ctx context.Context) error
}

// Tracker decides the dialog action for a turn.
type Tracker interface {
	Track(in dialog.Input) dialog.Decision
}

// Retriever loads grounding records.
type Retriever interface {
	Search(ctx context.Context, class models.EntityClass, query string, f models.Filters, topK int) ([]models.ScoredRecord, error)
	SearchRelaxed(ctx context.Context, class models.EntityClass, query string, f models.Filters, topK int) (knowledge.Relaxed, error)
	GetByID(ctx context.Context, class models.EntityClass, id string) (*models.Record, bool, error)
	Ping(ctx context.Context) error
}

// Capabilities invokes external services.
type Capabilities interface {
	Has(name string) bool
	Invoke(ctx context.Context, name string, args services.Args, timeout time.Duration) services.Outcome
	InvokeAll(ctx context.Context, calls []services.Call, deadline time.Duration) map[string]services.Outcome
}

// Composer renders responses.
type Composer interface {
	Canned(intent, lang string) (compose.Response, bool)
	Compose(in compose.Input) compose.Response
	Apology(lang string) compose.Response
}

// TurnRequest is one user submission. SessionID and Language are optional.
type TurnRequest struct {
	SessionID string
	Utterance string
	// Language is a caller hint (e.g. a UI locale). Detection runs when
	// it is empty or unparseable.
	Language string
}

// Options tunes turn handling.
type Options struct {
	FastPathThreshold  float64
	TurnDeadline       time.Duration
	CapabilityTimeout  time.Duration
	SessionLockWait    time.Duration
	ReadyWait          time.Duration
	MaxUtteranceLength int
	// RelaxEmptySearch retries empty searches with fewer filters.
	RelaxEmptySearch bool
	Now              func() time.Time
	NewID            func() string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		FastPathThreshold:  0.9,
		TurnDeadline:       2500 * time.Millisecond,
		CapabilityTimeout:  1500 * time.Millisecond,
		SessionLockWait:    5 * time.Second,
		ReadyWait:          2 * time.Second,
		MaxUtteranceLength: 1000,
		Now:                time.Now,
		NewID:              uuid.NewString,
	}
}

// Deps are the collaborators of an Orchestrator, built by the caller.
type Deps struct {
	Sessions  SessionStore
	Detector  LanguageDetector
	NLU       NLU
	Catalog   *intents.Catalog
	Tracker   Tracker
	Retriever Retriever
	Services  Capabilities
	Composer  Composer
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Orchestrator is safe for concurrent use. Turns for different sessions run
// in parallel; turns for the same session are serialized.
type Orchestrator struct {
	sessions  SessionStore
	detector  LanguageDetector
	nlu       NLU
	catalog   *intents.Catalog
	tracker   Tracker
	retriever Retriever
	services  Capabilities
	composer  Composer
	metrics   *metrics.Collector
	logger    *slog.Logger
	opts      Options

	locks     *keyedLock
	ready     chan struct{}
	readyOnce sync.Once
}

// New creates an orchestrator. Zero option fields take their defaults.
func New(d Deps, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.FastPathThreshold <= 0 {
		opts.FastPathThreshold = def.FastPathThreshold
	}
	if opts.TurnDeadline <= 0 {
		opts.TurnDeadline = def.TurnDeadline
	}
	if opts.CapabilityTimeout <= 0 {
		opts.CapabilityTimeout = def.CapabilityTimeout
	}
	if opts.SessionLockWait <= 0 {
		opts.SessionLockWait = def.SessionLockWait
	}
	if opts.ReadyWait <= 0 {
		opts.ReadyWait = def.ReadyWait
	}
	if opts.MaxUtteranceLength <= 0 {
		opts.MaxUtteranceLength = def.MaxUtteranceLength
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.NewID == nil {
		opts.NewID = def.NewID
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions:  d.Sessions,
		detector:  d.Detector,
		nlu:       d.NLU,
		catalog:   d.Catalog,
		tracker:   d.Tracker,
		retriever: d.Retriever,
		services:  d.Services,
		composer:  d.Composer,
		metrics:   d.Metrics,
		logger:    logger,
		opts:      opts,
		locks:     newKeyedLock(),
		ready:     make(chan struct{}),
	}
}

// turn carries the state of one in-flight turn.
type turn struct {
	req    TurnRequest
	id     string
	logger *slog.Logger
	now    time.Time
	sess   *models.Session
	nlu    models.IntentResult
	ents   []models.Entity
	action models.DialogAction
	resp   compose.Response
	fast   bool
}

// HandleTurn processes one utterance. It returns an error only for invalid
// input, a gate that did not open in time, a session that stayed busy, or
// caller cancellation; in every other case the result carries a message,
// with Degraded set when a stage failed.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (models.TurnResult, error) {
	start := time.Now()
	req.Utterance = strings.TrimSpace(req.Utterance)
	if err := o.validate(req); err != nil {
		o.metrics.Inc(metrics.CountRejected)
		return models.TurnResult{}, err
	}
	if err := o.waitReady(ctx); err != nil {
		o.metrics.Inc(metrics.CountRejected)
		return models.TurnResult{}, err
	}

	t := &turn{req: req, id: shortID(o.opts.NewID()), now: o.opts.Now()}
	t.logger = o.logger.With("turn_id", t.id)

	lockKey := req.SessionID
	if lockKey == "" {
		lockKey = o.opts.NewID()
	}
	release, err := o.locks.acquire(ctx, lockKey, o.opts.SessionLockWait)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			o.metrics.Inc(metrics.CountRejected)
			t.logger.Warn("session busy", "session_id", lockKey)
		}
		return models.TurnResult{}, err
	}
	defer release()

	degraded := o.load(ctx, t, lockKey)
	o.respond(ctx, t)
	t.resp.Degraded = t.resp.Degraded || degraded

	if err := ctx.Err(); err != nil {
		// Cancelled turns are discarded, not partially persisted.
		t.logger.Info("turn cancelled", "error", err)
		return models.TurnResult{}, err
	}

	o.record(t)
	if err := o.persist(ctx, t); err != nil {
		t.logger.Error("persist session", "session_id", t.sess.ID, "error", err)
		t.resp.Degraded = true
	}

	o.metrics.Inc(metrics.CountTurns)
	if t.resp.Degraded {
		o.metrics.Inc(metrics.CountDegraded)
	}
	o.metrics.Since(metrics.OpTurn, start)
	t.logger.Info("turn handled",
		"session_id", t.sess.ID,
		"language", t.sess.Language,
		"intent", t.nlu.Label,
		"confidence", t.nlu.Confidence,
		"action", t.action.Kind,
		"fast_path", t.fast,
		"degraded", t.resp.Degraded,
		"duration", time.Since(start),
	)

	return models.TurnResult{
		Text:        t.resp.Text,
		SessionID:   t.sess.ID,
		Suggestions: t.resp.Suggestions,
		Media:       t.resp.Media,
		Degraded:    t.resp.Degraded,
		Language:    t.sess.Language,
		Intent:      t.nlu.Label,
		Action:      t.action.Kind,
		FastPath:    t.fast,
	}, nil
}

// respond runs understanding, dialog tracking and rendering. A panic in any
// of them becomes an apology so the turn is still recorded.
func (o *Orchestrator) respond(ctx context.Context, t *turn) {
	defer func() {
		if p := recover(); p != nil {
			o.metrics.Inc(metrics.CountPanics)
			t.logger.Error("turn panicked", "panic", p, "stack", string(debug.Stack()))
			t.fast = false
			t.action = models.DialogAction{Kind: models.ActionFallback, Intent: t.nlu.Label}
			t.resp = o.composer.Apology(t.sess.Language)
			t.resp.Degraded = true
		}
	}()

	o.detectLanguage(t)

	nluStart := time.Now()
	t.nlu, t.ents = o.nlu.Classify(ctx, t.req.Utterance, t.sess.Language)
	o.metrics.Since(metrics.OpNLU, nluStart)

	if o.fastPath(t) {
		o.metrics.Inc(metrics.CountFastPath)
	} else {
		o.fullPath(ctx, t)
	}
	o.localize(ctx, t)
}

func (o *Orchestrator) validate(req TurnRequest) error {
	if req.Utterance == "" {
		return fmt.Errorf("%w: empty utterance", ErrInvalidInput)
	}
	if !utf8.ValidString(req.Utterance) {
		return fmt.Errorf("%w: utterance is not valid UTF-8", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(req.Utterance); n > o.opts.MaxUtteranceLength {
		return fmt.Errorf("%w: utterance has %d characters, limit is %d", ErrInvalidInput, n, o.opts.MaxUtteranceLength)
	}
	return nil
}

// load fetches the session (which refreshes its TTL) or starts a new one.
// An unknown or expired id starts a new session with a fresh id. It
// reports whether the store failed.
func (o *Orchestrator) load(ctx context.Context, t *turn, lockKey string) bool {
	defer o.metrics.Since(metrics.OpSessionLoad, time.Now())

	if t.req.SessionID == "" {
		t.sess = models.NewSession(lockKey, t.now)
		return false
	}
	stored, err := o.sessions.Get(ctx, t.req.SessionID)
	if err != nil {
		t.logger.Error("load session", "session_id", t.req.SessionID, "error", err)
		// Keep the id so the conversation can continue once the store is back.
		t.sess = models.NewSession(t.req.SessionID, t.now)
		return true
	}
	if stored == nil {
		// Turns queued on the same stale id share one replacement session.
		id := o.locks.alias(lockKey)
		if id == "" {
			id = o.opts.NewID()
			o.locks.setAlias(lockKey, id)
		} else if prev, err := o.sessions.Get(ctx, id); err == nil && prev != nil {
			t.sess = prev.Clone()
			t.logger.Info("continuing replacement session", "requested", t.req.SessionID, "session_id", id)
			return false
		}
		t.sess = models.NewSession(id, t.now)
		t.logger.Info("session expired or unknown, starting new", "requested", t.req.SessionID, "session_id", t.sess.ID)
		return false
	}
	t.sess = stored.Clone()
	return false
}

func (o *Orchestrator) detectLanguage(t *turn) {
	start := time.Now()
	defer o.metrics.Since(metrics.OpLanguage, start)

	if hint := langdetect.Canonical(t.req.Language); hint != langdetect.Unknown {
		t.sess.Language = hint
		return
	}
	d := o.detector.Detect(t.req.Utterance, t.sess.Language)
	if d.Code != langdetect.Unknown && d.Code != t.sess.Language {
		t.logger.Debug("language changed", "from", t.sess.Language, "to", d.Code, "confidence", d.Confidence)
		t.sess.Language = d.Code
	}
}

// fastPath answers high-confidence canned intents straight from the
// composer, skipping the tracker and retrieval. The full path answers the
// same intents with the same Canned call, so both produce identical output.
func (o *Orchestrator) fastPath(t *turn) bool {
	if t.nlu.Degraded || t.nlu.Confidence < o.opts.FastPathThreshold || !o.catalog.IsCanned(t.nlu.Label) {
		return false
	}
	resp, ok := o.composer.Canned(t.nlu.Label, t.sess.Language)
	if !ok {
		return false
	}
	t.fast = true
	t.action = models.DialogAction{Kind: models.ActionAnswer, Intent: t.nlu.Label}
	t.resp = resp
	return true
}

func (o *Orchestrator) fullPath(ctx context.Context, t *turn) {
	decision := o.tracker.Track(dialog.Input{
		NLU:       t.nlu,
		Entities:  t.ents,
		Utterance: t.req.Utterance,
		Dialog:    t.sess.Dialog,
		Slots:     t.sess.Slots,
		Gazetteer: o.nlu.Gazetteer(),
		Now:       t.now,
	})
	t.action = decision.Action
	t.sess.Dialog = decision.Dialog
	t.sess.Slots = decision.Slots
	t.logger.Debug("dialog decision", "action", t.action.Kind, "intent", t.action.Intent, "slot", t.action.Slot, "transitions", t.action.Transitions)

	in := o.gather(ctx, t)

	start := time.Now()
	t.resp = o.composer.Compose(in)
	o.metrics.Since(metrics.OpCompose, start)
}

// gather fans out retrieval and capability calls under the turn deadline.
func (o *Orchestrator) gather(ctx context.Context, t *turn) compose.Input {
	in := compose.Input{Action: t.action, Language: t.sess.Language}
	calls := o.capabilityCalls(t)
	needsRetrieval := t.action.Kind == models.ActionAnswer && t.action.Search != nil
	if !needsRetrieval && len(calls) == 0 {
		return in
	}

	gctx, cancel := context.WithTimeout(ctx, o.opts.TurnDeadline)
	defer cancel()

	var g errgroup.Group
	if needsRetrieval {
		g.Go(func() error {
			defer o.recoverStage(t, "retrieval", func() { in.RetrievalFailed = true })
			o.retrieve(gctx, t, &in)
			return nil
		})
	}
	if len(calls) > 0 {
		g.Go(func() error {
			defer o.recoverStage(t, "capabilities", func() { in.Outcomes = failedOutcomes(calls) })
			in.Outcomes = o.services.InvokeAll(gctx, calls, o.opts.TurnDeadline)
			return nil
		})
	}
	_ = g.Wait()
	return in
}

// recoverStage turns a panic in a gather goroutine into a degraded stage.
// It must be deferred directly.
func (o *Orchestrator) recoverStage(t *turn, stage string, degrade func()) {
	if p := recover(); p != nil {
		o.metrics.Inc(metrics.CountPanics)
		t.logger.Error("stage panicked", "stage", stage, "panic", p, "stack", string(debug.Stack()))
		degrade()
	}
}

func failedOutcomes(calls []services.Call) map[string]services.Outcome {
	out := make(map[string]services.Outcome, len(calls))
	for _, c := range calls {
		key := c.Key
		if key == "" {
			key = c.Capability
		}
		out[key] = services.Outcome{Capability: c.Capability, Degraded: true, Err: errors.New("capability fan-out panicked")}
	}
	return out
}

func (o *Orchestrator) retrieve(ctx context.Context, t *turn, in *compose.Input) {
	s := t.action.Search
	if s.RecordID != "" {
		rec, _, err := o.retriever.GetByID(ctx, s.Class, s.RecordID)
		if err != nil {
			t.logger.Error("lookup failed", "class", s.Class, "id", s.RecordID, "error", err)
			in.RetrievalFailed = true
			return
		}
		in.Record = rec
		return
	}

	if o.opts.RelaxEmptySearch {
		relaxed, err := o.retriever.SearchRelaxed(ctx, s.Class, s.Query, s.Filters, s.TopK)
		if err != nil {
			t.logger.Error("search failed", "class", s.Class, "filters", s.Filters, "error", err)
			in.RetrievalFailed = true
			return
		}
		in.Results, in.Dropped = relaxed.Results, relaxed.Dropped
		return
	}
	results, err := o.retriever.Search(ctx, s.Class, s.Query, s.Filters, s.TopK)
	if err != nil {
		t.logger.Error("search failed", "class", s.Class, "filters", s.Filters, "error", err)
		in.RetrievalFailed = true
		return
	}
	in.Results = results
}

// capabilityCalls lists the enrichment calls the action warrants.
func (o *Orchestrator) capabilityCalls(t *turn) []services.Call {
	var calls []services.Call
	switch t.action.Kind {
	case models.ActionAnswer:
		for _, name := range t.action.Capabilities {
			if !o.services.Has(name) {
				continue
			}
			args, ok := o.capabilityArgs(t, name)
			if !ok {
				continue
			}
			calls = append(calls, services.Call{Capability: name, Args: args, Timeout: o.opts.CapabilityTimeout})
		}
	case models.ActionFallback:
		if o.services.Has(services.Generate) {
			calls = append(calls, services.Call{
				Capability: services.Generate,
				Args:       services.Args{"utterance": t.req.Utterance, "language": t.sess.Language},
				Timeout:    o.opts.CapabilityTimeout,
			})
		}
	}
	return calls
}

func (o *Orchestrator) capabilityArgs(t *turn, name string) (services.Args, bool) {
	switch name {
	case services.Weather:
		city, ok := o.nlu.Gazetteer().City(t.action.Slots["city"])
		if !ok || city.Location.IsZero() {
			return nil, false
		}
		return services.Args{"lat": city.Location.Lat, "lon": city.Location.Lon}, true
	default:
		return services.Args{"utterance": t.req.Utterance, "language": t.sess.Language}, true
	}
}

// localize translates English renderings for languages the composer has no
// templates for. A failed translation keeps the English text and marks the
// turn degraded.
func (o *Orchestrator) localize(ctx context.Context, t *turn) {
	target := t.sess.Language
	if target == "" || target == t.resp.Language || !o.services.Has(services.Translate) {
		return
	}
	out := o.services.Invoke(ctx, services.Translate, services.Args{
		"text":   t.resp.Text,
		"source": t.resp.Language,
		"target": target,
	}, o.opts.CapabilityTimeout)
	tr, ok := out.Value.(services.Translation)
	if out.Degraded || !ok {
		t.logger.Warn("translation degraded", "target", target, "error", out.Err)
		t.resp.Degraded = true
		return
	}
	t.resp.Text, t.resp.Language = tr.Text, tr.Target
}

func (o *Orchestrator) turns(t *turn) []models.Turn {
	return []models.Turn{
		{
			Role:      models.RoleUser,
			Text:      t.req.Utterance,
			Intent:    t.nlu.Label,
			Entities:  t.ents,
			Timestamp: t.now,
		},
		{
			Role:      models.RoleAssistant,
			Text:      t.resp.Text,
			Intent:    t.action.Intent,
			Action:    t.action.Kind,
			Degraded:  t.resp.Degraded,
			Timestamp: o.opts.Now(),
		},
	}
}

func (o *Orchestrator) record(t *turn) {
	t.sess.Append(o.turns(t)...)
	t.sess.LastActive = t.now
}

// persist saves the session. On a version conflict the latest copy is
// reloaded, this turn's changes are reapplied, and the save is retried once.
func (o *Orchestrator) persist(ctx context.Context, t *turn) error {
	defer o.metrics.Since(metrics.OpSessionSave, time.Now())

	err := o.sessions.Set(ctx, t.sess)
	if !errors.Is(err, session.ErrVersionConflict) {
		return err
	}
	o.metrics.Inc(metrics.CountConflictRetry)
	t.logger.Warn("session version conflict, reapplying turn", "session_id", t.sess.ID)

	latest, err := o.sessions.Get(ctx, t.sess.ID)
	if err != nil {
		return fmt.Errorf("reload after conflict: %w", err)
	}
	if latest == nil {
		latest = models.NewSession(t.sess.ID, t.now)
	}
	merged := latest.Clone()
	merged.Language = t.sess.Language
	merged.Dialog = t.sess.Dialog
	merged.Slots = t.sess.Slots
	merged.LastActive = t.now
	merged.Append(t.sess.Turns[len(t.sess.Turns)-2:]...)
	if err := o.sessions.Set(ctx, merged); err != nil {
		return fmt.Errorf("save after conflict: %w", err)
	}
	t.sess = merged
	return nil
}

func shortID(id string) string {
	return id[:min(8, len(id))]
}
