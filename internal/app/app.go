// Package app is the composition root. It builds every component once,
// leaf first, and hands finished instances down to the orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/wayfarer/internal/compose"
	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/raphaelgruber/wayfarer/internal/db"
	"github.com/raphaelgruber/wayfarer/internal/dialog"
	"github.com/raphaelgruber/wayfarer/internal/embedding"
	"github.com/raphaelgruber/wayfarer/internal/intents"
	"github.com/raphaelgruber/wayfarer/internal/jobs"
	"github.com/raphaelgruber/wayfarer/internal/knowledge"
	"github.com/raphaelgruber/wayfarer/internal/langdetect"
	"github.com/raphaelgruber/wayfarer/internal/llm"
	"github.com/raphaelgruber/wayfarer/internal/metrics"
	"github.com/raphaelgruber/wayfarer/internal/nlu"
	"github.com/raphaelgruber/wayfarer/internal/orchestrator"
	"github.com/raphaelgruber/wayfarer/internal/services"
	"github.com/raphaelgruber/wayfarer/internal/session"
)

// App holds the built components.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Jobs    *jobs.Manager

	Sessions   session.Store
	Knowledge  knowledge.Store
	Writer     knowledge.Writer
	Index      knowledge.VectorIndex
	Embedder   embedding.Embedder
	Fixture    knowledge.Fixture
	Retriever  *knowledge.Retriever
	Reembedder *knowledge.Reembedder

	Intents      *intents.Catalog
	NLU          *nlu.Engine
	Tracker      *dialog.Tracker
	Services     *services.Dispatcher
	Composer     *compose.Composer
	Orchestrator *orchestrator.Orchestrator

	closers []func(context.Context) error
}

// New builds the application from cfg. It opens connections but does not
// wait for readiness; call Start for that.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(),
	}
	a.Jobs = jobs.NewManager(logger.With("component", "jobs"))

	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	var err error

	// Leaves: session store, fixture, embedder, knowledge store, index.
	if a.Sessions, err = a.buildSessions(); err != nil {
		return err
	}
	if a.Fixture, err = knowledge.LoadFixture(cfg.KnowledgeFixture); err != nil {
		return fmt.Errorf("load fixture: %w", err)
	}
	if a.Embedder, err = embedding.New(cfg); err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	if err := a.buildKnowledge(ctx); err != nil {
		return err
	}
	if err := a.buildIndex(ctx); err != nil {
		return err
	}

	opts := knowledge.DefaultOptions()
	opts.Filtered = knowledge.Weights{Keyword: cfg.KeywordWeightFiltered, Vector: cfg.VectorWeightFiltered}
	opts.Unfiltered = knowledge.Weights{Keyword: cfg.KeywordWeight, Vector: cfg.VectorWeight}
	opts.DefaultTopK = cfg.SearchTopK
	opts.Cities = a.Fixture.Cities
	a.Retriever = knowledge.New(a.Knowledge, a.Index, a.Embedder, a.Metrics, a.Logger.With("component", "retriever"), opts)
	a.Reembedder = knowledge.NewReembedder(a.Knowledge, a.Index, a.Embedder, a.Jobs, a.Logger.With("component", "reembed"))

	// Understanding and dialog.
	if a.Intents, err = intents.Load(cfg.IntentCatalogPath); err != nil {
		return fmt.Errorf("load intents: %w", err)
	}
	nluOpts := nlu.DefaultOptions()
	nluOpts.LatencyBudget = cfg.NLULatencyBudget
	nluOpts.WarmupTimeout = cfg.NLUWarmupTimeout
	nluOpts.DegradedCeiling = cfg.NLUDegradedCeiling
	nluOpts.MinConfidence = cfg.NLUMinConfidence
	nluOpts.FuzzyThreshold = cfg.FuzzyThreshold
	a.NLU = nlu.New(a.Intents, a.Embedder, a.Retriever, a.Logger.With("component", "nlu"), nluOpts)
	a.Tracker = dialog.New(a.Intents, dialog.Options{TopK: cfg.SearchTopK})

	// Capabilities and rendering.
	a.Services = services.NewDispatcher(a.capabilities(), cfg.CapabilityTimeout, services.DefaultBreakerSettings(),
		a.Metrics, a.Logger.With("component", "services"))
	templates, err := compose.LoadCatalog(cfg.TemplateCatalog)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	a.Composer = compose.New(templates, a.Logger.With("component", "compose"))

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Sessions:  a.Sessions,
		Detector:  langdetect.New(cfg.DefaultLanguage),
		NLU:       a.NLU,
		Catalog:   a.Intents,
		Tracker:   a.Tracker,
		Retriever: a.Retriever,
		Services:  a.Services,
		Composer:  a.Composer,
		Metrics:   a.Metrics,
		Logger:    a.Logger.With("component", "orchestrator"),
	}, orchestrator.Options{
		FastPathThreshold:  cfg.FastPathThreshold,
		TurnDeadline:       cfg.TurnDeadline,
		CapabilityTimeout:  cfg.CapabilityTimeout,
		SessionLockWait:    cfg.SessionLockWait,
		ReadyWait:          cfg.ReadyWait,
		MaxUtteranceLength: cfg.MaxUtteranceLength,
		RelaxEmptySearch:   cfg.RelaxEmptySearch,
	})
	return nil
}

func (a *App) buildSessions() (session.Store, error) {
	cfg := a.Config
	var s session.Store
	switch cfg.SessionBackend {
	case config.BackendRedis:
		s = session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
	case config.BackendMemory:
		s = session.NewMemoryStore(cfg.SessionTTL)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
	a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	return s, nil
}

func (a *App) buildKnowledge(ctx context.Context) error {
	cfg := a.Config
	switch cfg.KnowledgeBackend {
	case config.BackendSurreal:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, a.Logger.With("component", "surrealdb"))
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if err := client.InitSchema(ctx, a.Embedder.Dimension()); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		store := knowledge.NewSurrealStore(client)
		a.Knowledge, a.Writer = store, store
	case config.BackendMemory:
		store := knowledge.NewMemoryStore(a.Fixture.Records)
		a.Knowledge, a.Writer = store, store
	default:
		return fmt.Errorf("unknown knowledge backend %q", cfg.KnowledgeBackend)
	}
	return nil
}

func (a *App) buildIndex(ctx context.Context) error {
	if a.Config.VectorBackend != config.BackendQdrant {
		return nil
	}
	q, err := knowledge.NewQdrantIndex(knowledge.QdrantConfig{
		URL:       a.Config.QdrantURL,
		APIKey:    a.Config.QdrantAPIKey,
		Prefix:    a.Config.QdrantCollection,
		Dimension: a.Embedder.Dimension(),
	})
	if err != nil {
		return fmt.Errorf("connect to qdrant: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return q.Close() })
	if err := q.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ensure qdrant collections: %w", err)
	}
	a.Index = q
	return nil
}

// capabilities registers the configured external services. The LLM backs
// generation, and translation when no dedicated translation API is set.
func (a *App) capabilities() []services.Capability {
	cfg := a.Config
	var caps []services.Capability
	if cfg.WeatherEnabled && cfg.WeatherURL != "" {
		caps = append(caps, services.NewWeatherClient(cfg.WeatherURL, nil))
	}

	model, err := llm.NewModel(cfg)
	switch {
	case errors.Is(err, llm.ErrDisabled):
		a.Logger.Info("generative fallback disabled, no LLM provider configured")
		model = nil
	case err != nil:
		a.Logger.Warn("generative fallback unavailable", "provider", cfg.LLMProvider, "error", err)
		model = nil
	default:
		caps = append(caps, services.NewGenerateCapability(model))
	}

	switch {
	case cfg.TranslateAPIKey != "":
		caps = append(caps, services.NewTranslateCapability(
			services.NewOpenAITranslator(cfg.TranslateAPIKey, cfg.TranslateBaseURL, cfg.TranslateModel)))
	case model != nil:
		caps = append(caps, services.NewTranslateCapability(model))
	}

	for _, c := range caps {
		a.Logger.Debug("capability registered", "capability", c.Name())
	}
	return caps
}

// Start embeds records that have no embedding yet and opens the readiness
// gate. It fails when storage stays unreachable.
func (a *App) Start(ctx context.Context) error {
	job, err := a.Reembedder.Run(ctx, knowledge.RunOptions{OnlyMissing: true, Trigger: "startup"})
	switch {
	case errors.Is(err, knowledge.ErrJobRunning):
		a.Logger.Info("startup embedding skipped, reembed already running")
	case err != nil:
		// Records without embeddings still rank by keyword.
		a.Logger.Warn("startup embedding failed", "job_id", job.ID, "error", err)
	case job.Result != nil && job.Result.Updated > 0:
		a.Logger.Info("embedded records", "count", job.Result.Updated, "job_id", job.ID)
	}

	wait := a.Config.StartupTimeout
	if wait <= 0 {
		wait = 30 * time.Second
	}
	if err := a.Orchestrator.Warmup(ctx, wait); err != nil {
		return fmt.Errorf("readiness: %w", err)
	}
	return nil
}

// Close releases connections in reverse build order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
