// Package config loads Wayfarer configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Backend names accepted by the *_BACKEND variables.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendSurreal = "surreal"
	BackendQdrant  = "qdrant"
)

// Provider names for embeddings and LLMs.
const (
	ProviderHash      = "hash"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// Session store
	SessionBackend  string        `env:"SESSION_BACKEND" envDefault:"memory"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	SessionLockWait time.Duration `env:"SESSION_LOCK_WAIT" envDefault:"5s"`

	// Knowledge store
	KnowledgeBackend string `env:"KNOWLEDGE_BACKEND" envDefault:"memory"`
	KnowledgeFixture string `env:"KNOWLEDGE_FIXTURE"`

	// SurrealDB connection
	SurrealDBURL       string `env:"SURREALDB_URL" envDefault:"ws://localhost:8000/rpc"`
	SurrealDBNamespace string `env:"SURREALDB_NAMESPACE" envDefault:"wayfarer"`
	SurrealDBDatabase  string `env:"SURREALDB_DATABASE" envDefault:"knowledge"`
	SurrealDBUser      string `env:"SURREALDB_USER" envDefault:"root"`
	SurrealDBPass      string `env:"SURREALDB_PASS" envDefault:"root"`
	SurrealDBAuthLevel string `env:"SURREALDB_AUTH_LEVEL" envDefault:"root"`

	// Optional external vector index
	VectorBackend    string `env:"VECTOR_BACKEND"`
	QdrantURL        string `env:"QDRANT_URL" envDefault:"http://localhost:6334"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`
	QdrantCollection string `env:"QDRANT_COLLECTION_PREFIX" envDefault:"wayfarer"`

	// Ranking
	KeywordWeightFiltered float64 `env:"RANK_KEYWORD_WEIGHT_FILTERED" envDefault:"0.7"`
	VectorWeightFiltered  float64 `env:"RANK_VECTOR_WEIGHT_FILTERED" envDefault:"0.3"`
	KeywordWeight         float64 `env:"RANK_KEYWORD_WEIGHT" envDefault:"0.35"`
	VectorWeight          float64 `env:"RANK_VECTOR_WEIGHT" envDefault:"0.65"`
	SearchTopK            int     `env:"SEARCH_TOP_K" envDefault:"5"`
	RelaxEmptySearch      bool    `env:"RELAX_EMPTY_SEARCH" envDefault:"false"`
	ReembedSchedule       string  `env:"REEMBED_SCHEDULE" envDefault:"@daily"`

	// Embeddings
	EmbedProvider  string `env:"EMBED_PROVIDER" envDefault:"hash"`
	EmbedModel     string `env:"EMBED_MODEL" envDefault:"all-minilm:l6-v2"`
	EmbedDimension int    `env:"EMBED_DIMENSION" envDefault:"384"`
	OllamaHost     string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`

	// Generative fallback (empty provider disables the capability)
	LLMProvider     string `env:"LLM_PROVIDER"`
	LLMModel        string `env:"LLM_MODEL" envDefault:"llama3.2"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	// Translation (empty key disables the capability)
	TranslateAPIKey  string `env:"TRANSLATE_API_KEY"`
	TranslateBaseURL string `env:"TRANSLATE_BASE_URL"`
	TranslateModel   string `env:"TRANSLATE_MODEL" envDefault:"gpt-4o-mini"`

	// Weather
	WeatherEnabled bool   `env:"WEATHER_ENABLED" envDefault:"true"`
	WeatherURL     string `env:"WEATHER_URL" envDefault:"https://api.open-meteo.com/v1/forecast"`

	// NLU
	NLULatencyBudget   time.Duration `env:"NLU_LATENCY_BUDGET" envDefault:"250ms"`
	NLUWarmupTimeout   time.Duration `env:"NLU_WARMUP_TIMEOUT" envDefault:"15s"`
	NLUDegradedCeiling float64       `env:"NLU_DEGRADED_CEILING" envDefault:"0.6"`
	NLUMinConfidence   float64       `env:"NLU_MIN_CONFIDENCE" envDefault:"0.45"`
	FuzzyThreshold     float64       `env:"NLU_FUZZY_THRESHOLD" envDefault:"0.8"`
	NLUCacheSize       int           `env:"NLU_CACHE_SIZE" envDefault:"2048"`
	IntentCatalogPath  string        `env:"INTENT_CATALOG"`
	TemplateCatalog    string        `env:"TEMPLATE_CATALOG"`

	// Orchestration
	DefaultLanguage    string        `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	FastPathThreshold  float64       `env:"FAST_PATH_THRESHOLD" envDefault:"0.9"`
	TurnDeadline       time.Duration `env:"TURN_DEADLINE" envDefault:"2500ms"`
	CapabilityTimeout  time.Duration `env:"CAPABILITY_TIMEOUT" envDefault:"1500ms"`
	ReadyWait          time.Duration `env:"READY_WAIT" envDefault:"2s"`
	StartupTimeout     time.Duration `env:"STARTUP_TIMEOUT" envDefault:"30s"`
	MaxUtteranceLength int           `env:"MAX_UTTERANCE_LENGTH" envDefault:"1000"`

	// Logging
	LogFile  string `env:"WAYFARER_LOG_FILE" envDefault:"/tmp/wayfarer.log"`
	LogLevel string `env:"WAYFARER_LOG_LEVEL" envDefault:"INFO"`
}

// Load reads configuration from environment variables, after merging an
// optional .env file from the working directory.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return parse()
}

func parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerations and numeric ranges.
func (c Config) Validate() error {
	switch c.SessionBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("config: SESSION_BACKEND %q: want memory or redis", c.SessionBackend)
	}
	switch c.KnowledgeBackend {
	case BackendMemory, BackendSurreal:
	default:
		return fmt.Errorf("config: KNOWLEDGE_BACKEND %q: want memory or surreal", c.KnowledgeBackend)
	}
	switch c.VectorBackend {
	case "", BackendQdrant:
	default:
		return fmt.Errorf("config: VECTOR_BACKEND %q: want empty or qdrant", c.VectorBackend)
	}
	switch c.EmbedProvider {
	case ProviderHash, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("config: EMBED_PROVIDER %q: want hash, ollama or openai", c.EmbedProvider)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("config: EMBED_DIMENSION must be positive")
	}
	if c.FastPathThreshold < 0 || c.NLUDegradedCeiling < 0 || c.NLUDegradedCeiling > 1 {
		return fmt.Errorf("config: confidence settings must lie in [0,1]")
	}
	if c.TurnDeadline <= 0 || c.CapabilityTimeout <= 0 {
		return fmt.Errorf("config: TURN_DEADLINE and CAPABILITY_TIMEOUT must be positive")
	}
	return nil
}

// Level returns the parsed slog level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
