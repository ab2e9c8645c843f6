package llm

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/wayfarer/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Model generates short traveler-facing text with a chat model.
type Model struct {
	llm       llms.Model
	modelName string
	opts      []llms.CallOption
}

// Replies are a few sentences; a low temperature keeps facts stable.
const (
	replyTemperature = 0.3
	replyMaxTokens   = 300
)

// chatModel builds the provider client named by cfg.LLMProvider.
func chatModel(cfg config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case "":
		return nil, ErrDisabled
	case config.ProviderOllama:
		m, err := ollama.New(ollama.WithModel(cfg.LLMModel), ollama.WithServerURL(cfg.OllamaHost))
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return m, nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai model: OPENAI_API_KEY not set")
		}
		m, err := openai.New(openai.WithToken(cfg.OpenAIAPIKey), openai.WithModel(cfg.LLMModel))
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return m, nil
	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic model: ANTHROPIC_API_KEY not set")
		}
		m, err := anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey), anthropic.WithModel(cfg.LLMModel))
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}

// NewModel creates the configured chat model. It returns ErrDisabled when
// no provider is set.
func NewModel(cfg config.Config) (*Model, error) {
	m, err := chatModel(cfg)
	if err != nil {
		return nil, err
	}
	return &Model{
		llm:       m,
		modelName: cfg.LLMModel,
		opts: []llms.CallOption{
			llms.WithTemperature(replyTemperature),
			llms.WithMaxTokens(replyMaxTokens),
		},
	}, nil
}

// GenerateWithSystem sends a system and a user message and returns the
// first choice.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := m.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}, m.opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", wrapFatalError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate: no response choices")
	}
	return resp.Choices[0].Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// AnswerTraveler produces a short free-form reply for an utterance the
// assistant could not map to an intent. facts may be empty.
func (m *Model) AnswerTraveler(ctx context.Context, utterance, language, facts string) (string, error) {
	systemPrompt := fmt.Sprintf(`You are a concise travel assistant for visitors to Egypt.
Reply in the language with ISO code %q, in at most three sentences.
Only use the facts below when they are relevant. If you do not know, say so and
suggest asking about attractions, hotels, restaurants, weather or tours.`, language)

	userPrompt := utterance
	if facts != "" {
		userPrompt = fmt.Sprintf(`Facts:
%s

Traveler: %s`, facts, utterance)
	}

	return m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
}

// Translate renders text in the target language, keeping names unchanged.
func (m *Model) Translate(ctx context.Context, text, source, target string) (string, error) {
	systemPrompt := fmt.Sprintf(`Translate the user's message from %q to %q.
Keep proper names, numbers and URLs unchanged. Output only the translation.`, source, target)
	return m.GenerateWithSystem(ctx, systemPrompt, text)
}
