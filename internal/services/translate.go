package services

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/raphaelgruber/wayfarer/internal/llm"
)

// Translation is the translate capability's response.
type Translation struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

// Translator renders text in another language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

var _ Translator = (*llm.Model)(nil)

// OpenAITranslator translates with an OpenAI-compatible chat completion
// endpoint.
type OpenAITranslator struct {
	client *openai.Client
	model  string
}

// NewOpenAITranslator creates a translator. baseURL may point at any
// OpenAI-compatible server and may be empty.
func NewOpenAITranslator(apiKey, baseURL, model string) *OpenAITranslator {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAITranslator{client: openai.NewClientWithConfig(config), model: model}
}

// Translate implements Translator.
func (t *OpenAITranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("Translate the user's message from %q to %q. "+
					"Keep proper names, numbers and URLs unchanged. Output only the translation.", source, target),
			},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", llm.ClassifyError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// TranslateCapability exposes a Translator. Args: "text", "source",
// "target" (string).
type TranslateCapability struct {
	translator Translator
}

// NewTranslateCapability wraps t.
func NewTranslateCapability(t Translator) *TranslateCapability {
	return &TranslateCapability{translator: t}
}

// Name implements Capability.
func (c *TranslateCapability) Name() string { return Translate }

// Call implements Capability.
func (c *TranslateCapability) Call(ctx context.Context, args Args) (any, error) {
	text, _ := args["text"].(string)
	source, _ := args["source"].(string)
	target, _ := args["target"].(string)
	if text == "" || target == "" {
		return nil, fmt.Errorf("%w: translate needs text and target", ErrBadArgs)
	}
	if source == target {
		return Translation{Text: text, Target: target}, nil
	}
	out, err := c.translator.Translate(ctx, text, source, target)
	if err != nil {
		return nil, err
	}
	return Translation{Text: out, Target: target}, nil
}
