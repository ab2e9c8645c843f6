package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/wayfarer/internal/llm"
)

// Generation is the generate capability's response.
type Generation struct {
	Text string `json:"text"`
}

// Generator produces a free-form reply.
type Generator interface {
	AnswerTraveler(ctx context.Context, utterance, language, facts string) (string, error)
}

var _ Generator = (*llm.Model)(nil)

// GenerateCapability is the generative fallback. Args: "utterance",
// "language", optional "facts" (string).
type GenerateCapability struct {
	gen Generator
}

// NewGenerateCapability wraps g.
func NewGenerateCapability(g Generator) *GenerateCapability {
	return &GenerateCapability{gen: g}
}

// Name implements Capability.
func (c *GenerateCapability) Name() string { return Generate }

// Call implements Capability.
func (c *GenerateCapability) Call(ctx context.Context, args Args) (any, error) {
	utterance, _ := args["utterance"].(string)
	language, _ := args["language"].(string)
	facts, _ := args["facts"].(string)
	if strings.TrimSpace(utterance) == "" {
		return nil, fmt.Errorf("%w: generate needs an utterance", ErrBadArgs)
	}
	if language == "" {
		language = "en"
	}
	text, err := c.gen.AnswerTraveler(ctx, utterance, language, facts)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("generate: empty reply")
	}
	return Generation{Text: text}, nil
}
