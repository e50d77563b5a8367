// Package llm adapts a chat-completion provider into the narrow text
// capability used by the classifier, thought engine and information scheduler.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/myfriend/internal/config"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyPrompt = errors.New("llm: request has no turns")

type Turn struct {
	Role    string
	Content string
}

type Request struct {
	Turns     []Turn
	System    string
	Model     string
	MaxTokens int
}

// Prompt is a single user turn request.
func Prompt(text string, maxTokens int) Request {
	return Request{Turns: []Turn{{Role: RoleUser, Content: text}}, MaxTokens: maxTokens}
}

// Generator produces free text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ModelGenerator calls a model.Provider with a per-call timeout.
type ModelGenerator struct {
	provider  model.Provider
	modelName string
	maxTokens int
	timeout   time.Duration
}

func NewModelGenerator(p model.Provider, modelName string, maxTokens int, timeout time.Duration) *ModelGenerator {
	return &ModelGenerator{provider: p, modelName: modelName, maxTokens: maxTokens, timeout: timeout}
}

// NewFromConfig picks the provider the same way the gateway always has:
// "openai" selects the OpenAI-compatible client, anything else Anthropic.
func NewFromConfig(cfg *config.Config) *ModelGenerator {
	return NewModelGenerator(ProviderFromConfig(cfg), cfg.Agent.Model, cfg.Agent.MaxTokens, cfg.Provider.Timeout())
}

func ProviderFromConfig(cfg *config.Config) model.Provider {
	switch cfg.Provider.Type {
	case "openai":
		return &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default:
		return &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}
}

func (g *ModelGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if len(req.Turns) == 0 {
		return "", ErrEmptyPrompt
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	mdl, err := g.provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve model: %w", err)
	}

	msgs := make([]model.Message, 0, len(req.Turns))
	for _, t := range req.Turns {
		msgs = append(msgs, model.Message{Role: t.Role, Content: t.Content})
	}

	mr := model.Request{
		Messages:  msgs,
		System:    req.System,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if mr.Model == "" {
		mr.Model = g.modelName
	}
	if mr.MaxTokens <= 0 {
		mr.MaxTokens = g.maxTokens
	}

	resp, err := mdl.Complete(ctx, mr)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
