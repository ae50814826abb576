package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/bookrag/config"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Completer produces a chat completion from a composed prompt.
type Completer interface {
	Complete(ctx context.Context, systemPersona, prompt string) (string, error)
}

// Embedder converts texts into fixed-dimension vectors.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Completer
	Embedder
}

// Error represents an upstream provider failure. RateLimited distinguishes
// quota exhaustion from generic failures so callers can pick a degraded
// response strategy.
type Error struct {
	Provider    string
	RateLimited bool
	Err         error
}

func (e *Error) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s: rate limited: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err wraps a rate-limited provider error.
func IsRateLimited(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.RateLimited
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, cfg config.OpenAIConfig) (Provider, error) {
	switch client {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key not set")
		}
		return NewOpenAIClient(cfg), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
