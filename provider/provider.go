package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/models"
	openai_provider "github.com/mohammad-safakhou/seshat/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Complete(ctx context.Context, req models.CompletionRequest) (models.Completion, error)
	// Ready reports a missing API key without calling out.
	Ready() error
}

// Config carries the settings shared by every provider.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewProvider creates a new LLM client. A missing API key is not an error
// here; it surfaces through Ready when a generation is attempted.
func NewProvider(client Client, cfg Config, logger *zap.Logger) (Provider, error) {
	switch client {
	case OpenAI, "":
		return openai_provider.NewOpenAIClient(openai_provider.Options{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, logger), nil
	case Anthropic:
		return nil, errors.Misconfigured("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.Misconfigured("gemini client not implemented yet")
	default:
		return nil, errors.Misconfigured("unsupported LLM provider %q", client)
	}
}
