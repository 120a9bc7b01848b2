// Package llm provides the text generation backends behind the call agent.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/coldcall/internal/coldcall"
)

// Supported providers.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderGRPC   = "grpc"
)

var (
	// ErrMissingCredential is returned when a provider is selected without its API key or address.
	ErrMissingCredential = errors.New("llm: missing credential")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("llm: unknown provider")
	// errNoChoices marks a completion response without any candidate text.
	errNoChoices = errors.New("llm: response contained no choices")
)

// Config selects and configures a backend.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Addr     string
	Timeout  time.Duration
}

// Backend is a TextGenerator that owns network resources.
type Backend interface {
	coldcall.TextGenerator
	// Name identifies the provider and model for logs and health output.
	Name() string
	Close() error
}

// New builds the backend named by cfg.Provider. A missing credential is a
// configuration fault reported before any call is placed.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGroq:
		if cfg.BaseURL == "" {
			cfg.BaseURL = groqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = defaultGroqModel
		}
		return backendOrNil(newOpenAIBackend(ProviderGroq, cfg))
	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = defaultOpenAIModel
		}
		return backendOrNil(newOpenAIBackend(ProviderOpenAI, cfg))
	case ProviderGemini:
		if cfg.Model == "" {
			cfg.Model = defaultGeminiModel
		}
		return backendOrNil(newGeminiBackend(ctx, cfg))
	case ProviderGRPC:
		return backendOrNil(NewGRPCBackend(ctx, cfg, logger))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// backendOrNil keeps a failed constructor from returning a non-nil
// interface that wraps a nil pointer.
func backendOrNil(b Backend, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
