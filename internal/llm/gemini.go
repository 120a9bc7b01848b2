package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/coldcall/internal/coldcall"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiBackend generates replies with Google's Gemini API.
type GeminiBackend struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func newGeminiBackend(ctx context.Context, cfg Config) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", ErrMissingCredential)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiBackend{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// Generate sends the instruction as a single user turn.
func (b *GeminiBackend) Generate(ctx context.Context, req coldcall.GenerationRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(req.Instruction), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", errNoChoices
	}
	return resp.Text(), nil
}

// Name returns provider:model.
func (b *GeminiBackend) Name() string {
	return ProviderGemini + ":" + b.model
}

// Close is a no-op for the Gemini client.
func (b *GeminiBackend) Close() error {
	return nil
}
