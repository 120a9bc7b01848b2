package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/coldcall/internal/coldcall"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	groqBaseURL        = "https://api.groq.com/openai/v1/"
	defaultGroqModel   = "llama-3.1-8b-instant"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIBackend talks to any OpenAI-compatible chat completions API.
type OpenAIBackend struct {
	client   openai.Client
	provider string
	model    string
	timeout  time.Duration
}

func newOpenAIBackend(provider string, cfg Config) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s API key is required", ErrMissingCredential, provider)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// A failed generation is replaced by the fallback reply, never retried.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIBackend{
		client:   openai.NewClient(opts...),
		provider: provider,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
	}, nil
}

// Generate sends the instruction as a single user message.
func (b *OpenAIBackend) Generate(ctx context.Context, req coldcall.GenerationRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Instruction),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", b.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Name returns provider:model.
func (b *OpenAIBackend) Name() string {
	return b.provider + ":" + b.model
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (b *OpenAIBackend) Close() error {
	return nil
}
