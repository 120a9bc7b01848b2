package coldcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// FallbackReply is returned whenever the generation capability fails.
const FallbackReply = "Could you briefly tell me what your company does?"

// Generation defaults used when a ResponseGenerator is built without overrides.
const (
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 150
	DefaultWindow      = 6
)

// Stage labels passed to the generator.
const (
	LabelQualification = "qualification"
	LabelPitch         = "pitch"
	LabelGeneral       = "general"
)

// ErrNoGenerator is returned when a ResponseGenerator is built without a backend.
var ErrNoGenerator = errors.New("coldcall: no text generator configured")

// errEmptyGeneration marks a backend answer with no usable text.
var errEmptyGeneration = errors.New("empty generation")

// GenerationRequest is the single instruction handed to a TextGenerator.
type GenerationRequest struct {
	Instruction string
	Temperature float64
	MaxTokens   int
}

// TextGenerator is the external generation capability. Implementations may
// fail with network, quota or decoding errors.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// GeneratorFunc adapts a function to TextGenerator.
type GeneratorFunc func(ctx context.Context, req GenerationRequest) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	return f(ctx, req)
}

// ResponseGenerator wraps a TextGenerator with the call's prompt and the
// fallback substitution. Reply never returns an error.
type ResponseGenerator struct {
	backend     TextGenerator
	temperature float64
	maxTokens   int
	window      int
	logger      *slog.Logger
}

// GeneratorOption tunes a ResponseGenerator.
type GeneratorOption func(*ResponseGenerator)

// WithSampling overrides temperature and output cap.
func WithSampling(temperature float64, maxTokens int) GeneratorOption {
	return func(g *ResponseGenerator) {
		if temperature >= 0 {
			g.temperature = temperature
		}
		if maxTokens > 0 {
			g.maxTokens = maxTokens
		}
	}
}

// WithLogger sets the logger used for generation faults.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *ResponseGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewResponseGenerator builds a generator over backend.
func NewResponseGenerator(backend TextGenerator, opts ...GeneratorOption) (*ResponseGenerator, error) {
	if backend == nil {
		return nil, ErrNoGenerator
	}
	g := &ResponseGenerator{
		backend:     backend,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		window:      DefaultWindow,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Reply asks the backend for the next line. Any backend fault, including
// empty output, degrades to FallbackReply.
func (g *ResponseGenerator) Reply(ctx context.Context, history []Turn, stage, utterance string) string {
	req := GenerationRequest{
		Instruction: buildInstruction(recentTurns(history, g.window), stage, utterance),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	text, err := g.backend.Generate(ctx, req)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = errEmptyGeneration
		}
	}
	if err != nil {
		g.logger.Warn("generation failed, using fallback reply", "stage", stage, "error", err)
		return FallbackReply
	}
	return text
}

func recentTurns(history []Turn, n int) []Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func stageGoal(stage string) string {
	switch stage {
	case LabelQualification:
		return "Find out what the prospect's business does and whether it runs workloads in the cloud."
	case LabelPitch:
		return "Pitch cloud cost optimization briefly and answer the prospect's questions."
	default:
		return "Keep the call on track toward confirming you are speaking with the business owner."
	}
}

func buildInstruction(turns []Turn, stage, utterance string) string {
	var b strings.Builder
	b.WriteString("You are a calm, professional B2B sales engineer on a short cold call.\n\n")
	fmt.Fprintf(&b, "Context stage: %s\n", stage)
	fmt.Fprintf(&b, "Goal: %s\n\n", stageGoal(stage))
	b.WriteString(`Rules:
- Speak naturally like a human.
- Keep replies under 3 sentences unless user asks for details.
- Do NOT sound scripted.
- If qualified, pitch briefly and clearly.
- If not relevant, end politely.
- If user asks questions, answer intelligently.
- Cold call should feel short and respectful.

Conversation:
`)
	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAgent: %s\n", t.UserText, t.AssistantText)
	}
	fmt.Fprintf(&b, "\nUser just said:\n\"%s\"\n\nRespond in plain natural text only.\n", utterance)
	return b.String()
}
