package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/coldcall/internal/coldcall"
)

func newCompletionServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
			return
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "llama-3.1-8b-instant",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Sounds great, tell me more."}}]
}`

func TestOpenAIBackendGenerate(t *testing.T) {
	t.Parallel()

	var seen map[string]any
	srv := newCompletionServer(t, http.StatusOK, completionBody, &seen)

	backend, err := New(context.Background(), Config{
		Provider: ProviderGroq,
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/",
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	got, err := backend.Generate(context.Background(), coldcall.GenerationRequest{
		Instruction: "say hi",
		Temperature: 0.4,
		MaxTokens:   150,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "Sounds great, tell me more." {
		t.Fatalf("Generate() = %q", got)
	}
	if seen["model"] != defaultGroqModel {
		t.Fatalf("model = %v, want %s", seen["model"], defaultGroqModel)
	}
	if seen["temperature"] != 0.4 {
		t.Fatalf("temperature = %v, want 0.4", seen["temperature"])
	}
	if backend.Name() != "groq:"+defaultGroqModel {
		t.Fatalf("Name() = %q", backend.Name())
	}
}

func TestOpenAIBackendServerError(t *testing.T) {
	t.Parallel()

	srv := newCompletionServer(t, http.StatusInternalServerError, `{"error":{"message":"boom"}}`, nil)
	backend, err := New(context.Background(), Config{
		Provider: ProviderOpenAI,
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/",
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := backend.Generate(context.Background(), coldcall.GenerationRequest{Instruction: "x"}); err == nil {
		t.Fatal("Generate() error = nil, want error")
	}
}

func TestNewConfigurationFaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{name: "groq_no_key", cfg: Config{Provider: ProviderGroq}, want: ErrMissingCredential},
		{name: "openai_no_key", cfg: Config{Provider: ProviderOpenAI}, want: ErrMissingCredential},
		{name: "gemini_no_key", cfg: Config{Provider: ProviderGemini}, want: ErrMissingCredential},
		{name: "grpc_no_addr", cfg: Config{Provider: ProviderGRPC}, want: ErrMissingCredential},
		{name: "unknown", cfg: Config{Provider: "carrier-pigeon", APIKey: "k"}, want: ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(context.Background(), tt.cfg, nil); !errors.Is(err, tt.want) {
				t.Fatalf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenAIBackendTimeoutFallsBackToScriptedReply(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	backend, err := New(context.Background(), Config{
		Provider: ProviderGroq,
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/",
		Timeout:  50 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = backend.Close() }()

	if _, err := backend.Generate(context.Background(), coldcall.GenerationRequest{Instruction: "x"}); err == nil {
		t.Fatal("Generate() error = nil, want timeout error")
	}

	gen, err := coldcall.NewResponseGenerator(backend)
	if err != nil {
		t.Fatalf("NewResponseGenerator() error = %v", err)
	}
	start := time.Now()
	if got := gen.Reply(context.Background(), nil, coldcall.LabelPitch, "we sell software"); got != coldcall.FallbackReply {
		t.Fatalf("Reply() = %q, want fallback", got)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Reply() took %v, timeout not applied", elapsed)
	}
}
