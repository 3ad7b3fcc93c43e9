package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func writeChatCompletion(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-chat",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42},
	})
}

func newTestGenerator(url string, retries uint64) *Generator {
	return NewGenerator(&GeneratorConfig{
		Config: Config{
			APIKey:   "test-key",
			BaseURL:  url,
			Model:    "test-chat",
			Provider: "test",
			Logger:   zap.NewNop(),
		},
		MaxRetries: retries,
		RetryBase:  time.Millisecond,
	})
}

func TestGenerator_Generate(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeChatCompletion(w, "  ADV_FSP.1-1 is satisfied.  ")
	}))
	defer server.Close()

	gen, err := newTestGenerator(server.URL, 0).Generate(context.Background(), domain.GenerationRequest{
		Instruction: "You are a CC evaluator.",
		Context:     []string{"passage one", "passage two"},
		Question:    "Evaluate ADV_FSP.1-1",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gen.Text != "ADV_FSP.1-1 is satisfied." {
		t.Errorf("unexpected text %q", gen.Text)
	}
	if gen.TotalTokens != 42 || gen.CompletionTokens != 12 {
		t.Errorf("unexpected usage %+v", gen)
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	user := got.Messages[1].Content
	if !strings.Contains(user, "passage one\n---\npassage two") || !strings.HasSuffix(user, "Question: Evaluate ADV_FSP.1-1") {
		t.Errorf("unexpected user message %q", user)
	}
}

func TestGenerator_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
			return
		}
		writeChatCompletion(w, "ok")
	}))
	defer server.Close()

	gen, err := newTestGenerator(server.URL, 3).Generate(context.Background(), domain.GenerationRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gen.Text != "ok" {
		t.Errorf("unexpected text %q", gen.Text)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGenerator_NoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := newTestGenerator(server.URL, 3).Generate(context.Background(), domain.GenerationRequest{Question: "q"})
	if !errors.Is(err, domain.ErrGenerationProviderError) {
		t.Fatalf("expected ErrGenerationProviderError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestGenerator_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestGenerator(server.URL, 0).Generate(context.Background(), domain.GenerationRequest{Question: "q"})
	if !errors.Is(err, domain.ErrGenerationProviderError) {
		t.Fatalf("expected ErrGenerationProviderError, got %v", err)
	}
}

func TestBuildMessages_NoInstructionNoContext(t *testing.T) {
	msgs := buildMessages(domain.GenerationRequest{Question: "What is ALC_FLR?"})
	if len(msgs) != 1 || msgs[0].Content != "Question: What is ALC_FLR?" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestGenerator_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model"}]}`))
	}))
	defer server.Close()

	if err := newTestGenerator(server.URL, 0).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}
