package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterProviderMetrics()
	os.Exit(m.Run())
}

type embeddingCall struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// embeddingServer answers /embeddings with reply, recording each request.
func embeddingServer(t *testing.T, reply func(call embeddingCall) (int, any)) (*httptest.Server, *[]embeddingCall) {
	t.Helper()
	var calls []embeddingCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var call embeddingCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode request: %v", err)
		}
		calls = append(calls, call)

		status, body := reply(call)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// vectors returns one embedding per input, index i holding value i+1,
// listed in reverse to check reordering.
func vectors(call embeddingCall) openai.EmbeddingResponse {
	resp := openai.EmbeddingResponse{Object: "list", Model: openai.EmbeddingModel(call.Model)}
	for i := len(call.Input) - 1; i >= 0; i-- {
		resp.Data = append(resp.Data, openai.Embedding{
			Object:    "embedding",
			Embedding: []float32{float32(i + 1), 0},
			Index:     i,
		})
	}
	resp.Usage.PromptTokens = 3 * len(call.Input)
	resp.Usage.TotalTokens = 3 * len(call.Input)
	return resp
}

func newTestEmbedder(url string, dims int) *Embedder {
	return NewEmbedder(&Config{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "text-embedding-3-small",
		Dimensions: dims,
		Provider:   "test",
		Logger:     zap.NewNop(),
	})
}

func TestEmbedder_Embed(t *testing.T) {
	srv, calls := embeddingServer(t, func(c embeddingCall) (int, any) { return http.StatusOK, vectors(c) })
	emb := newTestEmbedder(srv.URL, 2)

	res, err := emb.Embed(context.Background(), "ASE_INT.1 ST introduction")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 2 || res.Embedding[0] != 1 {
		t.Errorf("unexpected vector %v", res.Embedding)
	}
	if res.PromptTokens != 3 || res.TotalTokens != 3 {
		t.Errorf("unexpected usage %+v", res)
	}
	got := (*calls)[0]
	if got.Model != "text-embedding-3-small" || got.Dimensions != 2 || len(got.Input) != 1 {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestEmbedder_BatchEmbed_RestoresInputOrder(t *testing.T) {
	srv, calls := embeddingServer(t, func(c embeddingCall) (int, any) { return http.StatusOK, vectors(c) })
	emb := newTestEmbedder(srv.URL, 0)

	res, err := emb.BatchEmbed(context.Background(), []string{"part1", "part2", "part3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range res.Embeddings {
		if v[0] != float32(i+1) {
			t.Errorf("position %d holds vector %v", i, v)
		}
	}
	if res.TotalTokens != 9 {
		t.Errorf("expected 9 tokens, got %d", res.TotalTokens)
	}
	if len(*calls) != 1 {
		t.Errorf("expected one API call, got %d", len(*calls))
	}
	if (*calls)[0].Dimensions != 0 {
		t.Errorf("dimensions must be omitted when unset, got %d", (*calls)[0].Dimensions)
	}
}

func TestEmbedder_BatchEmbed_Empty(t *testing.T) {
	srv, calls := embeddingServer(t, func(c embeddingCall) (int, any) { return http.StatusOK, vectors(c) })
	emb := newTestEmbedder(srv.URL, 0)

	res, err := emb.BatchEmbed(context.Background(), nil)
	if err != nil || len(res.Embeddings) != 0 {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
	if len(*calls) != 0 {
		t.Errorf("expected no API call, got %d", len(*calls))
	}
}

func TestEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        func(c embeddingCall) any
		wantRate    bool
		wantMessage string
	}{
		{
			name:   "count mismatch",
			status: http.StatusOK,
			body: func(c embeddingCall) any {
				resp := vectors(c)
				resp.Data = resp.Data[:1]
				return resp
			},
			wantMessage: "expected 2 embeddings, got 1",
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body: func(embeddingCall) any {
				return map[string]any{"error": map[string]any{"message": "rate limit exceeded", "type": "rate_limit_error"}}
			},
			wantRate:    true,
			wantMessage: "rate limit exceeded",
		},
		{
			name:        "detail body",
			status:      http.StatusNotFound,
			body:        func(embeddingCall) any { return map[string]any{"detail": "model not found"} },
			wantMessage: "model not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := embeddingServer(t, func(c embeddingCall) (int, any) { return tt.status, tt.body(c) })
			emb := newTestEmbedder(srv.URL, 0)

			_, err := emb.BatchEmbed(context.Background(), []string{"a", "b"})
			if !errors.Is(err, domain.ErrEmbeddingProviderError) {
				t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
			}
			if errors.Is(err, domain.ErrRateLimited) != tt.wantRate {
				t.Errorf("rate limited = %v, want %v (%v)", !tt.wantRate, tt.wantRate, err)
			}
			if !strings.Contains(err.Error(), tt.wantMessage) {
				t.Errorf("expected %q in %q", tt.wantMessage, err.Error())
			}
		})
	}
}

func TestEmbedder_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	if err := newTestEmbedder(srv.URL, 0).HealthCheck(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExtractDetail(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"model not found"}`, "model not found"},
		{`{"detail":""}`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := extractDetail([]byte(tt.body)); got != tt.want {
			t.Errorf("extractDetail(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
