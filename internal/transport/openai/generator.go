package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cceval/internal/domain"
	"github.com/kailas-cloud/cceval/internal/logger"
	"github.com/kailas-cloud/cceval/internal/metrics"
)

// GeneratorConfig holds chat-completion settings.
type GeneratorConfig struct {
	Config
	Temperature float32
	MaxTokens   int
	MaxRetries  uint64
	RetryBase   time.Duration
}

// Generator answers prompts through the chat-completions endpoint.
type Generator struct {
	client      *openai.Client
	model       string
	provider    string
	temperature float32
	maxTokens   int
	maxRetries  uint64
	retryBase   time.Duration
}

// NewGenerator creates an OpenAI-compatible chat generator.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return &Generator{
		client:      newClient(&cfg.Config),
		model:       cfg.Model,
		provider:    cfg.Provider,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		retryBase:   base,
	}
}

// Generate implements domain.Generator. Rate limits and 5xx replies are
// retried with exponential backoff.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.Generation, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    buildMessages(req),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	var resp openai.ChatCompletionResponse
	attempt := 0
	start := time.Now()

	backoff := retry.WithMaxRetries(g.maxRetries, retry.NewExponential(g.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		var callErr error
		resp, callErr = g.client.CreateChatCompletion(ctx, chatReq)
		if callErr == nil {
			return nil
		}
		if retryable(callErr) && ctx.Err() == nil {
			logger.FromContext(ctx).Warn("Generation attempt failed, retrying",
				zap.String("provider", g.provider),
				zap.Int("attempt", attempt),
				zap.Error(callErr),
			)
			return retry.RetryableError(callErr)
		}
		return callErr
	})
	metrics.GenerationRequestDuration.WithLabelValues(g.provider, g.model).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "error").Inc()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.Generation{}, fmt.Errorf("chat completion: %w", err)
		}
		return domain.Generation{}, parseAPIError("generation", err, domain.ErrGenerationProviderError)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "error").Inc()
		return domain.Generation{}, fmt.Errorf("empty chat completion: %w", domain.ErrGenerationProviderError)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "success").Inc()
	metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "completion").
		Add(float64(resp.Usage.CompletionTokens))

	return domain.Generation{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels.
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// buildMessages renders the instruction as the system turn and the
// retrieved passages plus the question as the user turn.
func buildMessages(req domain.GenerationRequest) []openai.ChatCompletionMessage {
	var user strings.Builder
	if len(req.Context) > 0 {
		user.WriteString("Context:\n")
		for i, passage := range req.Context {
			if i > 0 {
				user.WriteString("\n---\n")
			}
			user.WriteString(passage)
		}
		user.WriteString("\n\n")
	}
	user.WriteString("Question: ")
	user.WriteString(req.Question)

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.Instruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Instruction})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user.String()})
}
