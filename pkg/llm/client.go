// Package llm's client wraps google.golang.org/genai directly: the
// orchestrator only ever needs two structured prompt calls (entity
// extraction, fact extraction), not a multi-turn agent session, so a thin
// client is a better fit than a full agent framework.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/emergent-company/memgraph/internal/config"
	"github.com/emergent-company/memgraph/pkg/apperror"
	"github.com/emergent-company/memgraph/pkg/logger"
)

// Client implements Provider over google.golang.org/genai, talking to
// either Vertex AI or the direct Gemini API depending on configuration.
type Client struct {
	client *genai.Client
	model  string
	log    *slog.Logger

	temperature     float64
	maxOutputTokens int32
	timeout         time.Duration

	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration

	configured bool
}

// NewClient builds a Client from LLMConfig. When neither Vertex AI project
// credentials nor an API key are configured, IsConfigured reports false and
// GenerateJSON always fails with apperror.ErrInternal — callers (the
// orchestrator) are expected to check IsConfigured before dispatching work.
func NewClient(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (*Client, error) {
	log = log.With(logger.Scope("llm"))

	c := &Client{
		model:           cfg.Model,
		log:             log,
		temperature:     cfg.Temperature,
		maxOutputTokens: int32(cfg.MaxOutputTokens),
		timeout:         cfg.Timeout,
		maxAttempts:     cfg.RetryMaxAttmps,
		retryBase:       cfg.RetryBase(),
		retryCap:        cfg.RetryCap(),
		configured:      cfg.IsConfigured(),
	}

	if !c.configured {
		log.Warn("LLM client not configured, extraction calls will fail")
		return c, nil
	}

	var gc *genai.ClientConfig
	if cfg.UseVertexAI() {
		gc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.GCPProjectID,
			Location: cfg.VertexLocation,
		}
	} else {
		gc = &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  cfg.APIKey,
		}
	}

	client, err := genai.NewClient(ctx, gc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client = client

	return c, nil
}

// IsConfigured implements Provider.
func (c *Client) IsConfigured() bool { return c.configured }

// GenerateJSON implements Provider, retrying rate-limited and transient
// failures per the configured backoff, and surfacing everything else
// immediately as a non-retryable apperror.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *Schema) (string, error) {
	if !c.configured {
		return "", apperror.NewInternal("LLM client not configured", nil)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(c.temperature)),
		MaxOutputTokens:  c.maxOutputTokens,
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt-1, c.retryBase, c.retryCap)
			c.log.Warn("retrying LLM call",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				logger.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return "", apperror.ErrCancelled.WithInternal(ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := c.generate(ctx, userPrompt, genCfg)
		if err == nil {
			text := resp.Text()
			if text == "" {
				lastErr = apperror.ErrBadLLMOutput.WithMessage("model returned empty content")
				continue
			}
			return text, nil
		}

		if ctx.Err() != nil {
			return "", apperror.ErrCancelled.WithInternal(ctx.Err())
		}

		if !isRetryable(err) {
			return "", apperror.ErrBadLLMOutput.WithInternal(err)
		}
		lastErr = err
	}

	return "", apperror.ErrExhausted.WithInternal(lastErr)
}

// generate runs one model call under the per-call timeout. A timeout
// surfaces as a context error on the call itself, not on the caller's ctx,
// so the retry loop classifies it like any other transient provider
// failure instead of aborting as cancelled.
func (c *Client) generate(ctx context.Context, userPrompt string, genCfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), genCfg)
}

// isRetryable classifies genai API errors by HTTP status: rate limiting,
// server-side failures, and per-call timeouts are transient; everything
// else is treated as a permanent bad request.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}
