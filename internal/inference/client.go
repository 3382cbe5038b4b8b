// Package inference talks to the backend model endpoint. The gateway is
// the only component allowed to reach it; tools never get the endpoint
// address or credentials.
package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/promptgate/internal/config"
	"github.com/promptgate/internal/gateerr"
	"github.com/promptgate/internal/retry"
	"github.com/promptgate/pkg/models"
)

// Client generates a completion from an ordered prompt message list.
type Client interface {
	Generate(ctx context.Context, messages []models.PromptMessage) (string, error)
}

// LangchainClient is the production Client backed by a langchaingo model.
type LangchainClient struct {
	llm     llms.Model
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// New builds a client for the configured provider. Supported providers are
// "openai" (and OpenAI-compatible servers via base_url) and "ollama".
func New(cfg *config.Config) (*LangchainClient, error) {
	var (
		llm llms.Model
		err error
	)

	switch cfg.Inference.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Inference.Model)}
		if cfg.Inference.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.Inference.APIKey))
		}
		if cfg.Inference.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Inference.BaseURL))
		}
		llm, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Inference.Model)}
		if cfg.Inference.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Inference.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Inference.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inference provider: %w", err)
	}

	ratePerSec := cfg.Inference.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	burst := cfg.Inference.RateBurst
	if burst <= 0 {
		burst = 10
	}

	return &LangchainClient{
		llm:     llm,
		model:   cfg.Inference.Model,
		timeout: cfg.Inference.Timeout,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}, nil
}

// Generate sends the prompt to the backend and returns the completion text.
// Calls are rate limited, bounded by the configured timeout, and retried
// once with backoff on transient failures.
func (c *LangchainClient) Generate(ctx context.Context, messages []models.PromptMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	content := toContent(messages)

	var response string
	result := retry.RetryWithBackoff(ctx, retry.UpstreamRetryConfig(), func() error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.llm.GenerateContent(callCtx, content)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty response from model")
		}

		response = resp.Choices[0].Content
		log.Debug().
			Str("model", c.model).
			Dur("latency", time.Since(start)).
			Int("response_chars", len(response)).
			Msg("inference call completed")
		return nil
	})
	if !result.Success {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", gateerr.UpstreamUnavailable(result.LastError)
	}

	return response, nil
}

func toContent(messages []models.PromptMessage) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		if strings.EqualFold(string(m.Role), "system") {
			role = llms.ChatMessageTypeSystem
		}
		content = append(content, llms.TextParts(role, m.Content))
	}
	return content
}
