package llm

import (
	"context"
	"fmt"

	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OllamaClient runs completions against a local Ollama server through langchaingo.
type OllamaClient struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	maxRetries  int
	logger      *zap.Logger
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates a client for cfg.Model served at cfg.BaseURL.
func NewOllamaClient(cfg config.LLMConfig, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 50
	}

	return &OllamaClient{
		llm:         model,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), defaultBurst),
		maxRetries:  cfg.MaxRetries,
		logger:      logger,
	}, nil
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextContent{Text: m.Content}},
		})
	}
	return out
}

func (c *OllamaClient) callOptions(opts Options) []llms.CallOption {
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	callOpts := []llms.CallOption{llms.WithTemperature(temperature)}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	return callOpts
}

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var content string
	err := withRetry(ctx, c.maxRetries, defaultBaseBackoff, func() error {
		resp, err := c.llm.GenerateContent(ctx, toMessageContent(messages), c.callOptions(opts)...)
		if err != nil {
			// Ollama errors are local transport or model-load failures.
			return &retryableError{err: fmt.Errorf("ollama request failed: %w", err)}
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty response from ollama")
		}
		content = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Stream implements Client.
func (c *OllamaClient) Stream(ctx context.Context, messages []Message, opts Options, onToken func(string) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	callOpts := append(c.callOptions(opts), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onToken(string(chunk))
	}))
	if _, err := c.llm.GenerateContent(ctx, toMessageContent(messages), callOpts...); err != nil {
		return fmt.Errorf("ollama stream failed: %w", err)
	}
	return nil
}
