package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/earlyspark/ai-candidate/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIClient talks to the OpenAI chat completions API or any compatible
// server (set BaseURL).
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
	maxRetries  int
	backoff     time.Duration
	logger      *zap.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a rate-limited OpenAI client.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 50
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		limiter:     rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), defaultBurst),
		maxRetries:  maxRetries,
		backoff:     defaultBaseBackoff,
		logger:      logger,
	}, nil
}

func (c *OpenAIClient) request(messages []Message, opts Options, stream bool) openai.ChatCompletionRequest {
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := c.request(messages, opts, false)
	var content string
	err := withRetry(ctx, c.maxRetries, c.backoff, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, req)
		if err != nil {
			return classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty response from API")
		}
		content = resp.Choices[0].Message.Content
		c.logger.Debug("completion generated",
			zap.String("model", c.model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Stream implements Client. Retries only cover opening the stream.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, opts Options, onToken func(string) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	req := c.request(messages, opts, true)
	var stream *openai.ChatCompletionStream
	err := withRetry(ctx, c.maxRetries, c.backoff, func() error {
		s, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return classifyOpenAIError(err)
		}
		stream = s
		return nil
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onToken(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// classifyOpenAIError wraps 429, 5xx and transport failures as retryable.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("openai API error (%d): %w", apiErr.HTTPStatusCode, err)}
		}
		return fmt.Errorf("openai API error (%d): %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("openai request error (%d): %w", reqErr.HTTPStatusCode, err)}
		}
		return fmt.Errorf("openai request error (%d): %w", reqErr.HTTPStatusCode, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &retryableError{err: fmt.Errorf("API request failed: %w", err)}
}
