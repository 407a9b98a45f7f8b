// Package llm provides the text-completion service used by chunking,
// metadata extraction and query classification.
//
// Every client implements Client. Callers that only need a label use Oracle,
// which turns any failure or unparseable answer into "no signal" so the
// deterministic fallback path runs instead.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/earlyspark/ai-candidate/internal/config"
	"go.uber.org/zap"
)

// Roles accepted in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultBurst       = 5
	defaultTimeout     = 60 * time.Second
)

// ErrUnavailable is returned when no completion service is configured or the
// configured one cannot be reached.
var ErrUnavailable = errors.New("completion service unavailable")

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Options tune a single completion.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client is the text-completion service.
type Client interface {
	// Complete returns the full completion text.
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)

	// Stream calls onToken for each incremental piece of text. Returning an
	// error from onToken stops the stream and is returned.
	Stream(ctx context.Context, messages []Message, opts Options, onToken func(string) error) error
}

// NewClient builds the client named by cfg.Provider. "none" yields a client
// that always returns ErrUnavailable.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "", "none":
		return Unavailable{}, nil
	case "openai":
		return NewOpenAIClient(cfg, logger)
	case "ollama":
		return NewOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// Unavailable is the client used when no completion service is configured.
type Unavailable struct{}

var _ Client = Unavailable{}

func (Unavailable) Complete(context.Context, []Message, Options) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Stream(context.Context, []Message, Options, func(string) error) error {
	return ErrUnavailable
}

// retryableError marks transient failures: rate limiting, server errors and
// transport errors.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// withRetry runs fn up to maxRetries+1 times with exponential backoff while
// it returns a retryable error.
func withRetry(ctx context.Context, maxRetries int, backoff time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// DecodeJSON unmarshals a completion that should contain JSON. Markdown code
// fences and leading prose before the first brace are tolerated.
func DecodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if start := strings.IndexAny(s, "{["); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndexAny(s, "}]"); end >= 0 && end < len(s)-1 {
		s = s[:end+1]
	}
	if s == "" {
		return fmt.Errorf("empty completion")
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to parse completion as JSON: %w", err)
	}
	return nil
}

// ClientFunc adapts a function to Client. Stream delivers the whole completion
// as one token.
type ClientFunc func(ctx context.Context, messages []Message, opts Options) (string, error)

var _ Client = ClientFunc(nil)

func (f ClientFunc) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	return f(ctx, messages, opts)
}

func (f ClientFunc) Stream(ctx context.Context, messages []Message, opts Options, onToken func(string) error) error {
	s, err := f(ctx, messages, opts)
	if err != nil {
		return err
	}
	return onToken(s)
}
