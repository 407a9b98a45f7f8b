package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Labeler answers a closed-set classification question. The boolean is false
// when there is no usable signal; implementations never return errors.
type Labeler interface {
	Classify(ctx context.Context, question, text string, options []string) (string, bool)
}

// NoSignal is a Labeler that never answers. Use it to exercise fallback paths.
type NoSignal struct{}

func (NoSignal) Classify(context.Context, string, string, []string) (string, bool) {
	return "", false
}

// Oracle asks the completion service to pick one label from a fixed set.
type Oracle struct {
	client Client
	logger *zap.Logger
}

var _ Labeler = (*Oracle)(nil)

// NewOracle wraps a client. A nil client behaves like NoSignal.
func NewOracle(client Client, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{client: client, logger: logger}
}

// Classify returns the option the model picked. Errors and answers outside
// options yield ("", false).
func (o *Oracle) Classify(ctx context.Context, question, text string, options []string) (string, bool) {
	if o == nil || o.client == nil || len(options) == 0 {
		return "", false
	}

	prompt := fmt.Sprintf("%s\nAnswer with exactly one of: %s.\n\nText:\n%s",
		question, strings.Join(options, ", "), text)
	answer, err := o.client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: "You are a precise classifier. Reply with a single label and nothing else."},
		{Role: RoleUser, Content: prompt},
	}, Options{Temperature: 0, MaxTokens: 10})
	if err != nil {
		o.logger.Debug("oracle call failed, using fallback", zap.String("question", question), zap.Error(err))
		return "", false
	}

	label, ok := matchOption(answer, options)
	if !ok {
		o.logger.Debug("oracle answer not in option set",
			zap.String("question", question), zap.String("answer", answer))
	}
	return label, ok
}

// matchOption normalizes an answer and finds it in options.
func matchOption(answer string, options []string) (string, bool) {
	a := strings.ToLower(strings.TrimSpace(answer))
	a = strings.Trim(a, ".\"'`*")
	if a == "" {
		return "", false
	}
	for _, opt := range options {
		if a == strings.ToLower(opt) {
			return opt, true
		}
	}
	// Tolerate "yes." or "Answer: experience" style replies.
	fields := strings.FieldsFunc(a, func(r rune) bool {
		return r == ' ' || r == ':' || r == ',' || r == '.' || r == '\n'
	})
	for _, f := range fields {
		for _, opt := range options {
			if f == strings.ToLower(opt) {
				return opt, true
			}
		}
	}
	return "", false
}
