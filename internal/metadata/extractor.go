package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/earlyspark/ai-candidate/internal/cache"
	"github.com/earlyspark/ai-candidate/internal/llm"
	"go.uber.org/zap"
)

// maxPromptRunes bounds the content sent to the completion service.
const maxPromptRunes = 6000

const extractPrompt = `You extract structured metadata from a person's professional writing.

Respond with a JSON object containing:
- "entities": organisations, products, people or places named in the text
- "topics": short lowercase subject tags (e.g. "leadership", "payments")
- "tools": technologies, languages, frameworks and services, lowercase
- "concepts": abstract skills or qualities demonstrated (e.g. "ownership")
- "temporal_relationships": phrases placing events in time, such as "before Globex", "2019" or "Jan 2018 - Mar 2021"
- "temporal_context": one of "current", "recent", "historical", "timeless"

Use empty arrays when nothing applies. Respond ONLY with the JSON object.`

// Extractor produces Metadata for content, preferring the completion service.
type Extractor struct {
	client llm.Client
	cache  cache.Cache[Metadata]
	ttl    time.Duration
	tags   *TagExtractor
	now    func() time.Time
	logger *zap.Logger
}

// NewExtractor creates an extractor. A nil client runs heuristics only and a
// nil cache disables caching.
func NewExtractor(client llm.Client, c cache.Cache[Metadata], ttl time.Duration, logger *zap.Logger) *Extractor {
	if client == nil {
		client = llm.Unavailable{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		client: client,
		cache:  c,
		ttl:    ttl,
		tags:   NewTagExtractor(nil),
		now:    time.Now,
		logger: logger,
	}
}

// Tags returns the keyword tag extractor shared with query tag derivation.
func (e *Extractor) Tags() *TagExtractor {
	return e.tags
}

// Extract returns metadata for text. It never fails: completion errors and
// malformed answers fall back to Heuristic.
func (e *Extractor) Extract(ctx context.Context, text string) Metadata {
	text = strings.TrimSpace(text)
	if text == "" {
		return Metadata{Recency: RecencyTimeless, Source: SourceHeuristic}
	}
	m, _ := cache.GetOrLoad(ctx, e.cache, cacheKey(text), e.ttl, e.logger, func(ctx context.Context) (Metadata, error) {
		return e.extract(ctx, text), nil
	})
	return m
}

func (e *Extractor) extract(ctx context.Context, text string) Metadata {
	prompt := text
	if utf8.RuneCountInString(prompt) > maxPromptRunes {
		prompt = string([]rune(prompt)[:maxPromptRunes])
	}

	answer, err := e.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: extractPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{Temperature: 0.1, MaxTokens: 500})
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			e.logger.Debug("no completion service, using heuristics")
		} else {
			e.logger.Warn("metadata completion failed, using heuristics", zap.Error(err))
		}
		return Heuristic(text, e.now(), e.tags)
	}

	var m Metadata
	if err := llm.DecodeJSON(answer, &m); err != nil {
		e.logger.Warn("metadata completion unparseable, using heuristics", zap.Error(err))
		return Heuristic(text, e.now(), e.tags)
	}

	m.Entities = clean(m.Entities)
	m.Topics = clean(lowerAll(m.Topics))
	m.Tools = clean(lowerAll(m.Tools))
	m.Concepts = clean(lowerAll(m.Concepts))
	m.TemporalRelationships = clean(m.TemporalRelationships)
	m.Recency = Recency(strings.ToLower(strings.TrimSpace(string(m.Recency))))
	if !m.Recency.Valid() {
		m.Recency = classifyRecency(text, e.now())
	}
	m.Source = SourceLLM
	return m
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "meta:" + hex.EncodeToString(sum[:])
}
