package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/embeddings"
	"github.com/earlyspark/ai-candidate/internal/llm"
)

// Provenance prefixes used in Weight.Reason.
const (
	ReasonLLM      = "llm"
	ReasonSemantic = "semantic"
	ReasonStatic   = "static"
	ReasonKeyword  = "keyword"
)

// Weight is the relevance of one category to a query.
type Weight struct {
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
	Reason   string  `json:"reason"`
}

// Weights is a classification result.
type Weights []Weight

// Map returns category → weight.
func (ws Weights) Map() map[string]float64 {
	m := make(map[string]float64, len(ws))
	for _, w := range ws {
		m[w.Category] = w.Weight
	}
	return m
}

// Get returns the weight of category and whether it was classified.
func (ws Weights) Get(category string) (float64, bool) {
	for _, w := range ws {
		if w.Category == category {
			return w.Weight, true
		}
	}
	return 0, false
}

// Top returns categories with weight >= min, in result order.
func (ws Weights) Top(min float64) []string {
	var out []string
	for _, w := range ws {
		if w.Weight >= min {
			out = append(out, w.Category)
		}
	}
	return out
}

// keywordRule raises a category to Min when Pattern matches the query.
type keywordRule struct {
	Pattern  *regexp.Regexp
	Category string
	Min      float64
}

var keywordRules = []keywordRule{
	{regexp.MustCompile(`(?i)\b(day[- ]to[- ]day|prefer\w*|ideal (role|job|team)|work style|work environment|enjoy working)\b`), "preferences", 0.9},
	{regexp.MustCompile(`(?i)\b(skills?|strengths?|good at|expertise|proficien\w*)\b`), "skills", 0.8},
	{regexp.MustCompile(`(?i)\b(where did you work|employers?|job history|companies|before|after|previous role)\b`), "resume", 0.7},
	{regexp.MustCompile(`(?i)\b(tell me about a time|example of (a )?time|challenge|conflict|situation)\b`), "experience", 0.7},
	{regexp.MustCompile(`(?i)\b(projects?|built|side project|architecture)\b`), "projects", 0.7},
	{regexp.MustCompile(`(?i)\b(communicat\w*|explain|tone)\b`), "communication", 0.6},
}

const classifyPrompt = `You route questions about one person to the parts of their knowledge base that can answer them.
Assign every category a relevance weight between 0 and 1 for the question.

Guidance for overlapping categories:
- "resume" is employment history: which roles, employers and dates. Use it for where/when questions.
- "experience" is behavioral stories (situation, task, action, result). Use it for how/why questions about handling situations.
- "projects" is technical writeups. Use it for what-was-built and technology questions.
- A question can need several categories; weights do not need to sum to 1.

Respond ONLY with JSON: {"weights": {"<category>": <weight>}, "reasoning": "<one sentence>"}`

type llmAnswer struct {
	Weights   map[string]float64 `json:"weights"`
	Reasoning string             `json:"reasoning"`
}

// Classifier weights categories for a query: LLM first, then semantic
// similarity against category descriptions, then static weights. A keyword
// overlay runs last and only raises weights.
type Classifier struct {
	registry *Registry
	client   llm.Client
	embedder embeddings.Embedder
	cfg      config.ClassifierConfig
	logger   *zap.Logger
}

// New creates a classifier over registry. client and embedder may be nil.
func New(registry *Registry, client llm.Client, embedder embeddings.Embedder, cfg config.ClassifierConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = llm.Unavailable{}
	}
	if cfg.SemanticFloor <= 0 {
		cfg.SemanticFloor = 0.2
	}
	if cfg.StaticWeight <= 0 {
		cfg.StaticWeight = 0.5
	}
	return &Classifier{registry: registry, client: client, embedder: embedder, cfg: cfg, logger: logger}
}

// Classify returns category weights sorted by weight, highest first. The
// query embedding is optional; it is computed when semantic weighting needs
// it. Classification never fails.
func (c *Classifier) Classify(ctx context.Context, query string, queryEmbedding []float32) Weights {
	snap := c.snapshot()

	ws, err := c.classifyLLM(ctx, query, snap)
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			c.logger.Warn("llm classification failed, trying semantic", zap.Error(err))
		}
		ws, err = c.classifySemantic(ctx, query, queryEmbedding, snap)
		if err != nil {
			c.logger.Warn("semantic classification failed, using static weights", zap.Error(err))
			ws = c.classifyStatic()
		}
	}
	return sortWeights(Merge(ws, KeywordOverlay(query)))
}

func (c *Classifier) snapshot() Snapshot {
	if c.registry == nil {
		return Snapshot{}
	}
	return c.registry.Snapshot()
}

func (c *Classifier) classifyLLM(ctx context.Context, query string, snap Snapshot) ([]Weight, error) {
	if len(snap.Categories) == 0 {
		return nil, errors.New("no categories discovered")
	}
	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, cat := range snap.Categories {
		fmt.Fprintf(&b, "- %s: %s\n", cat.Name, cat.Description)
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)

	answer, err := c.client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: classifyPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}, llm.Options{Temperature: 0.1, MaxTokens: 300})
	if err != nil {
		return nil, err
	}
	var parsed llmAnswer
	if err := llm.DecodeJSON(answer, &parsed); err != nil {
		return nil, fmt.Errorf("unparseable classification: %w", err)
	}
	if len(parsed.Weights) == 0 {
		return nil, errors.New("classification has no weights")
	}

	reason := ReasonLLM
	if r := strings.TrimSpace(parsed.Reasoning); r != "" {
		reason += ": " + r
	}
	out := make([]Weight, 0, len(snap.Categories))
	for _, cat := range snap.Categories {
		w, ok := lookupFold(parsed.Weights, cat.Name)
		if !ok {
			out = append(out, Weight{Category: cat.Name, Weight: c.cfg.SemanticFloor, Reason: ReasonLLM + ": not weighted, floor applied"})
			continue
		}
		out = append(out, Weight{Category: cat.Name, Weight: clamp01(w), Reason: reason})
	}
	return out, nil
}

func (c *Classifier) classifySemantic(ctx context.Context, query string, queryEmbedding []float32, snap Snapshot) ([]Weight, error) {
	if len(snap.Categories) == 0 {
		return nil, errors.New("no categories discovered")
	}
	if queryEmbedding == nil {
		if c.embedder == nil {
			return nil, errors.New("no embedder")
		}
		var err error
		if queryEmbedding, err = c.embedder.Embed(ctx, query); err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
	}
	out := make([]Weight, 0, len(snap.Categories))
	for _, cat := range snap.Categories {
		if len(cat.Embedding) != len(queryEmbedding) {
			return nil, fmt.Errorf("category %s has no usable description embedding", cat.Name)
		}
		sim := embeddings.Cosine(queryEmbedding, cat.Embedding)
		out = append(out, Weight{
			Category: cat.Name,
			Weight:   math.Max(c.cfg.SemanticFloor, clamp01(sim)),
			Reason:   fmt.Sprintf("%s: similarity %.2f", ReasonSemantic, sim),
		})
	}
	return out, nil
}

func (c *Classifier) classifyStatic() []Weight {
	cats := c.cfg.DefaultCategories
	if len(cats) == 0 {
		cats = []string{"resume", "experience", "projects", "communication", "skills", "preferences"}
	}
	out := make([]Weight, len(cats))
	for i, cat := range cats {
		out[i] = Weight{Category: cat, Weight: c.cfg.StaticWeight, Reason: ReasonStatic + ": default weight"}
	}
	return out
}

// KeywordOverlay returns the minimum weights implied by strong lexical
// signals in query.
func KeywordOverlay(query string) []Weight {
	var out []Weight
	for _, r := range keywordRules {
		if m := r.Pattern.FindString(query); m != "" {
			out = append(out, Weight{
				Category: r.Category,
				Weight:   r.Min,
				Reason:   fmt.Sprintf("%s: %q", ReasonKeyword, strings.ToLower(m)),
			})
		}
	}
	return out
}

// Merge combines weight lists. For a category present in several lists the
// highest weight wins and reasons are joined.
func Merge(lists ...[]Weight) Weights {
	index := map[string]int{}
	var out Weights
	for _, list := range lists {
		for _, w := range list {
			i, ok := index[w.Category]
			if !ok {
				index[w.Category] = len(out)
				out = append(out, w)
				continue
			}
			if w.Weight > out[i].Weight {
				out[i].Weight = w.Weight
			}
			switch {
			case w.Reason == "" || strings.Contains(out[i].Reason, w.Reason):
			case out[i].Reason == "":
				out[i].Reason = w.Reason
			default:
				out[i].Reason += "; " + w.Reason
			}
		}
	}
	return out
}

func sortWeights(ws Weights) Weights {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Weight != ws[j].Weight {
			return ws[i].Weight > ws[j].Weight
		}
		return ws[i].Category < ws[j].Category
	})
	return ws
}

func lookupFold(m map[string]float64, key string) (float64, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return v, true
		}
	}
	return 0, false
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
