// Package classifier assigns per-query relevance weights to the content
// categories present in the store.
//
// Categories are discovered by a Registry that samples the store on a fixed
// cadence, so classification never queries storage on the request path.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/embeddings"
	"github.com/earlyspark/ai-candidate/internal/llm"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// Source is the part of the chunk store the registry samples.
type Source interface {
	Categories(ctx context.Context) ([]string, error)
	List(ctx context.Context, f store.Filter) ([]chunking.Chunk, error)
}

// Category is one discovered category.
type Category struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Samples     int       `json:"samples"`
	Embedding   []float32 `json:"-"`
}

// Snapshot is the registry state at one refresh.
type Snapshot struct {
	Categories  []Category `json:"categories"`
	RefreshedAt time.Time  `json:"refreshed_at"`
}

// Names returns the category names in snapshot order.
func (s Snapshot) Names() []string {
	names := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		names[i] = c.Name
	}
	return names
}

// builtinDescriptions describe the categories the chunkers know about.
var builtinDescriptions = map[string]string{
	chunking.CategoryResume:        "Employment history: roles, employers, dates and responsibilities from a resume.",
	chunking.CategoryExperience:    "Behavioral stories in situation, task, action, result form describing how problems were handled.",
	chunking.CategoryProjects:      "Technical writeups of projects: goals, architecture, tech stack and outcomes.",
	chunking.CategoryCommunication: "Conversation transcripts showing how the person communicates and answers questions.",
	chunking.CategorySkills:        "Skill listings grouped by area with proficiency levels.",
	chunking.CategoryPreferences:   "Work preferences: ideal role, day-to-day work style, team and environment.",
}

const describePrompt = `You write one-sentence descriptions of content categories in a personal knowledge base.
Given a category name and sample excerpts, describe what kind of questions this category answers.
Respond with the sentence only.`

// Registry keeps a periodically refreshed view of the stored categories.
type Registry struct {
	source   Source
	client   llm.Client
	embedder embeddings.Embedder
	cfg      config.ClassifierConfig
	logger   *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	lastErr  error
	running  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRegistry creates a registry. client and embedder may be nil; descriptions
// then come from built-in text and semantic weighting is unavailable.
func NewRegistry(source Source, client llm.Client, embedder embeddings.Embedder, cfg config.ClassifierConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = llm.Unavailable{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = config.Duration(10 * time.Minute)
	}
	if cfg.SamplesPerCategory <= 0 {
		cfg.SamplesPerCategory = 5
	}
	return &Registry{
		source:   source,
		client:   client,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start refreshes immediately and then on every interval until ctx is done
// or Stop is called. A stopped registry can be started again.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	r.stopCh, r.doneCh = stop, done
	r.mu.Unlock()

	r.logger.Info("starting category registry", zap.Duration("interval", r.cfg.RefreshInterval.Duration()))
	go r.run(ctx, stop, done)
}

// Stop halts the refresh loop and waits for it to exit. Calling it on a
// registry that is not running is a no-op.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stop)
	<-done
}

func (r *Registry) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	_ = r.Refresh(ctx)

	ticker := time.NewTicker(r.cfg.RefreshInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}

// Snapshot returns the current categories.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// LastError returns the error of the most recent refresh, if any.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Refresh rediscovers categories. On a store error the previous snapshot is
// kept.
func (r *Registry) Refresh(ctx context.Context) error {
	names, err := r.source.Categories(ctx)
	if err != nil {
		err = fmt.Errorf("discovering categories: %w", err)
		r.logger.Warn("category refresh failed, keeping previous snapshot", zap.Error(err))
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		return err
	}

	cats := make([]Category, 0, len(names))
	for _, name := range names {
		samples, sErr := r.source.List(ctx, store.Filter{
			Category: name,
			Level:    store.Level(chunking.LevelBase),
			Limit:    r.cfg.SamplesPerCategory,
		})
		if sErr != nil {
			r.logger.Warn("sampling category failed", zap.String("category", name), zap.Error(sErr))
		}
		cat := Category{Name: name, Samples: len(samples)}
		cat.Description = r.describe(ctx, name, samples)
		cat.Embedding = r.embed(ctx, cat)
		cats = append(cats, cat)
	}

	r.mu.Lock()
	r.snapshot = Snapshot{Categories: cats, RefreshedAt: time.Now()}
	r.lastErr = nil
	r.mu.Unlock()
	r.logger.Debug("category registry refreshed", zap.Strings("categories", names))
	return nil
}

func (r *Registry) describe(ctx context.Context, name string, samples []chunking.Chunk) string {
	if len(samples) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Category: %s\n\nSamples:\n", name)
		for _, s := range samples {
			b.WriteString("- ")
			b.WriteString(excerpt(s.Content, 300))
			b.WriteByte('\n')
		}
		answer, err := r.client.Complete(ctx, []llm.Message{
			{Role: llm.RoleSystem, Content: describePrompt},
			{Role: llm.RoleUser, Content: b.String()},
		}, llm.Options{Temperature: 0.2, MaxTokens: 80})
		if answer = strings.TrimSpace(answer); err == nil && answer != "" {
			return answer
		}
		if err != nil {
			r.logger.Debug("category description completion failed", zap.String("category", name), zap.Error(err))
		}
	}
	if d, ok := builtinDescriptions[name]; ok {
		return d
	}
	if len(samples) > 0 {
		return fmt.Sprintf("Content about %s, for example: %s", name, excerpt(samples[0].Content, 160))
	}
	return "Content about " + name + "."
}

func (r *Registry) embed(ctx context.Context, c Category) []float32 {
	if r.embedder == nil {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, c.Name+": "+c.Description)
	if err != nil {
		r.logger.Warn("embedding category description failed", zap.String("category", c.Name), zap.Error(err))
		return nil
	}
	return vec
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
