package chunking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/llm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service chunks content by category and builds its hierarchy.
type Service struct {
	cfg      config.ChunkingConfig
	rules    map[string]RuleSet
	labeler  llm.Labeler
	builder  *HierarchyBuilder
	logger   *zap.Logger
	newGroup func() string
	newID    func() string
}

// NewService creates a chunking service. Rule overrides are read from
// cfg.RulesFile when set. A nil labeler runs rules only.
func NewService(cfg config.ChunkingConfig, labeler llm.Labeler, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if labeler == nil {
		labeler = llm.NoSignal{}
	}
	if cfg.DefaultBudget <= 0 {
		return nil, fmt.Errorf("chunking default budget must be positive")
	}

	rules := map[string]RuleSet{}
	for _, c := range []string{CategoryResume, CategoryExperience, CategoryProjects, CategoryCommunication, CategorySkills} {
		rules[c] = DefaultRules(c)
	}
	if cfg.RulesFile != "" {
		overrides, err := LoadRules(config.ExpandPath(cfg.RulesFile))
		if err != nil {
			return nil, err
		}
		for c, rs := range overrides {
			rules[c] = mergeRules(DefaultRules(c), rs)
		}
		logger.Info("loaded chunking rule overrides",
			zap.String("path", cfg.RulesFile), zap.Int("categories", len(overrides)))
	}

	return &Service{
		cfg:      cfg,
		rules:    rules,
		labeler:  labeler,
		builder:  NewHierarchyBuilder(cfg.HierarchyMultiplier, cfg.MaxDepth, AssignmentMode(cfg.ParentAssignment)),
		logger:   logger,
		newGroup: uuid.NewString,
		newID:    uuid.NewString,
	}, nil
}

func (s *Service) rulesFor(category string) RuleSet {
	if rs, ok := s.rules[category]; ok {
		return rs
	}
	return DefaultRules(category)
}

// StrategyFor returns the chunker for category.
func (s *Service) StrategyFor(category string) Strategy {
	budget := s.cfg.BudgetFor(category)
	overlap := s.cfg.OverlapSentences
	rules := s.rulesFor(category)
	switch category {
	case CategoryResume:
		return NewResumeStrategy(rules, s.labeler, budget, overlap, s.logger)
	case CategoryExperience:
		return NewStarStrategy(rules, budget, overlap)
	case CategoryProjects:
		return NewProjectStrategy(rules, budget, overlap)
	case CategoryCommunication:
		return NewConversationStrategy(rules, budget, overlap)
	case CategorySkills:
		return NewSkillsStrategy(rules, budget, overlap)
	default:
		return NewGenericStrategy(category, rules, budget, overlap)
	}
}

// ChunkContent chunks text for category and returns base chunks followed by
// their parents and grandparents. All chunks share one new group id.
func (s *Service) ChunkContent(ctx context.Context, category, text string, tags []string, sourceID string) (*ChunkingResult, error) {
	start := time.Now()
	category = strings.ToLower(strings.TrimSpace(category))
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	if category == "" {
		return nil, fmt.Errorf("category required")
	}
	tags = normalizeTags(tags)

	base := s.StrategyFor(category).Chunk(ctx, text, tags)
	if len(base) == 0 {
		base = []Chunk{newChunk(text, category, tags, nil)}
	}

	groupID := s.newGroup()
	s.finishLevel(base, groupID, sourceID)
	hierarchy := s.builder.Build(base, groupID, s.cfg.BudgetFor(category))

	chunks := append(base, hierarchy...)
	dual := s.cfg.StyleSourceTag != "" && hasTagFold(tags, s.cfg.StyleSourceTag)
	if dual {
		// Style chunks number their own sequence so the information
		// sequence still partitions the source text.
		style := StyleChunks(base)
		s.finishLevel(style, groupID, sourceID)
		chunks = append(chunks, style...)
	}

	s.logger.Debug("content chunked",
		zap.String("category", category),
		zap.String("source.id", sourceID),
		zap.Int("base_chunks", len(base)),
		zap.Int("hierarchy_chunks", len(hierarchy)),
		zap.Bool("dual_purpose", dual),
	)

	return &ChunkingResult{
		Chunks:         chunks,
		TotalChunks:    len(chunks),
		ProcessingTime: time.Since(start),
		HasDualPurpose: dual,
	}, nil
}

// finishLevel assigns ids, batch positions and sentence-level boundaries to
// a run of base chunks.
func (s *Service) finishLevel(chunks []Chunk, groupID, sourceID string) {
	for i := range chunks {
		c := &chunks[i]
		c.ID = s.newID()
		c.ChunkIndex = i
		c.TotalChunks = len(chunks)
		c.Level = LevelBase
		c.GroupID = groupID
		c.SequenceOrder = i
		c.SourceID = sourceID
		c.Boundaries.TemporalMarkers = TemporalMarkers(c.Content)
		if i > 0 {
			c.Boundaries.StartContext = lastSentence(chunks[i-1].Content)
		}
		if i+1 < len(chunks) {
			c.Boundaries.EndContext = firstSentence(chunks[i+1].Content)
		}
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ToLower(strings.TrimSpace(t)))
	}
	return dedupeStrings(out)
}

func hasTagFold(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
