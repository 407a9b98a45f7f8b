// Package chunking turns long-form documents into hierarchical, retrievable
// chunks.
//
// Each content category has a Strategy that segments text into base chunks
// using an ordered RuleSet of structural patterns. The HierarchyBuilder then
// merges adjacent base chunks into parent and grandparent chunks. Service ties
// both together behind ChunkContent.
package chunking

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Built-in categories. Any other category name is chunked generically.
const (
	CategoryResume        = "resume"
	CategoryExperience    = "experience"
	CategoryProjects      = "projects"
	CategoryCommunication = "communication"
	CategorySkills        = "skills"
	CategoryPreferences   = "preferences"
)

// ProcessingType says what a chunk's text is used for.
type ProcessingType string

const (
	ProcessingInformation ProcessingType = "information"
	ProcessingStyle       ProcessingType = "style"
	// ProcessingDual is accepted on ingestion requests and means the text
	// is chunked for both information and style.
	ProcessingDual ProcessingType = "dual"
)

// Hierarchy levels.
const (
	LevelBase        = 0
	LevelParent      = 1
	LevelGrandparent = 2
)

// Common metadata keys set by strategies.
const (
	MetaSectionType   = "section_type"
	MetaTitle         = "title"
	MetaDateRange     = "date_range"
	MetaStory         = "story_components"
	MetaTechStack     = "tech_stack"
	MetaSkillCategory = "skill_category"
	MetaSkills        = "skills"
	MetaProficiency   = "proficiency"
	MetaParticipants  = "participants"
	MetaTurnCount     = "turn_count"
	MetaStyle         = "style"
	MetaPairedIndex   = "paired_chunk_index"
	MetaSplitPart     = "split_part"
)

var (
	// ErrEmptyContent is returned when there is no text to chunk.
	ErrEmptyContent = errors.New("content is empty")

	// ErrInvalidRules is returned for unreadable or invalid rule overrides.
	ErrInvalidRules = errors.New("invalid chunking rules")
)

// SemanticBoundaries carries neighboring context and temporal markers.
type SemanticBoundaries struct {
	StartContext    string   `json:"start_context,omitempty"`
	EndContext      string   `json:"end_context,omitempty"`
	TemporalMarkers []string `json:"temporal_markers,omitempty"`
}

// Chunk is a retrievable unit of content at one hierarchy level.
type Chunk struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Category       string         `json:"category"`
	ChunkIndex     int            `json:"chunk_index"`
	TotalChunks    int            `json:"total_chunks"`
	Tags           []string       `json:"tags,omitempty"`
	ProcessingType ProcessingType `json:"processing_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SourceID       string         `json:"source_id,omitempty"`

	Level         int                `json:"chunk_level"`
	GroupID       string             `json:"chunk_group_id"`
	SequenceOrder int                `json:"sequence_order"`
	ParentID      string             `json:"parent_chunk_id,omitempty"`
	Boundaries    SemanticBoundaries `json:"semantic_boundaries"`
}

// HasTag reports whether the chunk carries tag (case-insensitive).
func (c *Chunk) HasTag(tag string) bool {
	return slices.ContainsFunc(c.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
}

// MetaString returns a string metadata value or "".
func (c *Chunk) MetaString(key string) string {
	if c.Metadata == nil {
		return ""
	}
	s, _ := c.Metadata[key].(string)
	return s
}

// MetaStrings returns a list metadata value. Values decoded from JSON
// ([]any) are converted.
func (c *Chunk) MetaStrings(key string) []string {
	if c.Metadata == nil {
		return nil
	}
	switch v := c.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// ChunkingResult is the output of Service.ChunkContent.
type ChunkingResult struct {
	Chunks         []Chunk       `json:"chunks"`
	TotalChunks    int           `json:"total_chunks"`
	ProcessingTime time.Duration `json:"processing_time"`
	HasDualPurpose bool          `json:"has_dual_purpose"`
}

// Strategy segments one category's content into base chunks. Strategies
// only fill Content, Category, Tags, ProcessingType and Metadata; the
// Service assigns indexes, ids and hierarchy fields.
type Strategy interface {
	Chunk(ctx context.Context, content string, tags []string) []Chunk
}

// EstimateTokens approximates a token count as ceil(chars / 4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

func newChunk(content, category string, tags []string, meta map[string]any) Chunk {
	if meta == nil {
		meta = map[string]any{}
	}
	return Chunk{
		Content:        strings.TrimSpace(content),
		Category:       category,
		Tags:           slices.Clone(tags),
		ProcessingType: ProcessingInformation,
		Metadata:       meta,
	}
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
