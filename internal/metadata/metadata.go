// Package metadata extracts entities, topics, tools, concepts and temporal
// signals from arbitrary content.
//
// The Extractor asks the completion service for a JSON description first and
// falls back to keyword and date heuristics when the service is unavailable
// or its answer cannot be parsed. Extraction never fails. Results are cached
// by content hash so re-ingesting a document or repeating a query does not
// repeat the completion call.
package metadata

import (
	"slices"
	"strings"
)

// ChunkKey is the chunk metadata key extracted metadata is stored under.
const ChunkKey = "extracted"

// Recency classifies how current the described activity is.
type Recency string

const (
	RecencyCurrent    Recency = "current"
	RecencyRecent     Recency = "recent"
	RecencyHistorical Recency = "historical"
	RecencyTimeless   Recency = "timeless"
)

// Valid reports whether r is one of the known classifications.
func (r Recency) Valid() bool {
	switch r {
	case RecencyCurrent, RecencyRecent, RecencyHistorical, RecencyTimeless:
		return true
	}
	return false
}

// Source names where a Metadata value came from.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
)

// Metadata is the extracted description of one piece of content.
type Metadata struct {
	Entities []string `json:"entities"`
	Topics   []string `json:"topics"`
	Tools    []string `json:"tools"`
	Concepts []string `json:"concepts"`

	// TemporalRelationships holds phrases such as "before Globex" and date
	// ranges or years mentioned in the content.
	TemporalRelationships []string `json:"temporal_relationships"`
	Recency               Recency  `json:"temporal_context"`

	Source string `json:"source"`
}

// Terms returns every entity, topic, tool and concept lowercased and
// deduplicated, in that order.
func (m Metadata) Terms() []string {
	var out []string
	seen := map[string]bool{}
	for _, list := range [][]string{m.Entities, m.Topics, m.Tools, m.Concepts} {
		for _, t := range list {
			k := strings.ToLower(strings.TrimSpace(t))
			if k != "" && !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// Empty reports whether nothing was extracted.
func (m Metadata) Empty() bool {
	return len(m.Entities) == 0 && len(m.Topics) == 0 && len(m.Tools) == 0 &&
		len(m.Concepts) == 0 && len(m.TemporalRelationships) == 0
}

// Map converts m for storage in chunk metadata.
func (m Metadata) Map() map[string]any {
	return map[string]any{
		"entities":               toAny(m.Entities),
		"topics":                 toAny(m.Topics),
		"tools":                  toAny(m.Tools),
		"concepts":               toAny(m.Concepts),
		"temporal_relationships": toAny(m.TemporalRelationships),
		"temporal_context":       string(m.Recency),
		"source":                 m.Source,
	}
}

// FromMap reverses Map. Missing or mistyped fields are left empty.
func FromMap(v map[string]any) Metadata {
	if v == nil {
		return Metadata{}
	}
	m := Metadata{
		Entities:              toStrings(v["entities"]),
		Topics:                toStrings(v["topics"]),
		Tools:                 toStrings(v["tools"]),
		Concepts:              toStrings(v["concepts"]),
		TemporalRelationships: toStrings(v["temporal_relationships"]),
	}
	if s, ok := v["temporal_context"].(string); ok {
		m.Recency = Recency(s)
	}
	if s, ok := v["source"].(string); ok {
		m.Source = s
	}
	return m
}

// FromChunk returns the metadata stored under ChunkKey in a chunk's metadata
// map, whether it is still a Metadata value or was decoded from JSON.
func FromChunk(chunkMeta map[string]any) Metadata {
	switch v := chunkMeta[ChunkKey].(type) {
	case Metadata:
		return v
	case map[string]any:
		return FromMap(v)
	}
	return Metadata{}
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// clean trims, drops empties and deduplicates case-insensitively, keeping the
// first spelling seen.
func clean(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
