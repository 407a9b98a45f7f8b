package chunking

import (
	"strings"

	"github.com/google/uuid"
)

// AssignmentMode selects how children are linked to parents.
type AssignmentMode string

const (
	// AssignProportional links child i of n to parent floor(i*p/n), giving
	// each parent an equal share of its level's children.
	AssignProportional AssignmentMode = "proportional"

	// AssignMembership links each child to the parent its content was
	// merged into.
	AssignMembership AssignmentMode = "membership"
)

const parentSeparator = "\n\n"

// HierarchyBuilder merges adjacent chunks into parent and grandparent
// chunks.
type HierarchyBuilder struct {
	multiplier float64
	maxDepth   int
	mode       AssignmentMode
	newID      func() string
}

// NewHierarchyBuilder creates a builder. Parents close when adding the next
// child would exceed budget*multiplier; grandparents use budget*multiplier^2.
func NewHierarchyBuilder(multiplier float64, maxDepth int, mode AssignmentMode) *HierarchyBuilder {
	if multiplier < 1 {
		multiplier = 2.5
	}
	if mode == "" {
		mode = AssignProportional
	}
	return &HierarchyBuilder{
		multiplier: multiplier,
		maxDepth:   maxDepth,
		mode:       mode,
		newID:      uuid.NewString,
	}
}

// Build returns the parent and grandparent chunks for base and sets
// ParentID on every linked child in place. base must be in sequence order
// and carry IDs.
func (b *HierarchyBuilder) Build(base []Chunk, groupID string, budget int) []Chunk {
	var (
		out      []Chunk
		children = base
		limit    = float64(budget)
	)
	for level := LevelParent; level <= b.maxDepth && level <= LevelGrandparent; level++ {
		if len(children) < 2 {
			break
		}
		limit *= b.multiplier
		parents, members := b.merge(children, groupID, level, int(limit))
		b.assign(children, parents, members)
		out = append(out, parents...)

		// The slice elements in out are what callers receive, so the next
		// level must link those.
		children = out[len(out)-len(parents):]
	}
	return out
}

// merge greedily accumulates consecutive children until adding the next one
// would exceed limit tokens.
func (b *HierarchyBuilder) merge(children []Chunk, groupID string, level, limit int) ([]Chunk, [][]int) {
	var (
		runs    [][]int
		current []int
		tokens  int
	)
	for i := range children {
		t := EstimateTokens(children[i].Content)
		if len(current) > 0 && tokens+t+1 > limit {
			runs = append(runs, current)
			current, tokens = nil, 0
		}
		current = append(current, i)
		tokens += t + 1
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}

	parents := make([]Chunk, len(runs))
	for p, run := range runs {
		first, last := children[run[0]], children[run[len(run)-1]]
		contents := make([]string, len(run))
		var (
			tags    []string
			markers [][]string
		)
		for j, idx := range run {
			contents[j] = children[idx].Content
			tags = append(tags, children[idx].Tags...)
			markers = append(markers, children[idx].Boundaries.TemporalMarkers)
		}
		parents[p] = Chunk{
			ID:             b.newID(),
			Content:        strings.Join(contents, parentSeparator),
			Category:       first.Category,
			ChunkIndex:     p,
			TotalChunks:    len(runs),
			Tags:           dedupeStrings(tags),
			ProcessingType: first.ProcessingType,
			Metadata:       cloneMeta(first.Metadata),
			SourceID:       first.SourceID,
			Level:          level,
			GroupID:        groupID,
			SequenceOrder:  p,
			Boundaries: SemanticBoundaries{
				StartContext:    first.Boundaries.StartContext,
				EndContext:      last.Boundaries.EndContext,
				TemporalMarkers: mergeMarkers(markers...),
			},
		}
	}
	return parents, runs
}

func (b *HierarchyBuilder) assign(children, parents []Chunk, members [][]int) {
	if len(parents) == 0 {
		return
	}
	switch b.mode {
	case AssignMembership:
		for p, run := range members {
			for _, idx := range run {
				children[idx].ParentID = parents[p].ID
			}
		}
	default:
		n := len(children)
		for i := range children {
			children[i].ParentID = parents[i*len(parents)/n].ID
		}
	}
}
