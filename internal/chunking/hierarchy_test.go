package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func children(sizes ...int) []Chunk {
	out := make([]Chunk, len(sizes))
	for i, n := range sizes {
		out[i] = Chunk{
			ID:            fmt.Sprintf("c%d", i),
			Content:       strings.Repeat("a", n),
			Category:      CategoryExperience,
			Tags:          []string{fmt.Sprintf("t%d", i%2)},
			SequenceOrder: i,
			Boundaries:    SemanticBoundaries{TemporalMarkers: []string{fmt.Sprintf("%d", 2010+i)}},
		}
	}
	return out
}

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("p%d", n)
	}
}

func TestHierarchyBuilder_Assignment(t *testing.T) {
	// Tokens: 20, 5, 5, 5, 5 against a parent limit of 25.
	tests := []struct {
		mode AssignmentMode
		want []string
	}{
		{AssignProportional, []string{"p1", "p1", "p1", "p2", "p2"}},
		{AssignMembership, []string{"p1", "p2", "p2", "p2", "p2"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			b := NewHierarchyBuilder(2.5, 1, tt.mode)
			b.newID = counterIDs()
			base := children(80, 20, 20, 20, 20)

			parents := b.Build(base, "g", 10)
			require.Len(t, parents, 2)

			got := make([]string, len(base))
			for i, c := range base {
				got[i] = c.ParentID
			}
			assert.Equal(t, tt.want, got)

			for i, p := range parents {
				assert.Equal(t, LevelParent, p.Level)
				assert.Equal(t, "g", p.GroupID)
				assert.Equal(t, i, p.SequenceOrder)
				assert.Equal(t, 2, p.TotalChunks)
			}
			assert.Equal(t, base[0].Content, parents[0].Content)
			assert.Equal(t, strings.Repeat(strings.Repeat("a", 20)+"\n\n", 3)+strings.Repeat("a", 20), parents[1].Content)
		})
	}
}

func TestHierarchyBuilder_Grandparents(t *testing.T) {
	b := NewHierarchyBuilder(2.5, 2, AssignMembership)
	b.newID = counterIDs()
	base := children(40, 40, 40, 40, 40)

	out := b.Build(base, "g", 10)
	require.Len(t, out, 4)

	parents, grand := out[:3], out[3]
	assert.Equal(t, LevelGrandparent, grand.Level)
	for _, p := range parents {
		assert.Equal(t, LevelParent, p.Level)
		assert.Equal(t, grand.ID, p.ParentID)
	}
	assert.Empty(t, grand.ParentID)
	assert.Equal(t, parents[0].Content+"\n\n"+parents[1].Content+"\n\n"+parents[2].Content, grand.Content)

	// Containment: every child's text is inside its parent.
	byID := map[string]Chunk{}
	for _, c := range out {
		byID[c.ID] = c
	}
	for _, c := range append(base, parents...) {
		parent, ok := byID[c.ParentID]
		require.True(t, ok, "chunk %s has no parent", c.ID)
		assert.Contains(t, parent.Content, c.Content)
	}

	assert.Equal(t, []string{"2010", "2011", "2012", "2013", "2014"}, grand.Boundaries.TemporalMarkers)
	assert.Equal(t, []string{"t0", "t1"}, grand.Tags)
}

func TestHierarchyBuilder_Limits(t *testing.T) {
	t.Run("single child builds nothing", func(t *testing.T) {
		b := NewHierarchyBuilder(2.5, 2, AssignProportional)
		base := children(10)
		assert.Empty(t, b.Build(base, "g", 10))
		assert.Empty(t, base[0].ParentID)
	})

	t.Run("depth zero builds nothing", func(t *testing.T) {
		b := NewHierarchyBuilder(2.5, 0, AssignProportional)
		assert.Empty(t, b.Build(children(10, 10), "g", 10))
	})

	t.Run("small multiplier uses default", func(t *testing.T) {
		b := NewHierarchyBuilder(0.5, 1, "")
		assert.Equal(t, 2.5, b.multiplier)
		assert.Equal(t, AssignProportional, b.mode)
	})
}
