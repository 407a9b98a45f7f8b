package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "chromem", cfg.Store.Provider)
	assert.Equal(t, 2.5, cfg.Chunking.HierarchyMultiplier)
	assert.Equal(t, 10, cfg.Embeddings.BatchSize)
	assert.Equal(t, 0.2, cfg.Classifier.SemanticFloor)
	assert.Equal(t, 4.0, cfg.Temporal.EndsBeforeBoost)
	assert.Equal(t, 3.5, cfg.Temporal.SameYearEarlyBoost)
	assert.Equal(t, 4.0, cfg.Preference.Boost)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.http_port"},
		{"unknown store", func(c *Config) { c.Store.Provider = "mongo" }, "store.provider"},
		{"postgres without dsn", func(c *Config) { c.Store.Provider = "postgres" }, "store.postgres.dsn"},
		{"unknown embeddings", func(c *Config) { c.Embeddings.Provider = "word2vec" }, "embeddings.provider"},
		{"zero batch", func(c *Config) { c.Embeddings.BatchSize = 0 }, "embeddings.batch_size"},
		{"unknown llm", func(c *Config) { c.LLM.Provider = "bard" }, "llm.provider"},
		{"small multiplier", func(c *Config) { c.Chunking.HierarchyMultiplier = 0.5 }, "hierarchy_multiplier"},
		{"deep hierarchy", func(c *Config) { c.Chunking.MaxDepth = 3 }, "max_depth"},
		{"bad assignment", func(c *Config) { c.Chunking.ParentAssignment = "overlap" }, "parent_assignment"},
		{"threshold above one", func(c *Config) { c.Search.Threshold = 1.5 }, "search.threshold"},
		{"limit above max", func(c *Config) { c.Search.DefaultLimit = 100 }, "default_limit"},
		{"unknown cache", func(c *Config) { c.Cache.Provider = "memcached" }, "cache.provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestChunkingConfig_BudgetFor(t *testing.T) {
	cfg := Default().Chunking
	assert.Equal(t, 600, cfg.BudgetFor("experience"))
	assert.Equal(t, cfg.DefaultBudget, cfg.BudgetFor("hobbies"))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, redacted, s.String())
	assert.Equal(t, redacted, fmt.Sprintf("%v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-live-123")

	var back struct{ Key Secret }
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back.Key.IsSet())

	t.Run("hint", func(t *testing.T) {
		assert.Equal(t, "", Secret("").Hint())
		assert.Equal(t, redacted, s.Hint())
		assert.Equal(t, "...wxyz", Secret("sk-proj-abcdefwxyz").Hint())
	})
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "90s", want: 90 * time.Second},
		{in: " 500ms ", want: 500 * time.Millisecond},
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "0d", want: 0},
		{in: "-1s", wantErr: true},
		{in: "-2d", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "1.5d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}
