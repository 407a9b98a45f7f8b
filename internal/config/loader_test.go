package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search.Threshold, cfg.Search.Threshold)
	assert.Equal(t, Default().Chunking.TokenBudgets, cfg.Chunking.TokenBudgets)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8088
search:
  threshold: 0.45
  settings_ttl: 30s
temporal:
  ends_before_boost: 5
chunking:
  parent_assignment: membership
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 0.45, cfg.Search.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Search.SettingsTTL.Duration())
	assert.Equal(t, 5.0, cfg.Temporal.EndsBeforeBoost)
	assert.Equal(t, "membership", cfg.Chunking.ParentAssignment)
	// untouched keys keep defaults
	assert.Equal(t, 3.5, cfg.Temporal.SameYearEarlyBoost)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: ollama\n", 0600)
	t.Setenv("CANDIDATE_LLM_PROVIDER", "openai")
	t.Setenv("CANDIDATE_SEARCH_DEFAULT_LIMIT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "store:\n  provider: mongo\n", 0600)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_RejectsWritablePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "server:\n  http_port: 8088\n", 0666)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"CANDIDATE_SEARCH_THRESHOLD":     "search.threshold",
		"CANDIDATE_SERVER_HTTP_PORT":     "server.http_port",
		"CANDIDATE_CACHE_REDIS_PASSWORD": "cache.redis_password",
		"CANDIDATE_DEBUG":                "debug",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, envKey(in))
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "store"), ExpandPath("~/store"))
	assert.Equal(t, "/var/lib/store", ExpandPath("/var/lib/store"))
}
