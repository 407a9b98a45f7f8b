package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlyspark/ai-candidate/internal/ingest"
	"github.com/earlyspark/ai-candidate/internal/search"
)

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := `
server:
  host: 127.0.0.1
  http_port: 18494
  shutdown_timeout: 2s
logging:
  level: warn
store:
  provider: chromem
  dimension: 64
  chromem:
    path: ` + filepath.Join(dir, "store") + `
embeddings:
  provider: hash
  batch_delay: 0s
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, path)
	}()

	base := "http://127.0.0.1:18494"
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	post := func(path string, body any, out any) int {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(base+path, "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		defer resp.Body.Close()
		if out != nil {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		}
		return resp.StatusCode
	}

	var ingested ingest.Result
	status := post("/api/v1/ingest", ingest.Request{
		Category: "resume",
		Text:     "Senior Engineer at Acme (Jan 2018 - Mar 2021)\n- Shipped billing v2\nStaff Engineer at Globex (Apr 2021 - Present)\n- Led the platform team",
		SourceID: "resume.md",
	}, &ingested)
	require.Equal(t, http.StatusOK, status)
	assert.Positive(t, ingested.Stored)

	var found search.Response
	status = post("/api/v1/search", map[string]any{"query": "where did you work at Acme", "threshold": 0.01}, &found)
	require.Equal(t, http.StatusOK, status)
	assert.NotNil(t, found.Results)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
