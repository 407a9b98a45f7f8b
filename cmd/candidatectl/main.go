// Package main implements candidatectl, a CLI for the candidated HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/earlyspark/ai-candidate/internal/http"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client talks to one candidated server.
type client struct {
	baseURL string
	http    *http.Client
}

// options are the flags shared by every command.
type options struct {
	serverURL string
	timeout   time.Duration
	json      bool
}

func (o *options) client() *client {
	return &client{
		baseURL: strings.TrimRight(o.serverURL, "/"),
		http:    &http.Client{Timeout: o.timeout},
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "candidatectl",
		Short: "CLI for candidated HTTP server operations",
		Long: `candidatectl is a command-line interface for the candidated HTTP server.
It chunks and ingests candidate content, runs searches and checks server health.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:9494", "candidated server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Output results as JSON")

	root.AddCommand(newChunkCmd(opts))
	root.AddCommand(newIngestCmd(opts))
	root.AddCommand(newDeleteCmd(opts))
	root.AddCommand(newSearchCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	return root
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check candidated server health",
		Long: `Check the health status of the candidated HTTP server.

Examples:
  # Check health
  candidatectl health

  # Check health on a different server
  candidatectl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := opts.client()
			var health httpserver.HealthResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/health", nil, &health); err != nil {
				return err
			}
			var status httpserver.StatusResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/status", nil, &status); err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", status.Status)
			fmt.Fprintf(out, "Server URL: %s\n", c.baseURL)
			if status.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", status.Version)
			}
			fmt.Fprintf(out, "Chunks: %d\n", status.Counts.Chunks)
			fmt.Fprintf(out, "Categories: %d\n", status.Counts.Categories)
			for name, state := range status.Services {
				fmt.Fprintf(out, "  %s: %s\n", name, state)
			}
			return nil
		},
	}
}

// do sends body as JSON and decodes the response into out. Non-2xx
// responses become errors carrying the server's message.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &msg) == nil && msg.Message != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg.Message)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readContent reads a file argument, or stdin for "-" or no argument.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	var (
		content []byte
		err     error
	)
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}
	if strings.TrimSpace(string(content)) == "" {
		return "", fmt.Errorf("no content to send")
	}
	return string(content), nil
}
