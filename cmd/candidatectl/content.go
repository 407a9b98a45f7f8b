package main

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	httpserver "github.com/earlyspark/ai-candidate/internal/http"
	"github.com/earlyspark/ai-candidate/internal/ingest"
)

// contentFlags are shared by chunk and ingest.
type contentFlags struct {
	category string
	tags     []string
	sourceID string
}

func (f *contentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.category, "category", "c", "", "Content category: resume, experience, projects, communication, skills, preferences (required)")
	cmd.Flags().StringSliceVarP(&f.tags, "tag", "t", nil, "Tag to attach (repeatable)")
	cmd.Flags().StringVar(&f.sourceID, "source", "", "Source document id (defaults to the file name)")
	_ = cmd.MarkFlagRequired("category")
}

func (f *contentFlags) source(args []string) string {
	if f.sourceID != "" || len(args) == 0 || args[0] == "-" {
		return f.sourceID
	}
	return filepath.Base(args[0])
}

func newChunkCmd(opts *options) *cobra.Command {
	flags := &contentFlags{}
	cmd := &cobra.Command{
		Use:   "chunk [file]",
		Short: "Preview how content is chunked without storing it",
		Long: `Chunk a file or stdin and print the resulting chunks.

Examples:
  # Preview resume chunks
  candidatectl chunk --category resume resume.md

  # Chunk from stdin
  cat story.txt | candidatectl chunk -c experience -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args)
			if err != nil {
				return err
			}
			var res chunking.ChunkingResult
			err = opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/chunk", httpserver.ChunkRequest{
				Category: flags.category,
				Content:  content,
				Tags:     flags.tags,
				SourceID: flags.source(args),
			}, &res)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEVEL\tSEQ\tTYPE\tCONTENT")
			for _, c := range res.Chunks {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", c.Level, c.SequenceOrder, c.ProcessingType, truncate(c.Content, 60))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d chunks\n", res.TotalChunks)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newIngestCmd(opts *options) *cobra.Command {
	flags := &contentFlags{}
	var replace bool
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Chunk, embed and store content",
		Long: `Ingest a file or stdin into the knowledge base.

Examples:
  # Ingest a resume, replacing the previous version
  candidatectl ingest --category resume --replace resume.md

  # Ingest a writeup with tags
  candidatectl ingest -c projects -t go -t kubernetes writeup.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args)
			if err != nil {
				return err
			}
			var res ingest.Result
			err = opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/ingest", ingest.Request{
				Category: flags.category,
				Text:     content,
				Tags:     flags.tags,
				SourceID: flags.source(args),
				Replace:  replace,
			}, &res)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stored %d chunks in group %s (%s)\n", res.Stored, res.GroupID, res.ProcessingTime)
			if res.Replaced > 0 {
				fmt.Fprintf(out, "Replaced %d previous chunks\n", res.Replaced)
			}
			for _, f := range res.Failures {
				fmt.Fprintf(out, "  failed %s chunk %d (%s): %s\n", f.Stage, f.Index, f.ChunkID, f.Error)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&replace, "replace", false, "Delete chunks previously ingested from the same source")
	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source-id>",
		Short: "Delete every chunk derived from a source document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res httpserver.DeleteResponse
			if err := opts.client().do(cmd.Context(), http.MethodDelete, "/api/v1/sources/"+url.PathEscape(args[0]), nil, &res); err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks from %s\n", res.Deleted, res.SourceID)
			return nil
		},
	}
}
