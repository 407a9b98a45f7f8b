package main

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	httpserver "github.com/earlyspark/ai-candidate/internal/http"
	"github.com/earlyspark/ai-candidate/internal/search"
)

func newSearchCmd(opts *options) *cobra.Command {
	var so search.Options
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Run a ranked search and print the results with their cross-references.

Examples:
  # Ask a temporal question
  candidatectl search "what did you do before Globex"

  # Restrict to projects and prefer parent chunks
  candidatectl search --category projects --prefer-parents "tell me about the billing rewrite"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp search.Response
			err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/search", httpserver.SearchRequest{
				Query:   strings.Join(args, " "),
				Options: so,
			}, &resp)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), resp)
			}

			out := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tSCORE\tCATEGORY\tCONTENT")
			for _, r := range resp.Results {
				fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\n", r.Rank, r.FinalScore, r.Chunk.Category, truncate(r.Chunk.Content, 70))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(resp.CrossReferences) > 0 {
				fmt.Fprintln(out, "\nRelated:")
				for _, ref := range resp.CrossReferences {
					fmt.Fprintf(out, "  [%s %.2f] %s\n", ref.Relation, ref.Score, truncate(ref.Chunk.Content, 70))
				}
			}
			fmt.Fprintf(out, "\n%d results via %s search in %s\n", len(resp.Results), resp.Path, resp.SearchTime)
			return nil
		},
	}
	cmd.Flags().IntVarP(&so.Limit, "limit", "n", 0, "Maximum results (server default when 0)")
	cmd.Flags().Float64Var(&so.Threshold, "threshold", 0, "Similarity threshold (server default when 0)")
	cmd.Flags().StringSliceVar(&so.Categories, "category", nil, "Restrict to a category (repeatable)")
	cmd.Flags().BoolVar(&so.EnableHierarchicalSearch, "hierarchical", false, "Search parent and grandparent chunks too")
	cmd.Flags().BoolVar(&so.PreferParentChunks, "prefer-parents", false, "Weight parent chunks above base chunks")
	return cmd
}

// truncate shortens s to maxLen runes on one line.
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
