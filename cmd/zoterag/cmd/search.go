package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/chat"
)

func newSearchCmd() *cobra.Command {
	var flags filterFlags
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed library",
		Long: `Run one hybrid retrieval pass (BM25 and embeddings fused with
reciprocal rank fusion) and print the matching passages, without
invoking a language model.

Examples:
  zoterag search "attention is all you need"
  zoterag search "diffusion models" --year-min 2022 -n 5
  zoterag search survey --tags "machine learning" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, flags, limit, jsonOutput)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, flags filterFlags, limit int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer quietFileLogging(cfg.Logging.Level)()

	svc, _, _, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	results, err := svc.Search(ctx, query, limit, flags.filters())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if jsonOutput {
		snippets, sources := chat.AssignCitations(results)
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"results": snippets,
			"sources": sources,
		})
	}

	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "No results.")
		return nil
	}

	for i, r := range results {
		c := r.Chunk
		head := fmt.Sprintf("%d. %s", i+1, c.Title)
		if c.Year > 0 {
			head += fmt.Sprintf(" (%d)", c.Year)
		}
		_, _ = fmt.Fprintln(out, head)
		if len(c.Authors) > 0 {
			_, _ = fmt.Fprintf(out, "   %s\n", strings.Join(c.Authors, ", "))
		}
		_, _ = fmt.Fprintf(out, "   page %d, score %.4f\n", c.Page, r.Score)
		_, _ = fmt.Fprintf(out, "   %s\n\n", excerpt(c.Text, 200))
	}
	return nil
}

// excerpt collapses whitespace and truncates at a word boundary.
func excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
