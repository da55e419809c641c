package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/filter"
)

// filterFlags collects the metadata filter flags shared by count and
// search.
type filterFlags struct {
	yearMin     int
	yearMax     int
	tags        []string
	collections []string
	itemTypes   []string
	author      string
	title       string
}

// register adds the filter flags to a command.
func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.yearMin, "year-min", 0, "Earliest publication year")
	cmd.Flags().IntVar(&f.yearMax, "year-max", 0, "Latest publication year")
	cmd.Flags().StringSliceVar(&f.tags, "tags", nil, "Match any of these Zotero tags (repeatable)")
	cmd.Flags().StringSliceVar(&f.collections, "collections", nil, "Match any of these collections (repeatable)")
	cmd.Flags().StringSliceVar(&f.itemTypes, "item-types", nil, "Match any of these item types (repeatable)")
	cmd.Flags().StringVar(&f.author, "author", "", "Author name substring")
	cmd.Flags().StringVar(&f.title, "title", "", "Title substring")
}

// filters converts the flag values into the wire filter shape.
func (f *filterFlags) filters() filter.Filters {
	out := filter.Filters{
		Tags:        f.tags,
		Collections: f.collections,
		ItemTypes:   f.itemTypes,
	}
	if f.yearMin > 0 {
		v := f.yearMin
		out.YearMin = &v
	}
	if f.yearMax > 0 {
		v := f.yearMax
		out.YearMax = &v
	}
	if f.author != "" {
		v := f.author
		out.Author = &v
	}
	if f.title != "" {
		v := f.title
		out.Title = &v
	}
	out.HasFilters = out.YearMin != nil || out.YearMax != nil ||
		len(out.Tags) > 0 || len(out.Collections) > 0 ||
		len(out.ItemTypes) > 0 || out.Author != nil || out.Title != nil
	return out
}

func newCountCmd() *cobra.Command {
	var flags filterFlags
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count indexed items matching metadata filters",
		Long: `Count indexed items and chunks matching metadata filters without
running a search. Useful to preview what a filtered chat would see.

Examples:
  zoterag count --year-min 2020
  zoterag count --tags "machine learning" --tags surveys
  zoterag count --collections "PhD Reading" --year-max 2015`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCount(cmd.Context(), cmd, flags, jsonOutput)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runCount(ctx context.Context, cmd *cobra.Command, flags filterFlags, jsonOutput bool) error {
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

	counts, err := svc.CountFiltered(ctx, flags.filters())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(counts)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Matching items:  %d\n", counts.UniqueItems)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Matching chunks: %d\n", counts.TotalChunks)
	return nil
}
