package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade index metadata to the filterable format",
		Long: `Rewrite stored chunk metadata from the legacy v1 shape to v2.

Indexes built before filterable metadata cannot serve tag, collection,
or year filters; chats against them fall back to unfiltered retrieval.
The migration rebuilds bibliographic fields from the Zotero database
while keeping chunk text and positions, so nothing is re-embedded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), cmd)
		},
	}

	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command) error {
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

	out := cmd.OutOrStdout()

	version, err := svc.MetadataVersion(ctx)
	if err != nil {
		return err
	}
	switch version {
	case store.MetadataVersionNone:
		_, _ = fmt.Fprintln(out, "Index is empty; nothing to migrate.")
		return nil
	case store.MetadataV2:
		_, _ = fmt.Fprintln(out, "Metadata is already in the current format.")
		return nil
	}

	_, _ = fmt.Fprintln(out, "Migrating metadata to the filterable format...")

	summary, err := svc.MigrateMetadata(ctx)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Updated %d of %d chunks across %d items in %.1fs.\n",
		summary.UpdatedChunks, summary.TotalChunks, summary.UniqueItems, summary.ElapsedSeconds)
	if summary.FailedChunks > 0 {
		_, _ = fmt.Fprintf(out, "%d chunks could not be updated; see the log for details.\n",
			summary.FailedChunks)
	}
	return nil
}
