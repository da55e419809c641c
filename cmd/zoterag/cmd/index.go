package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/index"
	"github.com/zoterag/zoterag/internal/ui"
)

// pollInterval paces status polling during an indexing run. The TUI
// redraws on its own ticker; this only bounds snapshot freshness.
const pollInterval = 200 * time.Millisecond

func newIndexCmd() *cobra.Command {
	var full bool
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the Zotero library",
		Long: `Extract, chunk, and embed the text of every PDF attachment in the
library.

Incremental by default: items that already have chunks are skipped,
so rerunning after adding papers only processes the new ones. --full
clears the collection and rebuilds from scratch, which is also the
way out of a dimension mismatch after changing embedding models.

Progress renders as a live TUI on interactive terminals and as plain
lines when piped or with --no-tui. Ctrl+C cancels at the next item
boundary; already indexed items are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode := index.ModeIncremental
			if full {
				mode = index.ModeFull
			}
			return runIndex(ctx, cmd, mode, noTUI)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Reindex everything from scratch")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Plain line output instead of the live TUI")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, mode index.Mode, noTUI bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer quietFileLogging(cfg.Logging.Level)()

	svc, _, profileID, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.StartIndexing(ctx, mode); err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI),
		ui.WithLibrary(profileID),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ctx.Done():
			svc.CancelIndexing()
			break poll
		case <-ticker.C:
			status := svc.IndexStatus()
			renderer.Update(status)
			if !status.InProgress {
				break poll
			}
		}
	}

	jobErr := svc.WaitIndexing()
	renderer.Complete(ui.SummaryFromStatus(svc.IndexStatus()))
	if stopErr := renderer.Stop(); stopErr != nil && jobErr == nil {
		jobErr = stopErr
	}
	return jobErr
}
