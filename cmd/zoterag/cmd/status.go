package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/service"
	"github.com/zoterag/zoterag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and sync state",
		Long: `Display the state of the active profile's index:
  - indexed items and chunks against the live Zotero library
  - whether a sync is pending
  - vector store health (dimension check against the embedding model)
  - metadata generation and on-disk size`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer quietFileLogging(cfg.Logging.Level)()

	svc, profiles, profileID, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	info, err := collectStatus(ctx, svc, profiles.DataDir(profileID), profileID)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, svc *service.Service, dataDir, profileID string) (ui.StatusInfo, error) {
	stats, err := svc.IndexStats(ctx)
	if err != nil {
		return ui.StatusInfo{}, err
	}
	health, err := svc.DBHealth(ctx)
	if err != nil {
		return ui.StatusInfo{}, err
	}
	version, err := svc.MetadataVersion(ctx)
	if err != nil {
		return ui.StatusInfo{}, err
	}

	return ui.StatusInfo{
		Profile:         profileID,
		ZoteroItems:     stats.ZoteroItems,
		IndexedItems:    stats.IndexedItems,
		TotalChunks:     stats.TotalChunks,
		NewItems:        stats.NewItems,
		NeedsSync:       stats.NeedsSync,
		EmbeddingModel:  stats.EmbeddingModel,
		CollectionName:  stats.CollectionName,
		MetadataVersion: version.String(),
		Health:          health.Status,
		HealthMessage:   health.Message,
		DataDir:         dataDir,
		DataSize:        dirSize(dataDir),
	}, nil
}

// dirSize totals the sizes of regular files under path.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
