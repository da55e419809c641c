package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/logging"
	"github.com/zoterag/zoterag/internal/server"
	"github.com/zoterag/zoterag/internal/watch"
)

func newServeCmd() *cobra.Command {
	var host string
	var portMin, portMax int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		Long: `Run the REST API the zoterag desktop app talks to.

The server binds the first free port in the configured range (default
127.0.0.1:8000-8009) so several profiles can run side by side. It
watches the Zotero data directory for changes to keep the needs-sync
flag accurate, and shuts down gracefully on Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, host, portMin, portMax)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (default from config)")
	cmd.Flags().IntVar(&portMin, "port-min", 0, "Lowest port to probe (default from config)")
	cmd.Flags().IntVar(&portMax, "port-max", 0, "Highest port to probe (default from config)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, host string, portMin, portMax int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Foreground server: logs go to the rotating file and stderr.
	if loggingCleanup == nil {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			defer cleanup()
			slog.SetDefault(logger)
		}
	}

	if host == "" {
		host = cfg.Server.Host
	}
	if portMin == 0 {
		portMin = cfg.Server.PortMin
	}
	if portMax == 0 {
		portMax = cfg.Server.PortMax
	}

	svc, profiles, profileID, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	// Watch the Zotero library so stats report pending changes. A
	// failed watch degrades to "sync state unknown", not a dead server.
	if w, err := watch.New(watch.Options{}); err == nil {
		if err := w.Start(ctx, cfg.Library.ZoteroDir); err != nil {
			slog.Warn("library watcher unavailable", slog.String("error", err.Error()))
		} else {
			svc.SetSyncCheck(w.NeedsSync)
			svc.SetSyncMark(w.MarkSynced)
			defer func() { _ = w.Stop() }()
		}
	}

	srv, err := server.New(server.Options{
		Service:  svc,
		Profiles: profiles,
		Logger:   slog.Default(),
		Debug:    debugMode,
	})
	if err != nil {
		return err
	}

	// Stored profile settings carry provider credentials and the active
	// model. Apply them before accepting traffic; a stale provider in
	// the settings should not keep the server from starting.
	if err := srv.ApplySettings(ctx); err != nil {
		slog.Warn("stored settings not applied", slog.String("error", err.Error()))
	}

	ln, err := server.Listen(host, portMin, portMax)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "zoterag API on http://%s (profile %s)\n",
		ln.Addr(), profileID)

	return srv.Serve(ctx, ln)
}
