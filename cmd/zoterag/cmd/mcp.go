package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/logging"
	"github.com/zoterag/zoterag/internal/mcpserv"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Long: `Expose the library to MCP clients such as Claude Desktop or
Claude Code, with tools for hybrid search and index status.

Stdout carries JSON-RPC exclusively in this mode, so all logging goes
to the log file. Register the server with your client, for example:

  claude mcp add zoterag -- zoterag mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMCP(ctx)
		},
	}

	return cmd
}

func runMCP(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// File-only logging before anything else can write: a single stray
	// line on stdout or stderr corrupts the protocol stream.
	cleanup, err := logging.SetupStdioMode(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, _, _, err := openService(ctx, cfg)
	if err != nil {
		slog.Error("service open failed", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = svc.Close() }()

	m, err := mcpserv.New(svc, slog.Default())
	if err != nil {
		return err
	}
	return m.Run(ctx)
}
