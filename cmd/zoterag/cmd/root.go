// Package cmd provides the CLI commands for zoterag.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	ragerr "github.com/zoterag/zoterag/internal/errors"
	"github.com/zoterag/zoterag/internal/logging"
	"github.com/zoterag/zoterag/internal/profiling"
	"github.com/zoterag/zoterag/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// Profiling flags. The profiles are written where the flag says, so
// they work for every subcommand including mcp.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.New()
	cpuCleanup   func()
	traceCleanup func()
)

// NewRootCmd creates the root command for the zoterag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zoterag",
		Short: "Chat with your Zotero library",
		Long: `zoterag indexes the PDF attachments of a Zotero library and answers
questions about them, combining BM25 and embedding retrieval with a
local or hosted language model.

Typical flow:

  zoterag index          build or refresh the index
  zoterag serve          run the local HTTP API
  zoterag mcp            expose the library as MCP tools over stdio
  zoterag search "..."   one-shot retrieval without a model`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("zoterag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file overriding the user config")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to the log file")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCountCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newProfilesCmd())
	cmd.AddCommand(newProvidersCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging
// when the matching flags are set. Debug logging skips the mcp command:
// stdout carries JSON-RPC there and it installs file-only logging
// itself.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if debugMode && cmd.Name() != "mcp" {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	var err error
	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return err
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
				cpuCleanup = nil
			}
			return err
		}
	}

	return nil
}

// stopProfilingAndLogging flushes profiles and closes the debug log.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return err
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command. Errors render through FormatForCLI so
// coded failures show their hint; cobra's own printing is silenced to
// avoid the duplicate line.
func Execute() error {
	cmd := NewRootCmd()
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), ragerr.FormatForCLI(err))
	}
	return err
}
