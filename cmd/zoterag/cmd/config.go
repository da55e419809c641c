package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zoterag/zoterag/configs"
	"github.com/zoterag/zoterag/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the user configuration file",
		Long: `Manage the user configuration file.

The user config applies to every profile on this machine. Settings are
resolved in layers: built-in defaults, then the user config, then a file
passed with --config, then ZOTERAG_* environment variables.`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Create the user configuration file from the built-in template.

The file is written to ~/.config/zoterag/config.yaml, or under
$XDG_CONFIG_HOME when set. Every setting appears with its default, so
the file documents the full schema.

When the file already exists, --force adds settings introduced since it
was written. Existing values are kept and the previous file is backed
up first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Add new defaults to an existing config")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := cmd.OutOrStdout()
	path := config.GetUserConfigPath()

	if config.UserConfigExists() {
		if !force {
			_, _ = fmt.Fprintf(out, "User configuration already exists at %s.\n", path)
			_, _ = fmt.Fprintln(out, "Use --force to add settings introduced since it was written.")
			return nil
		}

		added, err := config.MergeNewDefaults()
		if err != nil {
			return err
		}
		if len(added) == 0 {
			_, _ = fmt.Fprintln(out, "Configuration is already up to date.")
			return nil
		}
		_, _ = fmt.Fprintf(out, "Added %d new settings (previous file backed up):\n", len(added))
		for _, key := range added {
			_, _ = fmt.Fprintf(out, "  %s\n", key)
		}
		return nil
	}

	if err := os.MkdirAll(config.GetUserConfigDir(), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Created %s.\n", path)
	_, _ = fmt.Fprintln(out, "Edit it to point at your Zotero library, then run 'zoterag index'.")
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging all sources.

Sources:
  merged    defaults + user config + --config file + environment
  user      the user config file only
  defaults  built-in defaults only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, or defaults")

	return cmd
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := cmd.OutOrStdout()

	var cfg *config.Config
	switch source {
	case "merged":
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			_, _ = fmt.Fprintf(out, "No user configuration at %s.\n", path)
			_, _ = fmt.Fprintln(out, "Run 'zoterag config init' to create one.")
			return nil
		}
		cfg = config.New()
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read user config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse user config: %w", err)
		}

	case "defaults":
		cfg = config.New()

	default:
		return fmt.Errorf("invalid source %q (use merged, user, or defaults)", source)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, string(data))
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(out, string(data))
	return nil
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}
