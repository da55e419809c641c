package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage library profiles",
		Long: `Profiles keep separate indexes, chat settings, and provider
credentials, for example one per Zotero account or per research area.
Every command runs against the active profile.`,
	}

	cmd.AddCommand(newProfilesListCmd())
	cmd.AddCommand(newProfilesCreateCmd())
	cmd.AddCommand(newProfilesUseCmd())
	cmd.AddCommand(newProfilesDeleteCmd())

	return cmd
}

func newProfilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			profiles, err := openProfiles(cfg)
			if err != nil {
				return err
			}

			list, err := profiles.List()
			if err != nil {
				return err
			}
			active, err := profiles.Active()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, " \tID\tNAME\tDESCRIPTION")
			for _, p := range list {
				marker := " "
				if p.ID == active {
					marker = "*"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, p.ID, p.Name, p.Description)
			}
			return w.Flush()
		},
	}
}

func newProfilesCreateCmd() *cobra.Command {
	var name string
	var description string

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a profile",
		Long: `Create a profile with its own index and settings.

The id must be letters, digits, hyphens, or underscores.

Examples:
  zoterag profiles create thesis --name "Thesis corpus"
  zoterag profiles create reviews --description "Papers under review"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			profiles, err := openProfiles(cfg)
			if err != nil {
				return err
			}

			id := args[0]
			if name == "" {
				name = id
			}
			p, err := profiles.Create(id, name, description)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created profile %s.\n", p.ID)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Switch to it with 'zoterag profiles use %s'.\n", p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the id)")
	cmd.Flags().StringVar(&description, "description", "", "Short description")

	return cmd
}

func newProfilesUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Switch the active profile",
		Long: `Make a profile the active one for subsequent commands.

A running 'zoterag serve' keeps its current profile until restarted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			profiles, err := openProfiles(cfg)
			if err != nil {
				return err
			}

			if err := profiles.Activate(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Active profile is now %s.\n", args[0])
			return nil
		},
	}
}

func newProfilesDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a profile and its index",
		Long: `Delete a profile, including its index data and settings.

Deleting the active profile requires --force; the default profile is
recreated empty on the next run if removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			profiles, err := openProfiles(cfg)
			if err != nil {
				return err
			}

			if err := profiles.Delete(args[0], force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Delete even if the profile is active")

	return cmd
}
