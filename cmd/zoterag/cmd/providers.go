package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zoterag/zoterag/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported chat providers",
		Long: `List the chat providers zoterag can answer with, their default
models, and whether they need an API key.

Local providers (ollama, lmstudio) work without credentials. Hosted
providers read keys from the environment (OPENAI_API_KEY and friends)
or from profile settings saved through the API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := provider.Infos()

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tLABEL\tDEFAULT MODEL\tAPI KEY")
			for _, info := range infos {
				key := "not needed"
				if info.RequiresAPIKey {
					key = "required"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.ID, info.Label, info.DefaultModel, key)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
