package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/provider"
)

// newModelsCmd creates the `ruaphone models` command.
func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available from the configured provider",
		Long: `Queries the provider's model catalog. When discovery fails, a
built-in list is shown instead, since model selection is advisory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			catalog := provider.NewCatalog(a.prov, a.cfg.API.Provider, a.logger)
			models := catalog.Models(cmd.Context())

			current := a.cfg.API.Model
			for _, m := range models {
				marker := " "
				if m.ID == current {
					marker = "*"
				}
				if m.DisplayName != "" && m.DisplayName != m.ID {
					fmt.Printf("%s %-40s %s\n", marker, m.ID, m.DisplayName)
				} else {
					fmt.Printf("%s %s\n", marker, m.ID)
				}
			}
			return nil
		},
	}
}
