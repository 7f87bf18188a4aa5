package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newFactsCmd creates the `ruaphone facts` command group. World facts are
// named background notes folded into every one-on-one system prompt.
func newFactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Manage world facts shared by all chats",
		Long: `World facts are named notes about the shared setting, like a season,
a city, or an ongoing event. Every one-on-one chat folds them into its
system prompt.

Examples:
  ruaphone facts add Season "late summer, first cool evenings"
  ruaphone facts list
  ruaphone facts remove <id>`,
	}
	cmd.AddCommand(newFactsListCmd(), newFactsAddCmd(), newFactsRemoveCmd())
	return cmd
}

func newFactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List world facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			facts, err := a.store.ListWorldFacts()
			if err != nil {
				return err
			}
			if len(facts) == 0 {
				fmt.Println("No world facts yet. Add one with: ruaphone facts add <name> <text>")
				return nil
			}
			for _, f := range facts {
				fmt.Printf("%s  %-16s %s\n", f.ID, f.Name, f.Content)
			}
			return nil
		},
	}
}

func newFactsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <text>...",
		Short: "Add a world fact",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			fact, err := a.store.AddWorldFact(args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("Added fact %q (%s)\n", fact.Name, fact.ID)
			return nil
		},
	}
}

func newFactsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a world fact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteWorldFact(args[0]); err != nil {
				return err
			}
			fmt.Println("Removed.")
			return nil
		},
	}
}
