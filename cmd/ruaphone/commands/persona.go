package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newPersonaCmd creates the `ruaphone persona` command group.
func newPersonaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage personas",
		Long: `Personas are reusable character definitions. Each one carries a
description and the memory it accumulates across conversations.

Examples:
  ruaphone persona list
  ruaphone persona create Mia "a calm, wry friend who loves tea"
  ruaphone persona show Mia
  ruaphone persona delete Mia`,
	}
	cmd.AddCommand(
		newPersonaListCmd(),
		newPersonaCreateCmd(),
		newPersonaShowCmd(),
		newPersonaDeleteCmd(),
	)
	return cmd
}

func newPersonaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all personas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			personas, err := a.store.ListPersonas()
			if err != nil {
				return err
			}
			if len(personas) == 0 {
				fmt.Println("No personas yet. Create one with: ruaphone persona create <name> <description>")
				return nil
			}
			for _, p := range personas {
				desc := p.Persona
				if len(desc) > 60 {
					desc = desc[:60] + "..."
				}
				fmt.Printf("%-20s %s\n", p.Name, desc)
			}
			return nil
		},
	}
}

func newPersonaCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name> <description>",
		Short: "Create a persona",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			avatar, _ := cmd.Flags().GetString("avatar")
			p, err := a.store.CreatePersona(args[0], avatar, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("Created persona %q (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	cmd.Flags().String("avatar", "", "avatar image URL")
	return cmd
}

func newPersonaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a persona and its memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := findPersona(a.store, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Name:    %s\n", p.Name)
			fmt.Printf("ID:      %s\n", p.ID)
			fmt.Printf("Created: %s\n", time.UnixMilli(p.Created).Format(time.RFC1123))
			fmt.Printf("Persona: %s\n", p.Persona)
			if p.Memory == "" {
				fmt.Println("Memory:  (nothing yet)")
			} else {
				fmt.Println("Memory:")
				for _, line := range strings.Split(p.Memory, "\n") {
					fmt.Printf("  - %s\n", line)
				}
			}
			return nil
		},
	}
}

func newPersonaDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a persona and its one-on-one chats",
		Long: `Deletes a persona. One-on-one chats owned by it are deleted with
their messages; group chats keep running without the member.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := findPersona(a.store, args[0])
			if err != nil {
				return err
			}

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !confirm(fmt.Sprintf("Delete %q and all its one-on-one chats?", p.Name)) {
				fmt.Println("Aborted.")
				return nil
			}
			if err := a.store.DeletePersona(p.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted persona %q\n", p.Name)
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}
