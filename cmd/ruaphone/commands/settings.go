package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// newSettingsCmd creates the `ruaphone settings` command group.
func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View or change conversation settings",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current conversation settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.LoadSettings()
			if err != nil {
				return err
			}
			fmt.Printf("memory-window:  %d messages\n", st.MaxMemoryWindow)
			fmt.Printf("user-address:   %s\n", orUnset(st.UserAddress))
			fmt.Printf("user-persona:   %s\n", orUnset(st.UserPersona))
			fmt.Printf("nickname:       %s\n", orUnset(st.UserNickname))
			fmt.Printf("styling:        %s\n", orUnset(st.CustomStyling))
			fmt.Printf("prompt-single:  %s\n", orDefault(st.PromptSingle))
			fmt.Printf("prompt-group:   %s\n", orDefault(st.PromptGroup))
			fmt.Printf("debug:          %t\n", st.Debug)
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long: `Changes one setting. Keys:
  memory-window  how many recent messages are sent with each request
  user-address   where the user is, mentioned in the system prompt
  user-persona   how the assistant should picture the user
  nickname       how group members address the user
  styling        extra style directives appended to the system prompt
  prompt-single  full one-on-one prompt template (empty restores the built-in)
  prompt-group   full group prompt template (empty restores the built-in)
  debug          true or false`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.LoadSettings()
			if err != nil {
				return err
			}

			key, value := args[0], args[1]
			switch key {
			case "memory-window":
				n, err := strconv.Atoi(value)
				if err != nil || n < 1 {
					return fmt.Errorf("memory-window must be a positive number, got %q", value)
				}
				st.MaxMemoryWindow = n
			case "user-address":
				st.UserAddress = value
			case "user-persona":
				st.UserPersona = value
			case "nickname":
				st.UserNickname = value
			case "styling":
				st.CustomStyling = value
			case "prompt-single":
				st.PromptSingle = value
			case "prompt-group":
				st.PromptGroup = value
			case "debug":
				b, err := strconv.ParseBool(value)
				if err != nil {
					return fmt.Errorf("debug must be true or false, got %q", value)
				}
				st.Debug = b
			default:
				return fmt.Errorf("unknown setting %q", key)
			}

			if err := a.store.SaveSettings(st); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", key, value)
			return nil
		},
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func orDefault(s string) string {
	if s == "" {
		return "(built-in)"
	}
	return s
}
