package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/config"
)

// newConfigCmd creates the `ruaphone config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or update configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetKeyCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Prints configuration after env expansion and secret resolution. API keys are masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			config.ResolveAPIKeys(cfg, logger)

			fmt.Println("API:")
			fmt.Printf("  provider:  %s\n", cfg.API.Provider)
			if cfg.API.BaseURL != "" {
				fmt.Printf("  base_url:  %s\n", cfg.API.BaseURL)
			}
			fmt.Printf("  model:     %s\n", cfg.API.Model)
			fmt.Printf("  api_key:   %s\n", maskSecret(cfg.API.APIKey))
			fmt.Println("TTS:")
			fmt.Printf("  backend:   %s\n", cfg.TTS.Backend)
			if cfg.TTS.Enabled() {
				fmt.Printf("  voice:     %s\n", cfg.TTS.Voice)
				fmt.Printf("  api_key:   %s\n", maskSecret(cfg.TTS.APIKey))
			}
			fmt.Println("Storage:")
			fmt.Printf("  path:      %s\n", cfg.Storage.Path)
			fmt.Println("Logging:")
			fmt.Printf("  level:     %s\n", cfg.Logging.Level)
			fmt.Printf("  format:    %s\n", cfg.Logging.Format)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store an API key in the system keyring",
		Long: `Stores an API key in the OS keyring so it never has to live in the
config file. Use --tts to set the speech-synthesis key instead of the
chat provider key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("system keyring is not available on this machine")
			}

			key, err := readPassword("API key: ")
			if err != nil {
				return err
			}
			if key == "" {
				return fmt.Errorf("no key entered")
			}

			name := config.KeyringAPIKey
			if tts, _ := cmd.Flags().GetBool("tts"); tts {
				name = config.KeyringTTSKey
			}
			if err := config.StoreKeyring(name, key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Println("Key stored in system keyring.")
			return nil
		},
	}
	cmd.Flags().Bool("tts", false, "set the speech-synthesis key instead")
	return cmd
}
