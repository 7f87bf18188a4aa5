package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/config"
)

// newSetupCmd creates the `ruaphone setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your config.yaml.
Asks for the provider, model, API key, and voice synthesis settings.
The API key goes into the OS keyring when available, never into the file.

Examples:
  ruaphone setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	reader := bufio.NewReader(os.Stdin)
	cfg := config.DefaultConfig()

	fmt.Println()
	fmt.Println("RuaPhone setup")
	fmt.Println("--------------")
	fmt.Println()

	fmt.Println("   Provider protocol:")
	fmt.Println("   openai - OpenAI-compatible chat/completions (also proxies, local servers)")
	fmt.Println("   gemini - Google generative language API")
	fmt.Println()
	fmt.Printf("1. Provider [%s]: ", cfg.API.Provider)
	if p := strings.ToLower(readLine(reader)); p != "" {
		switch p {
		case "openai", "gemini":
			cfg.API.Provider = p
		default:
			fmt.Println("   [!] Unknown provider, keeping", cfg.API.Provider)
		}
	}

	if cfg.API.Provider == "gemini" && cfg.API.Model == "gpt-4o-mini" {
		cfg.API.Model = "gemini-1.5-flash"
	}

	fmt.Printf("2. Base URL (Enter for the provider default): ")
	if url := readLine(reader); url != "" {
		cfg.API.BaseURL = url
	}

	fmt.Printf("3. Model [%s]: ", cfg.API.Model)
	if model := readLine(reader); model != "" {
		cfg.API.Model = model
	}

	fmt.Println()
	fmt.Println("   Multiple comma-separated keys spread requests over a key pool.")
	apiKey, err := readPassword("4. API key (hidden input): ")
	if err != nil {
		fmt.Print("4. API key (or press Enter to skip): ")
		apiKey = readLine(reader)
	}
	if apiKey != "" {
		storeAPIKey(cfg, apiKey)
	}

	fmt.Println()
	fmt.Println("   Voice synthesis pre-renders assistant voice messages:")
	fmt.Println("   off    - voice messages persist without audio")
	fmt.Println("   edge   - free Microsoft Edge voices")
	fmt.Println("   openai - OpenAI speech API (uses your API key)")
	fmt.Println("   auto   - openai with edge as fallback")
	fmt.Println()
	fmt.Printf("5. Voice backend [%s]: ", cfg.TTS.Backend)
	if b := strings.ToLower(readLine(reader)); b != "" {
		switch b {
		case "off", "edge", "openai", "auto":
			cfg.TTS.Backend = b
		default:
			fmt.Println("   [!] Unknown backend, keeping", cfg.TTS.Backend)
		}
	}

	fmt.Printf("6. Database path [%s]: ", cfg.Storage.Path)
	if path := readLine(reader); path != "" {
		cfg.Storage.Path = path
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = "config.yaml"
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Next: create a persona and start chatting:")
	fmt.Println(`  ruaphone persona create Mia "a calm, wry friend who loves tea"`)
	fmt.Println("  ruaphone chat Mia --persona Mia")
	return nil
}

// storeAPIKey prefers the OS keyring; plaintext in the file is the fallback.
func storeAPIKey(cfg *config.Config, apiKey string) {
	if config.KeyringAvailable() {
		if err := config.StoreKeyring(config.KeyringAPIKey, apiKey); err == nil {
			fmt.Println("   API key stored in the OS keyring.")
			return
		}
	}
	fmt.Println("   [!] OS keyring unavailable, storing the key in config.yaml.")
	fmt.Println("       Consider RUAPHONE_API_KEY in a .env file instead.")
	cfg.API.APIKey = apiKey
}

func readLine(reader *bufio.Reader) string {
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

// readPassword reads input without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(password)), nil
}
