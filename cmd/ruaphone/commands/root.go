// Package commands implements the RuaPhone CLI commands using cobra.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/chat"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/config"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/dispatch"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/provider"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/store"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/tts"
)

// appVersion is stamped on backups and recovery exports.
var appVersion = "dev"

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	appVersion = version
	rootCmd := &cobra.Command{
		Use:   "ruaphone",
		Short: "RuaPhone - local-first AI companion chat",
		Long: `RuaPhone hosts persona-driven AI conversations entirely on your machine.
Chats, personas, and their accumulated memory live in a local SQLite file;
only the text-generation calls leave the device.

Examples:
  ruaphone setup
  ruaphone chat Mia --persona Mia
  ruaphone persona create Mia "a calm, wry friend who loves tea"
  ruaphone backup export my-backup.json`,
		Version: version,
	}

	rootCmd.AddCommand(
		newChatCmd(),
		newSetupCmd(),
		newPersonaCmd(),
		newModelsCmd(),
		newBackupCmd(version),
		newConfigCmd(),
		newSettingsCmd(),
		newFactsCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig resolves configuration from the --config flag or the standard
// search locations, falling back to defaults when no file exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		cfg := config.DefaultConfig()
		return cfg, nil
	}
	return config.Load(path)
}

// newLogger builds the CLI logger from config, honoring --verbose.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// app bundles everything a command needs at runtime.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	prov   provider.Provider
	disp   *dispatch.Dispatcher
	engine *chat.Engine
}

// openApp loads config, opens the store, and wires the pipeline. The
// effective provider configuration is mirrored into the store so exports
// carry it; when the config file has no key (e.g. right after an import on
// a new machine), the stored row fills the gap.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)
	config.ResolveAPIKeys(cfg, logger)

	st, err := store.Open(cfg.Storage.Path, logger)
	var conflict *store.SchemaConflictError
	if errors.As(err, &conflict) {
		fmt.Printf("Database was written by a newer build (schema v%d, this build supports v%d).\n",
			conflict.Found, conflict.Supported)
		if !confirm("Rebuild it at this version? Data is exported and re-imported first") {
			return nil, err
		}
		var report *store.ImportReport
		st, report, err = store.RecoverSchemaConflict(cfg.Storage.Path, appVersion, logger)
		if err != nil {
			return nil, fmt.Errorf("recovering database: %w", err)
		}
		if len(report.Skipped) > 0 {
			fmt.Printf("Tables this build does not know were kept in %s: %s\n",
				store.RecoveryBackupPath(cfg.Storage.Path), strings.Join(report.Skipped, ", "))
		}
	} else if err != nil {
		return nil, err
	}

	pc := providerConfig(cfg, st, logger)
	prov, err := provider.New(pc, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	var synth tts.Synthesizer
	ttsCfg := tts.Config{
		Backend: cfg.TTS.Backend,
		APIKey:  cfg.TTS.APIKey,
		BaseURL: cfg.TTS.BaseURL,
		Model:   cfg.TTS.Model,
		Voice:   cfg.TTS.Voice,
	}
	if ttsCfg.Enabled() {
		synth, err = tts.New(ttsCfg, logger)
		if err != nil {
			logger.Warn("voice synthesis disabled", "error", err)
			synth = nil
		}
	}

	disp := dispatch.New(st, synth, cfg.TTS.Voice, logger)
	engine := chat.New(st, prov, disp, logger)

	return &app{cfg: cfg, logger: logger, store: st, prov: prov, disp: disp, engine: engine}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

// providerConfig merges the YAML config with the store's api_config row.
// The file wins when it carries a key; the stored row backs it up and is
// refreshed so backups always include the active configuration.
func providerConfig(cfg *config.Config, st *store.Store, logger *slog.Logger) provider.Config {
	pc := provider.Config{
		Kind:    cfg.API.Provider,
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
		Model:   cfg.API.Model,
	}

	if pc.APIKey == "" || config.IsEnvReference(pc.APIKey) {
		if saved, ok, err := st.LoadProviderConfig(); err == nil && ok {
			logger.Debug("using provider config from store")
			pc = provider.Config{
				Kind:    saved.Provider,
				BaseURL: saved.BaseURL,
				APIKey:  saved.APIKey,
				Model:   saved.Model,
			}
		}
		return pc
	}

	if err := st.SaveProviderConfig(store.ProviderConfig{
		Provider: pc.Kind,
		BaseURL:  pc.BaseURL,
		APIKey:   pc.APIKey,
		Model:    pc.Model,
	}); err != nil {
		logger.Warn("could not mirror provider config into store", "error", err)
	}
	return pc
}

// maskSecret hides all but the edges of a credential for display.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
