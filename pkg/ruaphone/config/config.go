// Package config – config.go defines the application configuration.
package config

// Config holds all application configuration.
type Config struct {
	// API configures the text-generation provider.
	API APIConfig `yaml:"api"`

	// TTS configures voice-message synthesis.
	TTS TTSConfig `yaml:"tts"`

	// Storage configures the local database.
	Storage StorageConfig `yaml:"storage"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig selects and parameterizes the provider.
type APIConfig struct {
	// Provider is the wire protocol: "openai" or "gemini".
	Provider string `yaml:"provider"`

	// BaseURL overrides the provider endpoint (proxies, self-hosted).
	BaseURL string `yaml:"base_url"`

	// APIKey is the credential; a comma-separated value is a key pool.
	APIKey string `yaml:"api_key"`

	// Model is the model id to request.
	Model string `yaml:"model"`
}

// TTSConfig configures voice synthesis.
type TTSConfig struct {
	// Backend is "openai", "edge", "auto", or "off".
	Backend string `yaml:"backend"`

	// APIKey is the speech API credential (openai/auto backends).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the speech endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the speech model (e.g. "tts-1").
	Model string `yaml:"model"`

	// Voice is the default voice name.
	Voice string `yaml:"voice"`
}

// Enabled reports whether a synthesis backend is configured.
func (t TTSConfig) Enabled() bool {
	return t.Backend != "" && t.Backend != "off"
}

// StorageConfig configures the local store.
type StorageConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		TTS: TTSConfig{
			Backend: "off",
			Voice:   "nova",
		},
		Storage: StorageConfig{
			Path: "ruaphone.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
