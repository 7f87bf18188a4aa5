// Package config – keyring.go stores credentials in the operating system's
// native keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving the API key:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (RUAPHONE_API_KEY, OPENAI_API_KEY, ...)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (least secure, plaintext on disk)
package config

import (
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "ruaphone"

	// KeyringAPIKey is the key name for the provider API key.
	KeyringAPIKey = "api_key"

	// KeyringTTSKey is the key name for the speech API key.
	KeyringTTSKey = "tts_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__ruaphone_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKeys fills cfg's credentials from the keyring when the config
// and environment did not already provide them.
func ResolveAPIKeys(cfg *Config, logger *slog.Logger) {
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		if val := GetKeyring(KeyringAPIKey); val != "" {
			cfg.API.APIKey = val
			logger.Debug("API key loaded from OS keyring")
		}
	}
	if cfg.TTS.APIKey == "" || IsEnvReference(cfg.TTS.APIKey) {
		if val := GetKeyring(KeyringTTSKey); val != "" {
			cfg.TTS.APIKey = val
			logger.Debug("TTS key loaded from OS keyring")
		}
	}

	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		logger.Warn("no API key found. Run: ruaphone setup")
	}
}
