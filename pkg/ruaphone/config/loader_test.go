package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseOverlaysDefaults(t *testing.T) {
	yaml := `
api:
  provider: gemini
  model: gemini-1.5-pro
storage:
  path: /tmp/alt.db
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.API.Provider != "gemini" || cfg.API.Model != "gemini-1.5-pro" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Storage.Path != "/tmp/alt.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	// untouched sections keep defaults
	if cfg.Logging.Level != "info" || cfg.TTS.Voice != "nova" {
		t.Errorf("defaults lost: logging=%+v tts=%+v", cfg.Logging, cfg.TTS)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("api: [broken")); err == nil {
		t.Error("malformed YAML should fail")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RUAPHONE_TEST_MODEL", "gpt-4o")
	t.Setenv("RUAPHONE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api:\n  model: ${RUAPHONE_TEST_MODEL}\n  api_key: ${RUAPHONE_UNSET_VAR}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.API.Model)
	}
	// unset vars keep the placeholder so they remain visible
	if cfg.API.APIKey != "${RUAPHONE_UNSET_VAR}" {
		t.Errorf("unset var = %q", cfg.API.APIKey)
	}
}

func TestResolveSecretsFromEnv(t *testing.T) {
	t.Setenv("RUAPHONE_API_KEY", "key-from-env")
	t.Setenv("RUAPHONE_TTS_API_KEY", "")

	cfg := DefaultConfig()
	cfg.TTS.Backend = "auto"
	resolveSecrets(cfg)
	if cfg.API.APIKey != "key-from-env" {
		t.Errorf("api key = %q", cfg.API.APIKey)
	}
	if cfg.TTS.APIKey != "key-from-env" {
		t.Errorf("tts key should inherit the chat key, got %q", cfg.TTS.APIKey)
	}
}

func TestSaveRoundTripAndSanitization(t *testing.T) {
	t.Setenv("RUAPHONE_API_KEY", "sk-secret")

	cfg := DefaultConfig()
	cfg.API.APIKey = "sk-secret"
	cfg.API.Provider = "openai"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(raw) == "" {
		t.Fatal("empty config written")
	}
	// the secret matching the env var is written as a reference
	if !strings.Contains(string(raw), "${RUAPHONE_API_KEY}") {
		t.Errorf("secret not sanitized:\n%s", raw)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}

	t.Setenv("RUAPHONE_API_KEY", "sk-secret")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.API.APIKey != "sk-secret" {
		t.Errorf("round-trip key = %q", loaded.API.APIKey)
	}
}

func TestIsEnvReference(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"${VAR}", true},
		{"$VAR", true},
		{"sk-abc123", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsEnvReference(tt.in); got != tt.want {
			t.Errorf("IsEnvReference(%q) = %v", tt.in, got)
		}
	}
}
