// Package provider translates canonical conversation turns into the wire
// protocols of interchangeable text-generation providers and back. Two
// variants exist: the OpenAI-compatible chat/completions shape and the
// Gemini contents/parts shape. Both are stateless behind one interface and
// safe to call concurrently for different chats.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part kinds.
const (
	PartText  = "text"
	PartImage = "image"
)

// Part is one piece of turn content: plain text or a data-URI image.
type Part struct {
	Kind    string
	Text    string
	DataURI string
}

// Turn is the provider-agnostic representation of one conversation entry.
type Turn struct {
	Role  string
	Parts []Part
}

// TextTurn builds a single-part text turn.
func TextTurn(role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Kind: PartText, Text: text}}}
}

// Text concatenates the text parts of a turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// GenerationOptions tune a single request. Zero values fall back to the
// engine defaults (temperature 0.8, 2048 output tokens).
type GenerationOptions struct {
	Temperature     float64
	MaxOutputTokens int
}

func (o GenerationOptions) temperature() float64 {
	if o.Temperature == 0 {
		return 0.8
	}
	return o.Temperature
}

func (o GenerationOptions) maxOutputTokens() int {
	if o.MaxOutputTokens == 0 {
		return 2048
	}
	return o.MaxOutputTokens
}

// ModelInfo describes one selectable model. Model selection is advisory;
// discovery failures fall back to a static list.
type ModelInfo struct {
	ID          string
	DisplayName string
	OwnedBy     string
	Created     int64
}

// Provider is the capability interface the orchestrator talks to.
type Provider interface {
	// Send exchanges the canonical turns for the provider's raw reply text.
	Send(ctx context.Context, turns []Turn, opts GenerationOptions) (string, error)
	// ListModels fetches the provider's selectable models.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Error reports a non-2xx status or a malformed reply envelope. It is never
// fatal to the app: the orchestrator converts it into a visible assistant
// message.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider returned %d: %s", e.Status, e.Message)
	}
	return "provider: " + e.Message
}

// Config selects and parameterizes a provider variant.
type Config struct {
	Kind    string // "openai" or "gemini"
	BaseURL string
	APIKey  string // may hold a comma-separated key pool
	Model   string
}

// Provider kinds.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
)

// New builds the configured provider variant.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	switch cfg.Kind {
	case KindOpenAI, "":
		return NewOpenAI(cfg, logger), nil
	case KindGemini:
		return NewGemini(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// pickKey selects one credential from a comma-separated pool,
// pseudo-randomly, to spread load across multiple keys.
func pickKey(keys string) string {
	if !strings.Contains(keys, ",") {
		return strings.TrimSpace(keys)
	}
	parts := strings.Split(keys, ",")
	pool := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.Intn(len(pool))]
}

// newHTTPClient is the shared transport configuration for both variants.
// No global timeout: callers control deadlines via context, and the header
// timeout covers providers that are slow to start responding.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       120 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 180 * time.Second,
		},
	}
}
