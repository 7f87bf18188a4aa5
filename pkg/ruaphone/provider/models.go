// Package provider – models.go caches model discovery. Model selection is
// advisory, so discovery failures degrade to a static built-in list instead
// of propagating.
package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// modelCacheTTL is how long a fetched catalog stays fresh.
const modelCacheTTL = 5 * time.Minute

// staticModels are the built-in fallbacks per provider kind.
var staticModels = map[string][]ModelInfo{
	KindOpenAI: {
		{ID: "gpt-4o", DisplayName: "gpt-4o", OwnedBy: "openai"},
		{ID: "gpt-4o-mini", DisplayName: "gpt-4o-mini", OwnedBy: "openai"},
		{ID: "gpt-3.5-turbo", DisplayName: "gpt-3.5-turbo", OwnedBy: "openai"},
	},
	KindGemini: {
		{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro", OwnedBy: "google"},
		{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", OwnedBy: "google"},
	},
}

// StaticModels returns the built-in fallback list for a provider kind.
func StaticModels(kind string) []ModelInfo {
	models := staticModels[kind]
	out := make([]ModelInfo, len(models))
	copy(out, models)
	return out
}

// Catalog caches ListModels results for a fixed TTL.
type Catalog struct {
	provider Provider
	kind     string
	logger   *slog.Logger

	mu        sync.Mutex
	cached    []ModelInfo
	fetchedAt time.Time
}

// NewCatalog wraps a provider with a TTL model cache.
func NewCatalog(p Provider, kind string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		provider: p,
		kind:     kind,
		logger:   logger.With("component", "model-catalog"),
	}
}

// Models returns the cached catalog, refreshing it when stale. Discovery
// failure falls back to the static list and never returns an error.
func (c *Catalog) Models(ctx context.Context) []ModelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < modelCacheTTL {
		return c.cached
	}

	models, err := c.provider.ListModels(ctx)
	if err != nil || len(models) == 0 {
		c.logger.Warn("model discovery failed, using static list", "kind", c.kind, "error", err)
		if c.cached != nil {
			return c.cached // stale beats static
		}
		return StaticModels(c.kind)
	}

	c.cached = models
	c.fetchedAt = time.Now()
	return c.cached
}
