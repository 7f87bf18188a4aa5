// Package provider – openai.go implements the generic completion-style
// variant: OpenAI-compatible chat/completions, which also covers the many
// proxies and self-hosted servers that speak the same shape.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenAI talks to an OpenAI-compatible endpoint.
type OpenAI struct {
	baseURL    string
	apiKeys    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAI creates the generic completion-style provider. The base URL is
// normalized so both "https://host" and "https://host/v1" configurations
// produce the same endpoint.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	return &OpenAI{
		baseURL:    normalizeBaseURL(base),
		apiKeys:    cfg.APIKey,
		model:      cfg.Model,
		httpClient: newHTTPClient(),
		logger:     logger.With("component", "provider", "kind", KindOpenAI),
	}
}

// normalizeBaseURL strips trailing slashes and a trailing /v1 segment; the
// version path is re-added when computing endpoints.
func normalizeBaseURL(base string) string {
	base = strings.TrimSpace(base)
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/v1")
	return base
}

// ---------- wire types ----------

// oaContentPart is one piece of multimodal message content.
type oaContentPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *oaImageURL `json:"image_url,omitempty"`
}

type oaImageURL struct {
	URL string `json:"url"`
}

// oaMessage is a message in the chat format. Content is a string for plain
// text or []oaContentPart when the turn carries images.
type oaMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Temperature float64     `json:"temperature"`
	Stream      bool        `json:"stream"`
}

type oaResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Send maps the canonical turns 1:1 onto the provider's message array and
// returns the reply text at choices[0].message.content.
func (p *OpenAI) Send(ctx context.Context, turns []Turn, opts GenerationOptions) (string, error) {
	reqBody := oaRequest{
		Model:       p.model,
		Messages:    make([]oaMessage, 0, len(turns)),
		Temperature: opts.temperature(),
		Stream:      false,
	}
	for _, turn := range turns {
		reqBody.Messages = append(reqBody.Messages, oaMessage{
			Role:    turn.Role,
			Content: oaContent(turn),
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+pickKey(p.apiKeys))

	p.logger.Debug("sending chat completion",
		"model", p.model,
		"messages", len(reqBody.Messages),
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Status: resp.StatusCode, Message: apiErrorMessage(respBody)}
	}

	var parsed oaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Status: resp.StatusCode, Message: "malformed reply envelope"}
	}
	if parsed.Error != nil {
		return "", &Error{Status: resp.StatusCode, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", &Error{Status: resp.StatusCode, Message: "reply is missing choices[0].message.content"}
	}

	p.logger.Debug("chat completion done",
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_len", len(parsed.Choices[0].Message.Content),
	)
	return parsed.Choices[0].Message.Content, nil
}

// oaContent renders a turn as a string or a multimodal part array.
func oaContent(t Turn) any {
	hasImage := false
	for _, p := range t.Parts {
		if p.Kind == PartImage {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return t.Text()
	}

	parts := make([]oaContentPart, 0, len(t.Parts))
	for _, p := range t.Parts {
		switch p.Kind {
		case PartText:
			parts = append(parts, oaContentPart{Type: "text", Text: p.Text})
		case PartImage:
			parts = append(parts, oaContentPart{Type: "image_url", ImageURL: &oaImageURL{URL: p.DataURI}})
		}
	}
	return parts
}

// ListModels fetches the provider's model catalog from /v1/models.
func (p *OpenAI) ListModels(ctx context.Context) ([]ModelInfo, error) {
	endpoint := p.baseURL + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+pickKey(p.apiKeys))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Status: resp.StatusCode, Message: apiErrorMessage(respBody)}
	}

	var parsed struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
			Created int64  `json:"created"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: "malformed model list"}
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{ID: m.ID, DisplayName: m.ID, OwnedBy: m.OwnedBy, Created: m.Created})
	}
	return models, nil
}

// apiErrorMessage pulls a human-readable message out of an error body,
// falling back to a truncated raw body.
func apiErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
