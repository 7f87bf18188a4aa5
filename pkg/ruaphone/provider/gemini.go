// Package provider – gemini.go implements the contents/parts-style variant.
// The protocol defines no system role and requires the conversation to open
// with a user turn, so system content is folded into a marked user turn and
// a synthetic leading user turn is inserted when needed.
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

// systemInstructionMarker prefixes folded system content so the model can
// tell instructions from conversation.
const systemInstructionMarker = "System instructions: "

// Gemini talks to the Google generative language API.
type Gemini struct {
	endpoint   string
	apiKeys    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGemini creates the contents/parts-style provider.
func NewGemini(cfg Config, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com"
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Gemini{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		apiKeys:    cfg.APIKey,
		model:      model,
		httpClient: newHTTPClient(),
		logger:     logger.With("component", "provider", "kind", KindGemini),
	}
}

// ---------- wire types ----------

type gmPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *gmInlineData `json:"inline_data,omitempty"`
}

type gmInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type gmContent struct {
	Role  string   `json:"role"`
	Parts []gmPart `json:"parts"`
}

type gmGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	CandidateCount  int     `json:"candidateCount"`
}

type gmSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type gmRequest struct {
	Contents         []gmContent        `json:"contents"`
	GenerationConfig gmGenerationConfig `json:"generationConfig"`
	SafetySettings   []gmSafetySetting  `json:"safetySettings"`
}

type gmResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// defaultSafetySettings matches the four harm categories at medium-and-above.
func defaultSafetySettings() []gmSafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]gmSafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, gmSafetySetting{Category: c, Threshold: "BLOCK_MEDIUM_AND_ABOVE"})
	}
	return settings
}

// Send converts the canonical turns to contents/parts and returns the reply
// text at candidates[0].content.parts[0].text.
func (p *Gemini) Send(ctx context.Context, turns []Turn, opts GenerationOptions) (string, error) {
	contents := convertTurns(turns)

	reqBody := gmRequest{
		Contents: contents,
		GenerationConfig: gmGenerationConfig{
			Temperature:     opts.temperature(),
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: opts.maxOutputTokens(),
			CandidateCount:  1,
		},
		SafetySettings: defaultSafetySettings(),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.endpoint, p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", pickKey(p.apiKeys))

	p.logger.Debug("sending generate content",
		"model", p.model,
		"contents", len(contents),
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

	var parsed gmResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Status: resp.StatusCode, Message: "malformed reply envelope"}
	}
	if parsed.Error != nil {
		return "", &Error{Status: resp.StatusCode, Message: parsed.Error.Message}
	}
	text := extractReplyText(parsed)
	if text == "" {
		return "", &Error{Status: resp.StatusCode, Message: "reply is missing candidates[0].content.parts[0].text"}
	}

	p.logger.Debug("generate content done",
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_len", len(text),
	)
	return text, nil
}

func extractReplyText(r gmResponse) string {
	if len(r.Candidates) == 0 {
		return ""
	}
	parts := r.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Text
}

// convertTurns maps canonical turns to contents: system folded into a
// marked user turn, assistant mapped to "model", images inlined, and a
// synthetic user turn prepended when the list does not start with one.
func convertTurns(turns []Turn) []gmContent {
	contents := make([]gmContent, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			contents = append(contents, gmContent{
				Role:  "user",
				Parts: []gmPart{{Text: systemInstructionMarker + t.Text()}},
			})
		case RoleAssistant:
			contents = append(contents, gmContent{Role: "model", Parts: convertParts(t.Parts)})
		default:
			contents = append(contents, gmContent{Role: "user", Parts: convertParts(t.Parts)})
		}
	}

	if len(contents) == 0 || contents[0].Role != "user" {
		contents = append([]gmContent{{Role: "user", Parts: []gmPart{{Text: "Hello."}}}}, contents...)
	}
	return contents
}

func convertParts(parts []Part) []gmPart {
	out := make([]gmPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			out = append(out, gmPart{Text: p.Text})
		case PartImage:
			mime, data, ok := splitDataURI(p.DataURI)
			if !ok {
				continue
			}
			out = append(out, gmPart{InlineData: &gmInlineData{MimeType: mime, Data: data}})
		}
	}
	if len(out) == 0 {
		out = append(out, gmPart{Text: ""})
	}
	return out
}

// splitDataURI splits "data:image/png;base64,AAAA" into mime type and the
// raw base64 payload.
func splitDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return mime, payload, true
}

// ListModels fetches the model catalog, filtered to generation-capable
// entries. The key travels as a query parameter on this protocol.
func (p *Gemini) ListModels(ctx context.Context) ([]ModelInfo, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models?key=%s", p.endpoint, pickKey(p.apiKeys))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

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
		Models []struct {
			Name                       string   `json:"name"`
			DisplayName                string   `json:"displayName"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: "malformed model list"}
	}

	var models []ModelInfo
	for _, m := range parsed.Models {
		if !supportsGeneration(m.SupportedGenerationMethods) {
			continue
		}
		models = append(models, ModelInfo{
			ID:          strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
			OwnedBy:     "google",
		})
	}
	return models, nil
}

func supportsGeneration(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}
