// Package tts synthesizes audio for assistant voice messages so playback
// does not need a network round trip. Two backends are supported: the
// OpenAI speech API (paid) and Microsoft Edge read-aloud (free), plus an
// auto mode that prefers the first and falls back to the second.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// maxInputLen is the synthesis character limit; longer text is truncated.
const maxInputLen = 4096

// Synthesizer converts text into playable audio.
type Synthesizer interface {
	// Synthesize returns audio bytes and their MIME type.
	Synthesize(ctx context.Context, text, voice string) ([]byte, string, error)
}

// Config selects and parameterizes a synthesis backend.
type Config struct {
	Backend string // "openai", "edge", or "auto"
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// Enabled reports whether synthesis is configured at all.
func (c Config) Enabled() bool {
	return c.Backend != "" && c.Backend != "off"
}

// New builds the configured synthesizer. In auto mode the OpenAI backend is
// primary when a key is present, with Edge as the free fallback.
func New(cfg Config, logger *slog.Logger) (Synthesizer, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAISpeech(cfg), nil
	case "edge":
		return NewEdge(logger), nil
	case "auto":
		if cfg.APIKey == "" {
			return NewEdge(logger), nil
		}
		return NewFallback(NewOpenAISpeech(cfg), NewEdge(logger), cfg.Voice, "", logger), nil
	default:
		return nil, fmt.Errorf("unknown tts backend %q", cfg.Backend)
	}
}

// truncateInput bounds the synthesis input, cutting on a rune boundary so
// the endpoint never receives invalid UTF-8.
func truncateInput(text string) string {
	if len(text) <= maxInputLen {
		return text
	}
	cut := maxInputLen - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// ---------- OpenAI speech ----------

// OpenAISpeech talks to the OpenAI audio/speech endpoint.
type OpenAISpeech struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAISpeech creates the OpenAI speech backend.
func NewOpenAISpeech(cfg Config) *OpenAISpeech {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "tts-1"
	}
	return &OpenAISpeech{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize converts text to MP3 audio. MP3 keeps the stored base64 payload
// playable everywhere without transcoding.
func (p *OpenAISpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if voice == "" {
		voice = "nova"
	}

	payload := map[string]any{
		"model":           p.model,
		"input":           truncateInput(text),
		"voice":           voice,
		"response_format": "mp3",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("tts: API returned %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("tts: reading audio: %w", err)
	}
	return audio, "audio/mpeg", nil
}

// ---------- Edge read-aloud ----------

// edgeEndpoint is the Microsoft Edge read-aloud synthesis endpoint.
const edgeEndpoint = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/naturaltts/v1"

// Edge uses Microsoft Edge's free speech synthesis service over its REST
// surface rather than the usual WebSocket protocol.
type Edge struct {
	client *http.Client
	logger *slog.Logger
}

// NewEdge creates the Edge read-aloud backend.
func NewEdge(logger *slog.Logger) *Edge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Edge{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "edge-tts"),
	}
}

// Synthesize converts text to MP3 via Edge read-aloud.
func (p *Edge) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if voice == "" {
		voice = "en-US-JennyNeural"
	}

	ssml := fmt.Sprintf(`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'><voice name='%s'><prosody pitch='+0Hz' rate='+0%%' volume='+0%%'>%s</prosody></voice></speak>`,
		voice, escapeXML(truncateInput(text)))

	url := edgeEndpoint + "?TrustedClientToken=6A5AA1D4EAFF4E9FB37E23D68491D6F4&ConnectionId=gen&Enc=mp3&OutputFormat=audio-24khz-48kbitrate-mono-mp3"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(ssml))
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0")
	req.Header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("edge-tts: HTTP %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("edge-tts: empty audio response")
	}
	return stripFraming(audio), "audio/mpeg", nil
}

// stripFraming removes any binary framing the Edge service prepends before
// the MP3 payload.
func stripFraming(data []byte) []byte {
	// MP3 sync word: 0xFF followed by 0xE0 high bits.
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 0xFF && (data[i+1]&0xE0) == 0xE0 {
			return data[i:]
		}
	}
	if len(data) > 2 {
		headerLen := int(binary.BigEndian.Uint16(data[:2]))
		if headerLen > 0 && headerLen < len(data) {
			return data[headerLen:]
		}
	}
	return data
}

func escapeXML(text string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return r.Replace(text)
}

// ---------- fallback combinator ----------

// Fallback tries a primary backend and falls back to a secondary on failure.
type Fallback struct {
	primary        Synthesizer
	secondary      Synthesizer
	primaryVoice   string
	secondaryVoice string
	logger         *slog.Logger
}

// NewFallback chains two backends.
func NewFallback(primary, secondary Synthesizer, primaryVoice, secondaryVoice string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary:        primary,
		secondary:      secondary,
		primaryVoice:   primaryVoice,
		secondaryVoice: secondaryVoice,
		logger:         logger.With("component", "tts-fallback"),
	}
}

// Synthesize tries the primary backend first.
func (p *Fallback) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	primaryVoice := voice
	if primaryVoice == "" {
		primaryVoice = p.primaryVoice
	}
	audio, mime, err := p.primary.Synthesize(ctx, text, primaryVoice)
	if err == nil {
		return audio, mime, nil
	}

	p.logger.Warn("primary synthesis failed, trying fallback", "error", err)

	secondaryVoice := p.secondaryVoice
	if secondaryVoice == "" {
		secondaryVoice = voice
	}
	return p.secondary.Synthesize(ctx, text, secondaryVoice)
}
