package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenAISpeechSynthesize(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte{0xFF, 0xFB, 0x01, 0x02})
	}))
	defer srv.Close()

	p := NewOpenAISpeech(Config{APIKey: "sk-test", BaseURL: srv.URL})
	audio, mime, err := p.Synthesize(context.Background(), "hello there", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if mime != "audio/mpeg" || len(audio) != 4 {
		t.Errorf("audio = %d bytes, mime %q", len(audio), mime)
	}
	if captured["voice"] != "nova" {
		t.Errorf("default voice = %v", captured["voice"])
	}
	if captured["model"] != "tts-1" {
		t.Errorf("default model = %v", captured["model"])
	}
	if captured["response_format"] != "mp3" {
		t.Errorf("format = %v", captured["response_format"])
	}
}

func TestOpenAISpeechErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	p := NewOpenAISpeech(Config{APIKey: "nope", BaseURL: srv.URL})
	_, _, err := p.Synthesize(context.Background(), "hi", "")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v", err)
	}
}

func TestTruncateInput(t *testing.T) {
	long := strings.Repeat("a", maxInputLen+100)
	got := truncateInput(long)
	if len(got) != maxInputLen {
		t.Errorf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncation marker missing")
	}
	if truncateInput("short") != "short" {
		t.Error("short input modified")
	}

	// multi-byte runes straddling the limit must not be split
	wide := strings.Repeat("天", maxInputLen)
	got = truncateInput(wide)
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid UTF-8")
	}
	if len(got) > maxInputLen {
		t.Errorf("truncated length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncation marker missing")
	}
}

func TestStripFraming(t *testing.T) {
	mp3 := []byte{0xFF, 0xFB, 0x90, 0x00}
	framed := append([]byte{0x00, 0x02, 0xAA, 0xBB}, mp3...)
	got := stripFraming(framed)
	if len(got) != len(mp3) || got[0] != 0xFF {
		t.Errorf("stripFraming = % x", got)
	}

	// no sync word: header-length prefix path
	noSync := []byte{0x00, 0x02, 0x10, 0x20, 0x30}
	got = stripFraming(noSync)
	if len(got) != 3 || got[0] != 0x10 {
		t.Errorf("header-length strip = % x", got)
	}
}

func TestEscapeXML(t *testing.T) {
	got := escapeXML(`a & b <c> "d" 'e'`)
	want := "a &amp; b &lt;c&gt; &quot;d&quot; &apos;e&apos;"
	if got != want {
		t.Errorf("escapeXML = %q", got)
	}
}

type scriptedSynth struct {
	audio []byte
	mime  string
	err   error
	voice string
	calls int
}

func (s *scriptedSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	s.calls++
	s.voice = voice
	return s.audio, s.mime, s.err
}

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := &scriptedSynth{audio: []byte{1}, mime: "audio/mpeg"}
	secondary := &scriptedSynth{audio: []byte{2}, mime: "audio/mpeg"}
	f := NewFallback(primary, secondary, "nova", "en-US-JennyNeural", discardLogger())

	audio, _, err := f.Synthesize(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio[0] != 1 || secondary.calls != 0 {
		t.Errorf("primary not used: audio=%v secondary calls=%d", audio, secondary.calls)
	}
	if primary.voice != "nova" {
		t.Errorf("primary voice = %q", primary.voice)
	}
}

func TestFallbackUsesSecondaryOnFailure(t *testing.T) {
	primary := &scriptedSynth{err: errors.New("quota exceeded")}
	secondary := &scriptedSynth{audio: []byte{2}, mime: "audio/mpeg"}
	f := NewFallback(primary, secondary, "nova", "en-US-JennyNeural", discardLogger())

	audio, _, err := f.Synthesize(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio[0] != 2 {
		t.Errorf("secondary not used: %v", audio)
	}
	if secondary.voice != "en-US-JennyNeural" {
		t.Errorf("secondary voice = %q", secondary.voice)
	}
}

func TestNewBackendSelection(t *testing.T) {
	if _, err := New(Config{Backend: "openai", APIKey: "k"}, discardLogger()); err != nil {
		t.Errorf("openai: %v", err)
	}
	if _, err := New(Config{Backend: "edge"}, discardLogger()); err != nil {
		t.Errorf("edge: %v", err)
	}

	s, err := New(Config{Backend: "auto", APIKey: "k"}, discardLogger())
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if _, ok := s.(*Fallback); !ok {
		t.Errorf("auto with key built %T", s)
	}

	s, err = New(Config{Backend: "auto"}, discardLogger())
	if err != nil {
		t.Fatalf("auto keyless: %v", err)
	}
	if _, ok := s.(*Edge); !ok {
		t.Errorf("auto without key built %T", s)
	}

	if _, err := New(Config{Backend: "gramophone"}, discardLogger()); err == nil {
		t.Error("unknown backend should fail")
	}
}
