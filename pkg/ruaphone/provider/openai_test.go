package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func openAITestServer(t *testing.T, handler http.HandlerFunc) (*OpenAI, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}, discardLogger())
	return p, srv
}

func TestOpenAISend(t *testing.T) {
	var captured oaRequest
	var gotAuth string
	p, _ := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	})

	turns := []Turn{
		TextTurn(RoleSystem, "be brief"),
		TextTurn(RoleUser, "hello"),
	}
	reply, err := p.Send(context.Background(), turns, GenerationOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply = %q", reply)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if captured.Model != "test-model" {
		t.Errorf("model = %q", captured.Model)
	}
	if captured.Temperature != 0.8 {
		t.Errorf("default temperature = %v", captured.Temperature)
	}
	if captured.Stream {
		t.Error("stream should be off")
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", captured.Messages)
	}
}

func TestOpenAISendMultimodal(t *testing.T) {
	var raw struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	p, _ := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"nice photo"}}]}`))
	})

	turns := []Turn{{Role: RoleUser, Parts: []Part{
		{Kind: PartText, Text: "what is this"},
		{Kind: PartImage, DataURI: "data:image/png;base64,AAAA"},
	}}}
	if _, err := p.Send(context.Background(), turns, GenerationOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var parts []oaContentPart
	if err := json.Unmarshal(raw.Messages[0].Content, &parts); err != nil {
		t.Fatalf("image turn content should be a part array: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].Type != "text" || parts[0].Text != "what is this" {
		t.Errorf("text part = %+v", parts[0])
	}
	if parts[1].Type != "image_url" || parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/png;base64,AAAA" {
		t.Errorf("image part = %+v", parts[1])
	}
}

func TestOpenAISendErrorStatus(t *testing.T) {
	p, _ := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	_, err := p.Send(context.Background(), []Turn{TextTurn(RoleUser, "hi")}, GenerationOptions{})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("want *Error, got %v", err)
	}
	if perr.Status != http.StatusTooManyRequests || perr.Message != "rate limited" {
		t.Errorf("error = %+v", perr)
	}
}

func TestOpenAISendMissingReply(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"choices":[]}`},
		{"empty content", `{"choices":[{"message":{"content":""}}]}`},
		{"not json", `<html>gateway error</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := p.Send(context.Background(), []Turn{TextTurn(RoleUser, "hi")}, GenerationOptions{})
			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("want *Error, got %v", err)
			}
		})
	}
}

func TestOpenAIListModels(t *testing.T) {
	p, _ := openAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"id":"gpt-4o","owned_by":"openai","created":1715367049},{"id":"gpt-4o-mini","owned_by":"openai"}]}`))
	})

	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %+v", models)
	}
	if models[0].ID != "gpt-4o" || models[0].Created != 1715367049 {
		t.Errorf("first model = %+v", models[0])
	}
}

func TestAPIErrorMessage(t *testing.T) {
	if got := apiErrorMessage([]byte(`{"error":{"message":"bad key"}}`)); got != "bad key" {
		t.Errorf("structured: %q", got)
	}
	if got := apiErrorMessage([]byte("  plain failure  ")); got != "plain failure" {
		t.Errorf("plain: %q", got)
	}
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	if got := apiErrorMessage(long); len(got) != 200 {
		t.Errorf("truncation: len = %d", len(got))
	}
}
