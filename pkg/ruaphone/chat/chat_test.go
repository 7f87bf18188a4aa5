package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/dispatch"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/normalize"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/provider"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns a fixed reply and records the turns it saw.
type scriptedProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	turns   []provider.Turn
	block   chan struct{} // when non-nil, Send waits until closed
	started chan struct{} // signaled when Send begins
}

func (p *scriptedProvider) Send(ctx context.Context, turns []provider.Turn, opts provider.GenerationOptions) (string, error) {
	p.mu.Lock()
	p.turns = turns
	p.mu.Unlock()
	if p.started != nil {
		close(p.started)
		p.started = nil
	}
	if p.block != nil {
		<-p.block
	}
	return p.reply, p.err
}

func (p *scriptedProvider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, errors.New("not used")
}

func (p *scriptedProvider) seenTurns() []provider.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turns
}

func newTestEngine(t *testing.T, p provider.Provider) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	d := dispatch.New(st, nil, "", discardLogger())
	return New(st, p, d, discardLogger()), st
}

func seedSingleChat(t *testing.T, st *store.Store) store.Chat {
	t.Helper()
	persona, err := st.CreatePersona("Mia", "", "a calm, wry friend who loves tea")
	if err != nil {
		t.Fatalf("create persona: %v", err)
	}
	chat, err := st.CreateChat("Mia", persona.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}

func TestGenerateReplyPipeline(t *testing.T) {
	fake := &scriptedProvider{reply: `["hey!", "what are you up to?"]`}
	engine, st := newTestEngine(t, fake)
	chat := seedSingleChat(t, st)
	ctx := context.Background()

	if _, err := engine.SendUserMessage(ctx, chat.ID, "hi Mia", ""); err != nil {
		t.Fatalf("send user message: %v", err)
	}

	res, err := engine.GenerateReply(ctx, chat.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Level != normalize.LevelStrict {
		t.Errorf("level = %v", res.Level)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("messages = %+v", res.Messages)
	}
	if res.Messages[0].Content != "hey!" || res.Messages[0].Role != store.RoleAssistant {
		t.Errorf("first reply = %+v", res.Messages[0])
	}

	turns := fake.seenTurns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d", len(turns))
	}
	if turns[0].Role != provider.RoleSystem {
		t.Errorf("first turn role = %q", turns[0].Role)
	}
	prompt := turns[0].Text()
	if !strings.Contains(prompt, "a calm, wry friend who loves tea") {
		t.Error("persona missing from system prompt")
	}
	if !strings.Contains(prompt, "JSON array") {
		t.Error("format instructions missing from system prompt")
	}
	if turns[1].Role != provider.RoleUser || turns[1].Text() != "hi Mia" {
		t.Errorf("history turn = %+v", turns[1])
	}

	stored, _ := st.Messages(chat.ID)
	if len(stored) != 3 {
		t.Errorf("store holds %d messages, want user + 2 replies", len(stored))
	}
}

func TestGenerateReplyBusy(t *testing.T) {
	fake := &scriptedProvider{
		reply:   `["ok"]`,
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	engine, st := newTestEngine(t, fake)
	chat := seedSingleChat(t, st)
	ctx := context.Background()

	started := fake.started
	done := make(chan error, 1)
	go func() {
		_, err := engine.GenerateReply(ctx, chat.ID)
		done <- err
	}()

	<-started
	if !engine.Busy(chat.ID) {
		t.Error("Busy should report true mid-flight")
	}
	if _, err := engine.GenerateReply(ctx, chat.ID); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent call err = %v, want ErrBusy", err)
	}

	close(fake.block)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
	if engine.Busy(chat.ID) {
		t.Error("busy flag not released")
	}

	// the chat is usable again
	if _, err := engine.GenerateReply(ctx, chat.ID); err != nil {
		t.Errorf("follow-up call: %v", err)
	}
}

func TestProviderFailureBecomesAssistantMessage(t *testing.T) {
	fake := &scriptedProvider{err: &provider.Error{Status: 500, Message: "upstream exploded"}}
	engine, st := newTestEngine(t, fake)
	chat := seedSingleChat(t, st)

	res, err := engine.GenerateReply(context.Background(), chat.ID)
	if err != nil {
		t.Fatalf("generate should not fail: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("messages = %+v", res.Messages)
	}
	m := res.Messages[0]
	if m.Role != store.RoleAssistant || !strings.HasPrefix(m.Content, errorReplyPrefix) {
		t.Errorf("error reply = %+v", m)
	}
	if !strings.Contains(m.Content, "upstream exploded") {
		t.Errorf("cause missing from reply: %q", m.Content)
	}

	stored, _ := st.Messages(chat.ID)
	if len(stored) != 1 {
		t.Errorf("error reply not persisted: %d messages", len(stored))
	}
}

func TestGroupReplyAttributionAndHistoryPrefix(t *testing.T) {
	fake := &scriptedProvider{reply: `[{"name":"Ann","message":"hi everyone"}]`}
	engine, st := newTestEngine(t, fake)

	ann, _ := st.CreatePersona("Ann", "", "cheerful painter")
	ben, _ := st.CreatePersona("Ben", "", "quiet cellist")
	chat, err := st.CreateGroupChat("studio", []string{ann.ID, ben.ID})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	ctx := context.Background()

	res, err := engine.GenerateReply(ctx, chat.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].SenderName != "Ann" {
		t.Fatalf("messages = %+v", res.Messages)
	}

	prompt := fake.seenTurns()[0].Text()
	if !strings.Contains(prompt, "**Ann**: cheerful painter") || !strings.Contains(prompt, "**Ben**: quiet cellist") {
		t.Errorf("member list missing from prompt:\n%s", prompt)
	}

	// a stored nickname replaces the default in the next prompt
	settings, _ := st.LoadSettings()
	settings.UserNickname = "Rua"
	if err := st.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	// second round: Ann's message is re-sent with exactly one name prefix
	fake.reply = `["noted"]`
	if _, err := engine.GenerateReply(ctx, chat.ID); err != nil {
		t.Fatalf("second generate: %v", err)
	}
	turns := fake.seenTurns()
	last := turns[len(turns)-1]
	if last.Text() != "Ann: hi everyone" {
		t.Errorf("history turn = %q", last.Text())
	}
	if !strings.Contains(turns[0].Text(), `goes by "Rua"`) {
		t.Errorf("stored nickname missing from prompt:\n%s", turns[0].Text())
	}
}

func TestImageMessageBecomesImagePart(t *testing.T) {
	fake := &scriptedProvider{reply: `["cute cat!"]`}
	engine, st := newTestEngine(t, fake)
	chat := seedSingleChat(t, st)
	ctx := context.Background()

	uri := "data:image/png;base64,AAAA"
	msg, err := engine.SendUserMessage(ctx, chat.ID, "look at this", uri)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Type != store.TypeImage || msg.ImageURL != uri {
		t.Errorf("user message = %+v", msg)
	}

	if _, err := engine.GenerateReply(ctx, chat.ID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	turns := fake.seenTurns()
	imgTurn := turns[len(turns)-1]
	var haveImage bool
	for _, p := range imgTurn.Parts {
		if p.Kind == provider.PartImage && p.DataURI == uri {
			haveImage = true
		}
	}
	if !haveImage {
		t.Errorf("image part missing: %+v", imgTurn.Parts)
	}
}

func TestMemoryWindowLimitsHistory(t *testing.T) {
	fake := &scriptedProvider{reply: `["ok"]`}
	engine, st := newTestEngine(t, fake)
	chat := seedSingleChat(t, st)
	ctx := context.Background()

	settings := store.DefaultSettings()
	settings.MaxMemoryWindow = 3
	if err := st.SaveSettings(settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	for i := 0; i < 6; i++ {
		if _, err := engine.SendUserMessage(ctx, chat.ID, "msg "+string(rune('a'+i)), ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := engine.GenerateReply(ctx, chat.ID); err != nil {
		t.Fatalf("generate: %v", err)
	}

	turns := fake.seenTurns()
	if len(turns) != 4 { // system + 3 most recent
		t.Fatalf("turns = %d, want 4", len(turns))
	}
	if turns[1].Text() != "msg d" || turns[3].Text() != "msg f" {
		t.Errorf("window wrong: %q .. %q", turns[1].Text(), turns[3].Text())
	}
}

func TestSinglePromptSections(t *testing.T) {
	persona := store.Persona{Name: "Mia", Persona: "dry wit", Memory: "likes jasmine tea"}
	settings := store.Settings{UserAddress: "Lisbon", UserPersona: "a night-shift nurse", CustomStyling: "keep replies under ten words"}
	facts := []store.WorldFact{{Name: "Season", Content: "late summer"}}
	chat := store.Chat{Name: "Mia"}

	prompt := buildSinglePrompt(chat, persona, settings, facts, time.Date(2026, 8, 30, 21, 0, 0, 0, time.UTC))
	for _, want := range []string{
		`"Mia"`,
		"Lisbon",
		"dry wit",
		"likes jasmine tea",
		"a night-shift nurse",
		"## Season\nlate summer",
		"1 to 5 messages",
		"# Style requirements\nkeep replies under ten words",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSinglePromptDefaults(t *testing.T) {
	prompt := buildSinglePrompt(store.Chat{Name: "X"}, store.Persona{}, store.Settings{}, nil, time.Now())
	for _, want := range []string{defaultPersonaText, defaultUserPersonaText, defaultUserAddress} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing default %q", want)
		}
	}
	if strings.Contains(prompt, "World setting") {
		t.Error("empty facts should omit the world section")
	}
	if strings.Contains(prompt, "Style requirements") {
		t.Error("empty styling should omit the style section")
	}
	if strings.Contains(prompt, "remember about the user") && strings.Contains(prompt, "{memorySection}") {
		t.Error("template placeholder leaked")
	}
}

func TestGroupPromptLimits(t *testing.T) {
	members := []store.Persona{{Name: "Ann", Persona: "painter"}}
	prompt := buildGroupPrompt(members, store.Settings{}, time.Now())
	if !strings.Contains(prompt, "more than 10 messages") {
		t.Error("message cap missing")
	}
	if !strings.Contains(prompt, `"`+defaultGroupNickname+`"`) {
		t.Error("default nickname missing")
	}
}

func TestGroupPromptUsesNickname(t *testing.T) {
	members := []store.Persona{{Name: "Ann", Persona: "painter"}}
	prompt := buildGroupPrompt(members, store.Settings{UserNickname: "Rua"}, time.Now())
	if !strings.Contains(prompt, `goes by "Rua"`) {
		t.Errorf("nickname not wired into prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "@Rua") {
		t.Error("mention form missing")
	}
	if strings.Contains(prompt, `"`+defaultGroupNickname+`"`) {
		t.Error("default nickname leaked despite a configured one")
	}
}

func TestPromptTemplateOverrides(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		settings := store.Settings{PromptSingle: "Talk like {persona} near {userAddress}.", UserAddress: "Lisbon"}
		persona := store.Persona{Persona: "a pirate"}
		prompt := buildSinglePrompt(store.Chat{Name: "X"}, persona, settings, nil, time.Now())
		if prompt != "Talk like a pirate near Lisbon." {
			t.Errorf("prompt = %q", prompt)
		}
	})
	t.Run("group", func(t *testing.T) {
		settings := store.Settings{PromptGroup: "Host {nickname}: {membersList}", UserNickname: "Rua"}
		members := []store.Persona{{Name: "Ann", Persona: "painter"}}
		prompt := buildGroupPrompt(members, settings, time.Now())
		if prompt != "Host Rua: - **Ann**: painter" {
			t.Errorf("prompt = %q", prompt)
		}
	})
	t.Run("blank override keeps the built-ins", func(t *testing.T) {
		prompt := buildSinglePrompt(store.Chat{Name: "X"}, store.Persona{}, store.Settings{PromptSingle: "  "}, nil, time.Now())
		if !strings.Contains(prompt, "1 to 5 messages") {
			t.Error("built-in template not used for a blank override")
		}
	})
}
