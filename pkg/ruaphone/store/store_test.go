package store

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

// openTestStore opens a fresh store on a temp file. A file (not :memory:)
// keeps every pooled connection on the same database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationIdempotence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	v, err := s.userVersion()
	if err != nil {
		t.Fatalf("userVersion: %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("user_version after open = %d, want %d", v, SchemaVersion)
	}
	if _, err := s.CreatePersona("Ann", "", "test persona"); err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}
	s.Close()

	// Second open at the same version must be a no-op and keep data.
	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	personas, err := s2.ListPersonas()
	if err != nil {
		t.Fatalf("ListPersonas: %v", err)
	}
	if len(personas) != 1 || personas[0].Name != "Ann" {
		t.Fatalf("personas after reopen = %+v, want one named Ann", personas)
	}
}

func TestOpenNewerSchemaIsConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	s.Close()

	_, err = Open(path, nil)
	var conflict *SchemaConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Open on newer schema = %v, want SchemaConflictError", err)
	}
	if conflict.Found != 99 || conflict.Supported != SchemaVersion {
		t.Fatalf("conflict = %+v", conflict)
	}
}

func TestPersonaCascadeDelete(t *testing.T) {
	s := openTestStore(t)

	p1, err := s.CreatePersona("Ann", "", "first")
	if err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}
	p2, err := s.CreatePersona("Ben", "", "second")
	if err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}

	single, err := s.CreateChat("Ann", p1.ID)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	group, err := s.CreateGroupChat("friends", []string{p1.ID, p2.ID})
	if err != nil {
		t.Fatalf("CreateGroupChat: %v", err)
	}

	if err := s.AppendMessage(&Message{ChatID: single.ID, Role: RoleUser, Type: TypeText, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := s.DeletePersona(p1.ID); err != nil {
		t.Fatalf("DeletePersona: %v", err)
	}

	if _, err := s.GetChat(single.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("owned single chat survived delete: %v", err)
	}
	msgs, err := s.Messages(single.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages of deleted chat = %d, want 0", len(msgs))
	}

	g, err := s.GetChat(group.ID)
	if err != nil {
		t.Fatalf("GetChat group: %v", err)
	}
	if len(g.PersonaIDs) != 1 || g.PersonaIDs[0] != p2.ID {
		t.Errorf("group persona ids after prune = %v, want [%s]", g.PersonaIDs, p2.ID)
	}
}

func TestAppendPersonaMemoryPreservesOrder(t *testing.T) {
	s := openTestStore(t)

	p, err := s.CreatePersona("Ann", "", "test")
	if err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}

	if err := s.AppendPersonaMemory(p.ID, "birthday is May 3"); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.AppendPersonaMemory(p.ID, "likes jasmine tea"); err != nil {
		t.Fatalf("second append: %v", err)
	}

	got, err := s.GetPersona(p.ID)
	if err != nil {
		t.Fatalf("GetPersona: %v", err)
	}
	want := "birthday is May 3\nlikes jasmine tea"
	if got.Memory != want {
		t.Errorf("memory = %q, want %q", got.Memory, want)
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	s := openTestStore(t)

	p, _ := s.CreatePersona("Ann", "", "test")
	c, _ := s.CreateChat("Ann", p.ID)

	for i := 0; i < 5; i++ {
		m := Message{ChatID: c.ID, Role: RoleUser, Type: TypeText,
			Content: string(rune('a' + i)), Timestamp: int64(1000 + i)}
		if err := s.AppendMessage(&m); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	recent, err := s.RecentMessages(c.ID, 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("window size = %d, want 3", len(recent))
	}
	if recent[0].Content != "c" || recent[2].Content != "e" {
		t.Errorf("window = [%s %s %s], want [c d e]",
			recent[0].Content, recent[1].Content, recent[2].Content)
	}
}

func TestEditTextMessage(t *testing.T) {
	s := openTestStore(t)

	p, _ := s.CreatePersona("Ann", "", "test")
	c, _ := s.CreateChat("Ann", p.ID)

	text := Message{ChatID: c.ID, Role: RoleUser, Type: TypeText, Content: "helo"}
	if err := s.AppendMessage(&text); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	voice := Message{ChatID: c.ID, Role: RoleAssistant, Type: TypeVoice, Content: "hey", VoiceDuration: 2}
	if err := s.AppendMessage(&voice); err != nil {
		t.Fatalf("AppendMessage voice: %v", err)
	}

	if err := s.EditTextMessage(text.ID, "hello"); err != nil {
		t.Fatalf("EditTextMessage: %v", err)
	}
	got, err := s.GetMessage(text.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != "hello" || !got.Edited || got.EditedAt == 0 {
		t.Errorf("edited message = %+v", got)
	}

	// Non-text messages are not editable.
	if err := s.EditTextMessage(voice.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("editing a voice message = %v, want ErrNotFound", err)
	}
}

func TestAttachVoiceAudio(t *testing.T) {
	s := openTestStore(t)

	p, _ := s.CreatePersona("Ann", "", "test")
	c, _ := s.CreateChat("Ann", p.ID)

	voice := Message{ChatID: c.ID, Role: RoleAssistant, Type: TypeVoice, Content: "hey"}
	if err := s.AppendMessage(&voice); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := s.AttachVoiceAudio(voice.ID, "b64audio", "audio/ogg"); err != nil {
		t.Fatalf("AttachVoiceAudio: %v", err)
	}
	got, _ := s.GetMessage(voice.ID)
	if got.AudioData != "b64audio" || got.AudioMime != "audio/ogg" {
		t.Errorf("attached audio = %q/%q", got.AudioData, got.AudioMime)
	}
}

func TestProviderConfigAndSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.LoadProviderConfig(); err != nil || ok {
		t.Fatalf("LoadProviderConfig on empty store = ok=%v err=%v", ok, err)
	}

	pc := ProviderConfig{Provider: "gemini", APIKey: "k1,k2", Model: "gemini-1.5-flash"}
	if err := s.SaveProviderConfig(pc); err != nil {
		t.Fatalf("SaveProviderConfig: %v", err)
	}
	got, ok, err := s.LoadProviderConfig()
	if err != nil || !ok {
		t.Fatalf("LoadProviderConfig: ok=%v err=%v", ok, err)
	}
	if got != pc {
		t.Errorf("provider config = %+v, want %+v", got, pc)
	}

	st, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings default: %v", err)
	}
	if st.MaxMemoryWindow != 20 {
		t.Errorf("default max memory = %d, want 20", st.MaxMemoryWindow)
	}

	st.MaxMemoryWindow = 50
	st.UserAddress = "Shanghai"
	st.UserNickname = "Rua"
	st.Debug = true
	st.PromptSingle = "custom single {persona}"
	st.PromptGroup = "custom group {nickname}"
	if err := s.SaveSettings(st); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	st2, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if st2 != st {
		t.Errorf("settings = %+v, want %+v", st2, st)
	}
}

func TestMomentCommentsAndLikes(t *testing.T) {
	s := openTestStore(t)

	m, err := s.AddMoment("u1", "Rua", "sunny today", nil, "park")
	if err != nil {
		t.Fatalf("AddMoment: %v", err)
	}

	c1, err := s.AddMomentComment(m.ID, "u2", "Ann", "looks great", "")
	if err != nil {
		t.Fatalf("AddMomentComment: %v", err)
	}
	c2, err := s.AddMomentComment(m.ID, "u1", "Rua", "thanks!", c1.ID)
	if err != nil {
		t.Fatalf("AddMomentComment reply: %v", err)
	}

	comments, err := s.MomentComments(m.ID)
	if err != nil {
		t.Fatalf("MomentComments: %v", err)
	}
	if len(comments) != 2 || comments[0].ID != c1.ID || comments[1].ReplyTo != c1.ID {
		t.Errorf("comments = %+v", comments)
	}
	if comments[1].ID != c2.ID {
		t.Errorf("reply not ordered after parent: %+v", comments)
	}

	liked, err := s.ToggleMomentLike(m.ID, "u2", "Ann")
	if err != nil || !liked {
		t.Fatalf("first toggle = %v, %v, want liked", liked, err)
	}
	liked, err = s.ToggleMomentLike(m.ID, "u2", "Ann")
	if err != nil || liked {
		t.Fatalf("second toggle = %v, %v, want unliked", liked, err)
	}
	liked, err = s.ToggleMomentLike(m.ID, "u2", "Ann")
	if err != nil || !liked {
		t.Fatalf("third toggle = %v, %v, want liked again", liked, err)
	}
}

func TestGroupMembersResolveDynamically(t *testing.T) {
	s := openTestStore(t)

	p1, _ := s.CreatePersona("Ann", "", "first")
	p2, _ := s.CreatePersona("Ben", "", "second")
	g, _ := s.CreateGroupChat("friends", []string{p1.ID, p2.ID})

	// Rename after chat creation; the chat must see the new name.
	if err := s.UpdatePersona(p1.ID, "Anna", "", "first"); err != nil {
		t.Fatalf("UpdatePersona: %v", err)
	}

	chat, _ := s.GetChat(g.ID)
	members, err := s.ChatMembers(chat)
	if err != nil {
		t.Fatalf("ChatMembers: %v", err)
	}
	if len(members) != 2 || members[0].Name != "Anna" {
		t.Errorf("members = %+v, want renamed Anna first", members)
	}
}

func TestBackfillAssignsDefaults(t *testing.T) {
	// Build a v1 database by hand, then let Open run the chain over it.
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := openRaw(path)
	if err != nil {
		t.Fatalf("openRaw: %v", err)
	}
	s := &Store{db: db, logger: discardLogger()}
	if err := s.applyMigration(migrations[0]); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO chats (id, name, created) VALUES ('c1', 'old chat', 1)`); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO messages (id, chat_id, role, content, timestamp)
		VALUES ('m1', 'c1', 'user', 'old', 1)`); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	db.Close()

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open after v1 seed: %v", err)
	}
	defer s2.Close()

	chat, err := s2.GetChat("c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.Kind != ChatSingle {
		t.Errorf("backfilled kind = %q, want %q", chat.Kind, ChatSingle)
	}
	msg, err := s2.GetMessage("m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Type != TypeText {
		t.Errorf("backfilled type = %q, want %q", msg.Type, TypeText)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
