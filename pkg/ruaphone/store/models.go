// Package store – models.go defines the persisted record types: chats,
// messages, personas, world facts, provider config, global settings, and
// the moments feed.
package store

// Chat kinds.
const (
	ChatSingle = "single"
	ChatGroup  = "group"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message types. "memory" never appears here: memory candidates are
// redirected into Persona.Memory by the dispatcher and have no message row.
const (
	TypeText     = "text"
	TypeVoice    = "voice"
	TypeImage    = "image"
	TypeTransfer = "transfer"
	TypeRecall   = "recall"
	TypeHTML     = "html"
	TypeSticker  = "sticker"
)

// Chat is one conversation. A single chat references exactly one persona;
// a group chat references an ordered set of persona ids that are resolved
// dynamically at read time, never snapshotted.
type Chat struct {
	ID                 string
	Name               string
	Kind               string // ChatSingle or ChatGroup
	PersonaID          string // single chats only
	PersonaIDs         []string // group chats only, ordered
	Created            int64  // unix milliseconds
	LastMessagePreview string
}

// Message is one chat entry. Rows are immutable after insert except for
// explicit text edits and lazily attached voice audio.
type Message struct {
	ID         string
	ChatID     string
	Role       string
	Type       string
	Content    string
	Timestamp  int64 // unix milliseconds
	SenderName string

	// Typed payloads. Exactly one group is meaningful per Type.
	VoiceDuration     int    // seconds, voice
	AudioData         string // base64 audio, voice (attached by pre-synthesis)
	AudioMime         string
	ImageURL          string
	TransferAmount    float64
	TransferNote      string
	OriginalMessageID string // recall
	StickerURL        string

	Edited   bool
	EditedAt int64
}

// Persona is a reusable character definition. Memory is an append-only
// transcript written exclusively by the dispatcher.
type Persona struct {
	ID      string
	Name    string
	Avatar  string
	Persona string // character description
	Memory  string
	Created int64
}

// WorldFact is a named block of free text folded into single-chat prompts.
type WorldFact struct {
	ID      string
	Name    string
	Content string
	Created int64
}

// ProviderConfig is the single-row provider configuration. APIKey may hold
// a comma-separated pool; the adapter picks one per request.
type ProviderConfig struct {
	Provider string // "openai" or "gemini"
	BaseURL  string
	APIKey   string
	Model    string
}

// Settings is the single-row global settings record. PromptSingle and
// PromptGroup, when non-empty, replace the built-in prompt templates.
type Settings struct {
	MaxMemoryWindow int
	UserAddress     string
	UserPersona     string
	UserNickname    string // how group members address the user
	Debug           bool
	CustomStyling   string
	PromptSingle    string
	PromptGroup     string
}

// Moment is one feed post. Rendering the feed is out of scope; the rows
// exist so backups and migrations cover the whole local dataset.
type Moment struct {
	ID        string
	UserID    string
	UserName  string
	Content   string
	Images    []string
	Location  string
	Timestamp int64
}

// MomentComment is a comment on a moment.
type MomentComment struct {
	ID        string
	MomentID  string
	UserID    string
	UserName  string
	Content   string
	ReplyTo   string
	Timestamp int64
}

// MomentLike is a like on a moment.
type MomentLike struct {
	ID        string
	MomentID  string
	UserID    string
	UserName  string
	Timestamp int64
}
