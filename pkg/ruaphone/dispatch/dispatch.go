// Package dispatch applies per-type side effects to normalized candidates
// and persists the survivors. Batches run strictly sequentially: a memory
// append must be committed before a later candidate touches the same
// persona.
package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/normalize"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/store"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/tts"
)

// previewMaxLen bounds the chat-list preview text.
const previewMaxLen = 50

// Dispatcher turns candidates into persisted messages.
type Dispatcher struct {
	store  *store.Store
	synth  tts.Synthesizer // nil disables voice pre-synthesis
	voice  string
	logger *slog.Logger
}

// New creates a dispatcher. synth may be nil when voice synthesis is not
// configured; voice messages then persist without attached audio.
func New(st *store.Store, synth tts.Synthesizer, voice string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  st,
		synth:  synth,
		voice:  voice,
		logger: logger.With("component", "dispatch"),
	}
}

// Dispatch processes one batch of candidates for a chat in order and returns
// the persisted messages. Memory candidates never become messages: their
// text is appended to the target persona's memory instead. A store write
// failure aborts the batch; side-effect failures (synthesis, missing
// persona) are logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, chat store.Chat, candidates []normalize.Candidate) ([]store.Message, error) {
	persisted := make([]store.Message, 0, len(candidates))

	for _, c := range candidates {
		if c.Type == normalize.TypeMemory {
			if err := d.absorbMemory(chat, c); err != nil {
				return persisted, fmt.Errorf("absorb memory: %w", err)
			}
			continue
		}

		msg := d.buildMessage(ctx, chat, c)
		if err := d.store.AppendMessage(&msg); err != nil {
			return persisted, fmt.Errorf("persist message: %w", err)
		}
		persisted = append(persisted, msg)
	}

	if len(persisted) > 0 {
		last := persisted[len(persisted)-1]
		if err := d.store.UpdateChatPreview(chat.ID, PreviewFor(last)); err != nil {
			return persisted, fmt.Errorf("update preview: %w", err)
		}
	}
	return persisted, nil
}

// absorbMemory routes a memory candidate into the owning persona. In a
// group the sender name picks the member; an unattributed memory goes to
// the first member.
func (d *Dispatcher) absorbMemory(chat store.Chat, c normalize.Candidate) error {
	target, err := d.memoryTarget(chat, c.SenderName)
	if err != nil {
		d.logger.Warn("memory candidate has no persona target, dropping",
			"chat", chat.ID, "sender", c.SenderName, "error", err)
		return nil
	}
	d.logger.Debug("appending persona memory", "persona", target.ID, "len", len(c.Content))
	return d.store.AppendPersonaMemory(target.ID, c.Content)
}

func (d *Dispatcher) memoryTarget(chat store.Chat, sender string) (store.Persona, error) {
	if chat.Kind == store.ChatSingle {
		return d.store.GetPersona(chat.PersonaID)
	}
	members, err := d.store.ChatMembers(chat)
	if err != nil {
		return store.Persona{}, err
	}
	if sender != "" {
		for _, m := range members {
			if strings.EqualFold(m.Name, sender) {
				return m, nil
			}
		}
	}
	if len(members) == 0 {
		return store.Persona{}, fmt.Errorf("group %s has no resolvable members", chat.ID)
	}
	return members[0], nil
}

func (d *Dispatcher) buildMessage(ctx context.Context, chat store.Chat, c normalize.Candidate) store.Message {
	msg := store.Message{
		ChatID:            chat.ID,
		Role:              store.RoleAssistant,
		Type:              c.Type,
		Content:           c.Content,
		Timestamp:         c.Timestamp,
		SenderName:        c.SenderName,
		VoiceDuration:     c.VoiceDuration,
		ImageURL:          c.ImageURL,
		TransferAmount:    c.TransferAmount,
		TransferNote:      c.TransferNote,
		OriginalMessageID: c.OriginalMessageID,
		StickerURL:        c.StickerURL,
	}

	switch c.Type {
	case normalize.TypeText:
		if chat.Kind == store.ChatGroup && msg.SenderName != "" {
			msg.Content = StripSenderEcho(msg.SenderName, msg.Content)
		}
	case normalize.TypeVoice:
		d.synthesizeVoice(ctx, &msg)
	case normalize.TypeHTML:
		msg.Content = wrapHTMLDocument(msg.Content)
	}
	return msg
}

// synthesizeVoice eagerly attaches audio so playback is instant. Failure is
// non-fatal: the message persists without audio and synthesis retries
// lazily on first playback.
func (d *Dispatcher) synthesizeVoice(ctx context.Context, msg *store.Message) {
	if d.synth == nil {
		return
	}
	audio, mime, err := d.synth.Synthesize(ctx, msg.Content, d.voice)
	if err != nil {
		d.logger.Warn("voice pre-synthesis failed, persisting without audio", "error", err)
		return
	}
	msg.AudioData = base64.StdEncoding.EncodeToString(audio)
	msg.AudioMime = mime
}

// EnsureVoiceAudio retries synthesis for a voice message that was persisted
// without audio and attaches the result to the stored row. No-op for
// non-voice messages, messages that already carry audio, or when synthesis
// is not configured.
func (d *Dispatcher) EnsureVoiceAudio(ctx context.Context, msg *store.Message) error {
	if msg.Type != store.TypeVoice || msg.AudioData != "" || d.synth == nil {
		return nil
	}
	audio, mime, err := d.synth.Synthesize(ctx, msg.Content, d.voice)
	if err != nil {
		return fmt.Errorf("voice synthesis: %w", err)
	}
	msg.AudioData = base64.StdEncoding.EncodeToString(audio)
	msg.AudioMime = mime
	if err := d.store.AttachVoiceAudio(msg.ID, msg.AudioData, msg.AudioMime); err != nil {
		return fmt.Errorf("attach audio: %w", err)
	}
	return nil
}

// StripSenderEcho removes a leading "Name:" the model echoed inside the
// content of an attributed group message, so the name is never shown or
// re-sent twice.
func StripSenderEcho(sender, content string) string {
	if sender == "" {
		return content
	}
	for _, sep := range []string{": ", ":"} {
		if strings.HasPrefix(content, sender+sep) {
			return strings.TrimSpace(strings.TrimPrefix(content, sender+sep))
		}
	}
	return content
}

// wrapHTMLDocument wraps a bare fragment in a minimal self-contained shell
// so later rendering does not inherit host styles. Full documents pass
// through untouched.
func wrapHTMLDocument(body string) string {
	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "<!doctype") || strings.Contains(lower, "<html") {
		return body
	}
	return `<!DOCTYPE html><html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><style>html,body{margin:0;padding:8px;font-family:sans-serif}</style></head><body>` +
		trimmed + `</body></html>`
}

// PreviewFor renders the chat-list preview line for a message.
func PreviewFor(m store.Message) string {
	switch m.Type {
	case store.TypeVoice:
		return "[Voice]"
	case store.TypeImage:
		return "[Image]"
	case store.TypeTransfer:
		return "[Transfer]"
	case store.TypeRecall:
		return "recalled a message"
	case store.TypeHTML:
		return "[Card]"
	case store.TypeSticker:
		return "[Sticker]"
	default:
		return truncatePreview(m.Content)
	}
}

func truncatePreview(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= previewMaxLen {
		return s
	}
	return string(runes[:previewMaxLen]) + "..."
}
