// Package chat orchestrates one reply generation: read history and
// configuration, build canonical turns, call the provider, normalize the
// reply, and dispatch the candidates back into the store. One pipeline runs
// per chat at a time; different chats may generate concurrently.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/dispatch"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/normalize"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/provider"
	"github.com/ruaphone/ruaphone/pkg/ruaphone/store"
)

// ErrBusy is returned when a reply is already being generated for the chat.
var ErrBusy = errors.New("a reply is already being generated for this chat")

// errorReplyPrefix opens the assistant message synthesized from a provider
// failure, so the conversation always shows why generation stopped.
const errorReplyPrefix = "Sorry, something went wrong replying: "

// Result is the outcome of one generation pipeline.
type Result struct {
	// Messages are the persisted assistant messages, in order.
	Messages []store.Message
	// Level reports how deep the normalizer's fallback chain went.
	Level normalize.Level
}

// Engine runs the generation pipeline.
type Engine struct {
	store    *store.Store
	provider provider.Provider
	disp     *dispatch.Dispatcher
	logger   *slog.Logger

	mu   sync.Mutex
	busy map[string]bool
}

// New creates an engine.
func New(st *store.Store, p provider.Provider, d *dispatch.Dispatcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		provider: p,
		disp:     d,
		logger:   logger.With("component", "chat"),
		busy:     make(map[string]bool),
	}
}

// Busy reports whether a generation is in flight for the chat.
func (e *Engine) Busy(chatID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy[chatID]
}

func (e *Engine) acquire(chatID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[chatID] {
		return false
	}
	e.busy[chatID] = true
	return true
}

func (e *Engine) release(chatID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, chatID)
}

// SendUserMessage persists one user message and refreshes the chat preview.
// A non-empty imageDataURI makes it an image message.
func (e *Engine) SendUserMessage(ctx context.Context, chatID, content, imageDataURI string) (store.Message, error) {
	chat, err := e.store.GetChat(chatID)
	if err != nil {
		return store.Message{}, fmt.Errorf("load chat: %w", err)
	}

	msg := store.Message{
		ChatID:  chat.ID,
		Role:    store.RoleUser,
		Type:    store.TypeText,
		Content: content,
	}
	if imageDataURI != "" {
		msg.Type = store.TypeImage
		msg.ImageURL = imageDataURI
	}
	if err := e.store.AppendMessage(&msg); err != nil {
		return store.Message{}, fmt.Errorf("persist user message: %w", err)
	}
	if err := e.store.UpdateChatPreview(chat.ID, dispatch.PreviewFor(msg)); err != nil {
		return store.Message{}, fmt.Errorf("update preview: %w", err)
	}
	return msg, nil
}

// GenerateReply runs the full pipeline for one chat. A provider failure is
// not an error: it becomes a visible assistant message so the conversation
// records why generation stopped. ErrBusy is returned when a pipeline is
// already running for this chat.
func (e *Engine) GenerateReply(ctx context.Context, chatID string) (*Result, error) {
	if !e.acquire(chatID) {
		return nil, ErrBusy
	}
	defer e.release(chatID)

	chat, err := e.store.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	settings, err := e.store.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	history, err := e.store.RecentMessages(chat.ID, settings.MaxMemoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	systemPrompt, err := e.buildSystemPrompt(chat, settings)
	if err != nil {
		return nil, err
	}
	turns := assembleTurns(systemPrompt, history, chat)

	e.logger.Debug("generating reply", "chat", chat.ID, "kind", chat.Kind, "turns", len(turns))

	raw, err := e.provider.Send(ctx, turns, provider.GenerationOptions{})
	if err != nil {
		return e.synthesizeErrorReply(chat, err)
	}

	isGroup := chat.Kind == store.ChatGroup
	candidates, level := normalize.Normalize(raw, isGroup)
	if level >= normalize.LevelSplit {
		e.logger.Warn("reply decoded via deep fallback", "chat", chat.ID, "level", level.String())
	}

	persisted, err := e.disp.Dispatch(ctx, chat, candidates)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	return &Result{Messages: persisted, Level: level}, nil
}

func (e *Engine) buildSystemPrompt(chat store.Chat, settings store.Settings) (string, error) {
	now := time.Now()
	if chat.Kind == store.ChatGroup {
		members, err := e.store.ChatMembers(chat)
		if err != nil {
			return "", fmt.Errorf("resolve members: %w", err)
		}
		return buildGroupPrompt(members, settings, now), nil
	}

	persona, err := e.store.GetPersona(chat.PersonaID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load persona: %w", err)
	}
	facts, err := e.store.ListWorldFacts()
	if err != nil {
		return "", fmt.Errorf("load world facts: %w", err)
	}
	return buildSinglePrompt(chat, persona, settings, facts, now), nil
}

// synthesizeErrorReply persists the failure as an assistant message so the
// pipeline always terminates visibly.
func (e *Engine) synthesizeErrorReply(chat store.Chat, cause error) (*Result, error) {
	e.logger.Error("provider call failed", "chat", chat.ID, "error", cause)

	msg := store.Message{
		ChatID:  chat.ID,
		Role:    store.RoleAssistant,
		Type:    store.TypeText,
		Content: errorReplyPrefix + cause.Error(),
	}
	if err := e.store.AppendMessage(&msg); err != nil {
		return nil, fmt.Errorf("persist error reply: %w", err)
	}
	if err := e.store.UpdateChatPreview(chat.ID, dispatch.PreviewFor(msg)); err != nil {
		return nil, fmt.Errorf("update preview: %w", err)
	}
	return &Result{Messages: []store.Message{msg}}, nil
}

// assembleTurns converts stored history into canonical turns behind the
// system prompt. Group assistant messages are re-sent with a single
// "Name: " prefix so the model keeps speakers apart; image messages carry
// their data URI as an image part.
func assembleTurns(systemPrompt string, history []store.Message, chat store.Chat) []provider.Turn {
	turns := make([]provider.Turn, 0, len(history)+1)
	turns = append(turns, provider.TextTurn(provider.RoleSystem, systemPrompt))

	for _, m := range history {
		role := provider.RoleUser
		if m.Role == store.RoleAssistant {
			role = provider.RoleAssistant
		}

		if m.Type == store.TypeImage && m.ImageURL != "" {
			parts := []provider.Part{}
			if m.Content != "" {
				parts = append(parts, provider.Part{Kind: provider.PartText, Text: m.Content})
			}
			parts = append(parts, provider.Part{Kind: provider.PartImage, DataURI: m.ImageURL})
			turns = append(turns, provider.Turn{Role: role, Parts: parts})
			continue
		}

		content := m.Content
		if chat.Kind == store.ChatGroup && m.Role == store.RoleAssistant && m.SenderName != "" {
			content = m.SenderName + ": " + dispatch.StripSenderEcho(m.SenderName, content)
		}
		turns = append(turns, provider.TextTurn(role, content))
	}
	return turns
}
