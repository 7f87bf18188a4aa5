// Package store – chats.go implements chat CRUD. Group membership lives as
// a JSON id list on the chat row and is resolved against the personas table
// on every read, so persona edits are visible to all referencing chats.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// CreateChat creates a single chat bound to one persona.
func (s *Store) CreateChat(name, personaID string) (Chat, error) {
	if personaID == "" {
		return Chat{}, fmt.Errorf("single chat requires a persona id")
	}
	c := Chat{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      ChatSingle,
		PersonaID: personaID,
		Created:   time.Now().UnixMilli(),
	}
	return c, s.insertChat(c)
}

// CreateGroupChat creates a group chat over an ordered set of persona ids.
func (s *Store) CreateGroupChat(name string, personaIDs []string) (Chat, error) {
	if len(personaIDs) == 0 {
		return Chat{}, fmt.Errorf("group chat requires at least one persona id")
	}
	c := Chat{
		ID:         uuid.NewString(),
		Name:       name,
		Kind:       ChatGroup,
		PersonaIDs: personaIDs,
		Created:    time.Now().UnixMilli(),
	}
	return c, s.insertChat(c)
}

func (s *Store) insertChat(c Chat) error {
	ids, err := json.Marshal(c.PersonaIDs)
	if err != nil {
		return fmt.Errorf("encode persona ids: %w", err)
	}
	if c.PersonaIDs == nil {
		ids = []byte("[]")
	}
	_, err = s.db.Exec(`
		INSERT INTO chats (id, name, kind, persona_id, persona_ids, created, last_message_preview)
		VALUES (?, ?, ?, ?, ?, ?, '')`,
		c.ID, c.Name, c.Kind, c.PersonaID, string(ids), c.Created)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// GetChat loads one chat by id.
func (s *Store) GetChat(id string) (Chat, error) {
	row := s.db.QueryRow(`
		SELECT id, name, kind, persona_id, persona_ids, created, last_message_preview
		FROM chats WHERE id = ?`, id)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return c, err
}

// ListChats returns all chats, newest first.
func (s *Store) ListChats() ([]Chat, error) {
	rows, err := s.db.Query(`
		SELECT id, name, kind, persona_id, persona_ids, created, last_message_preview
		FROM chats ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (Chat, error) {
	var (
		c   Chat
		ids string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Kind, &c.PersonaID, &ids, &c.Created, &c.LastMessagePreview); err != nil {
		return Chat{}, err
	}
	if err := json.Unmarshal([]byte(ids), &c.PersonaIDs); err != nil {
		return Chat{}, fmt.Errorf("decode persona ids for chat %s: %w", c.ID, err)
	}
	return c, nil
}

// ChatMembers resolves a group chat's persona ids to personas, in member
// order. Deleted personas are silently absent.
func (s *Store) ChatMembers(chat Chat) ([]Persona, error) {
	var members []Persona
	for _, id := range chat.PersonaIDs {
		p, err := s.GetPersona(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return members, nil
}

// DeleteChat removes a chat and all of its messages.
func (s *Store) DeleteChat(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return tx.Commit()
}

// UpdateChatPreview sets the list-preview text shown for the chat.
func (s *Store) UpdateChatPreview(id, preview string) error {
	_, err := s.db.Exec(`UPDATE chats SET last_message_preview = ? WHERE id = ?`, preview, id)
	if err != nil {
		return fmt.Errorf("update chat preview: %w", err)
	}
	return nil
}
