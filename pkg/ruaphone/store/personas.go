// Package store – personas.go implements persona CRUD, the append-only
// persona memory, and the cascade that runs when a persona is deleted.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreatePersona creates a persona with an empty memory.
func (s *Store) CreatePersona(name, avatar, description string) (Persona, error) {
	p := Persona{
		ID:      uuid.NewString(),
		Name:    name,
		Avatar:  avatar,
		Persona: description,
		Created: time.Now().UnixMilli(),
	}
	_, err := s.db.Exec(`
		INSERT INTO personas (id, name, avatar, persona, memory, created)
		VALUES (?, ?, ?, ?, '', ?)`,
		p.ID, p.Name, p.Avatar, p.Persona, p.Created)
	if err != nil {
		return Persona{}, fmt.Errorf("insert persona: %w", err)
	}
	return p, nil
}

// GetPersona loads one persona by id.
func (s *Store) GetPersona(id string) (Persona, error) {
	var p Persona
	err := s.db.QueryRow(`
		SELECT id, name, avatar, persona, memory, created
		FROM personas WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Avatar, &p.Persona, &p.Memory, &p.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return Persona{}, fmt.Errorf("persona %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Persona{}, fmt.Errorf("get persona: %w", err)
	}
	return p, nil
}

// ListPersonas returns all personas, newest first.
func (s *Store) ListPersonas() ([]Persona, error) {
	rows, err := s.db.Query(`
		SELECT id, name, avatar, persona, memory, created
		FROM personas ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		var p Persona
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar, &p.Persona, &p.Memory, &p.Created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePersona rewrites name, avatar, and description. Memory is untouched;
// it only grows through AppendPersonaMemory.
func (s *Store) UpdatePersona(id, name, avatar, description string) error {
	res, err := s.db.Exec(`
		UPDATE personas SET name = ?, avatar = ?, persona = ? WHERE id = ?`,
		name, avatar, description, id)
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("persona %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendPersonaMemory appends one memory entry, newline-separated.
// Memory is accumulative with no size cap; truncating it would silently
// discard facts the user asked the assistant to keep.
func (s *Store) AppendPersonaMemory(id, text string) error {
	res, err := s.db.Exec(`
		UPDATE personas
		SET memory = CASE WHEN memory = '' THEN ? ELSE memory || char(10) || ? END
		WHERE id = ?`,
		text, text, id)
	if err != nil {
		return fmt.Errorf("append persona memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("persona %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeletePersona removes a persona and cascades: single chats owned by it are
// deleted with their messages, and its id is pruned from every group chat's
// member list.
func (s *Store) DeletePersona(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Owned single chats and their messages.
	rows, err := tx.Query(`SELECT id FROM chats WHERE kind = ? AND persona_id = ?`, ChatSingle, id)
	if err != nil {
		return fmt.Errorf("find owned chats: %w", err)
	}
	var owned []string
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			rows.Close()
			return err
		}
		owned = append(owned, chatID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, chatID := range owned {
		if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
			return fmt.Errorf("delete messages of chat %s: %w", chatID, err)
		}
		if _, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, chatID); err != nil {
			return fmt.Errorf("delete chat %s: %w", chatID, err)
		}
	}

	// Prune from group member lists.
	groupRows, err := tx.Query(`SELECT id, persona_ids FROM chats WHERE kind = ?`, ChatGroup)
	if err != nil {
		return fmt.Errorf("find group chats: %w", err)
	}
	type groupPatch struct {
		chatID string
		ids    []string
	}
	var patches []groupPatch
	for groupRows.Next() {
		var (
			chatID string
			raw    string
		)
		if err := groupRows.Scan(&chatID, &raw); err != nil {
			groupRows.Close()
			return err
		}
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			groupRows.Close()
			return fmt.Errorf("decode persona ids for chat %s: %w", chatID, err)
		}
		pruned := ids[:0]
		removed := false
		for _, pid := range ids {
			if pid == id {
				removed = true
				continue
			}
			pruned = append(pruned, pid)
		}
		if removed {
			patches = append(patches, groupPatch{chatID: chatID, ids: append([]string(nil), pruned...)})
		}
	}
	groupRows.Close()
	if err := groupRows.Err(); err != nil {
		return err
	}
	for _, patch := range patches {
		encoded, err := json.Marshal(patch.ids)
		if err != nil {
			return fmt.Errorf("encode persona ids: %w", err)
		}
		if _, err := tx.Exec(`UPDATE chats SET persona_ids = ? WHERE id = ?`, string(encoded), patch.chatID); err != nil {
			return fmt.Errorf("prune persona from chat %s: %w", patch.chatID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM personas WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	return tx.Commit()
}
