// Package store – settings.go holds the two single-row collections
// (provider config and global settings) plus world facts.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// singleRowID is the fixed key of the single-row collections.
const singleRowID = "main"

// SaveProviderConfig upserts the single provider configuration row.
func (s *Store) SaveProviderConfig(pc ProviderConfig) error {
	_, err := s.db.Exec(`
		INSERT INTO api_config (id, provider, base_url, api_key, model)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			base_url = excluded.base_url,
			api_key  = excluded.api_key,
			model    = excluded.model`,
		singleRowID, pc.Provider, pc.BaseURL, pc.APIKey, pc.Model)
	if err != nil {
		return fmt.Errorf("save provider config: %w", err)
	}
	return nil
}

// LoadProviderConfig reads the provider configuration. ok is false when
// the row has never been saved.
func (s *Store) LoadProviderConfig() (pc ProviderConfig, ok bool, err error) {
	err = s.db.QueryRow(`
		SELECT provider, base_url, api_key, model
		FROM api_config WHERE id = ?`, singleRowID).
		Scan(&pc.Provider, &pc.BaseURL, &pc.APIKey, &pc.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return ProviderConfig{}, false, nil
	}
	if err != nil {
		return ProviderConfig{}, false, fmt.Errorf("load provider config: %w", err)
	}
	return pc, true, nil
}

// DefaultSettings are the values used before the settings row exists.
func DefaultSettings() Settings {
	return Settings{
		MaxMemoryWindow: 20,
		UserAddress:     "",
		UserPersona:     "an ordinary user",
	}
}

// SaveSettings upserts the single global settings row.
func (s *Store) SaveSettings(st Settings) error {
	_, err := s.db.Exec(`
		INSERT INTO global_settings (id, max_memory, user_address, user_persona, user_nickname,
			debug, custom_css, prompt_single, prompt_group)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			max_memory    = excluded.max_memory,
			user_address  = excluded.user_address,
			user_persona  = excluded.user_persona,
			user_nickname = excluded.user_nickname,
			debug         = excluded.debug,
			custom_css    = excluded.custom_css,
			prompt_single = excluded.prompt_single,
			prompt_group  = excluded.prompt_group`,
		singleRowID, st.MaxMemoryWindow, st.UserAddress, st.UserPersona, st.UserNickname,
		boolToInt(st.Debug), st.CustomStyling, st.PromptSingle, st.PromptGroup)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings reads the global settings row, falling back to defaults.
func (s *Store) LoadSettings() (Settings, error) {
	var (
		st    Settings
		debug int
	)
	err := s.db.QueryRow(`
		SELECT max_memory, user_address, user_persona, user_nickname,
			debug, custom_css, prompt_single, prompt_group
		FROM global_settings WHERE id = ?`, singleRowID).
		Scan(&st.MaxMemoryWindow, &st.UserAddress, &st.UserPersona, &st.UserNickname,
			&debug, &st.CustomStyling, &st.PromptSingle, &st.PromptGroup)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	st.Debug = debug != 0
	return st, nil
}

// AddWorldFact stores a named block of world text for prompt construction.
func (s *Store) AddWorldFact(name, content string) (WorldFact, error) {
	f := WorldFact{
		ID:      uuid.NewString(),
		Name:    name,
		Content: content,
		Created: time.Now().UnixMilli(),
	}
	_, err := s.db.Exec(`
		INSERT INTO world_facts (id, name, content, created) VALUES (?, ?, ?, ?)`,
		f.ID, f.Name, f.Content, f.Created)
	if err != nil {
		return WorldFact{}, fmt.Errorf("insert world fact: %w", err)
	}
	return f, nil
}

// ListWorldFacts returns every world fact in creation order.
func (s *Store) ListWorldFacts() ([]WorldFact, error) {
	rows, err := s.db.Query(`
		SELECT id, name, content, created FROM world_facts ORDER BY created ASC`)
	if err != nil {
		return nil, fmt.Errorf("list world facts: %w", err)
	}
	defer rows.Close()

	var facts []WorldFact
	for rows.Next() {
		var f WorldFact
		if err := rows.Scan(&f.ID, &f.Name, &f.Content, &f.Created); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// DeleteWorldFact removes one world fact.
func (s *Store) DeleteWorldFact(id string) error {
	_, err := s.db.Exec(`DELETE FROM world_facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete world fact: %w", err)
	}
	return nil
}
