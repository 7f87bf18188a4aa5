// Package store – store.go opens the local SQLite database and walks the
// schema-version migration chain. The single ruaphone.db file holds every
// collection: chats, messages, personas, world facts, provider config,
// global settings, and the moments feed.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// SchemaVersion is the schema version this build reads and writes.
// Opening a database with a higher PRAGMA user_version is a schema conflict.
const SchemaVersion = 5

// migration is one step of the upgrade chain. DDL runs first, then the
// optional backfill mutates existing rows in place.
type migration struct {
	version  int
	name     string
	ddl      string
	backfill func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial chats/messages/config",
		ddl: `
CREATE TABLE IF NOT EXISTS chats (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL,
    created              INTEGER NOT NULL,
    last_message_preview TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS messages (
    id          TEXT PRIMARY KEY,
    chat_id     TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL DEFAULT '',
    timestamp   INTEGER NOT NULL,
    sender_name TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp);
CREATE TABLE IF NOT EXISTS api_config (
    id       TEXT PRIMARY KEY,
    provider TEXT NOT NULL DEFAULT 'openai',
    base_url TEXT NOT NULL DEFAULT '',
    api_key  TEXT NOT NULL DEFAULT '',
    model    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS global_settings (
    id           TEXT PRIMARY KEY,
    max_memory   INTEGER NOT NULL DEFAULT 20,
    user_address TEXT NOT NULL DEFAULT '',
    user_persona TEXT NOT NULL DEFAULT '',
    debug        INTEGER NOT NULL DEFAULT 0,
    custom_css   TEXT NOT NULL DEFAULT ''
);`,
	},
	{
		version: 2,
		name:    "personas and chat kinds",
		ddl: `
CREATE TABLE IF NOT EXISTS personas (
    id      TEXT PRIMARY KEY,
    name    TEXT NOT NULL,
    avatar  TEXT NOT NULL DEFAULT '',
    persona TEXT NOT NULL DEFAULT '',
    memory  TEXT NOT NULL DEFAULT '',
    created INTEGER NOT NULL
);
ALTER TABLE chats ADD COLUMN kind TEXT NOT NULL DEFAULT '';
ALTER TABLE chats ADD COLUMN persona_id TEXT NOT NULL DEFAULT '';
ALTER TABLE chats ADD COLUMN persona_ids TEXT NOT NULL DEFAULT '[]';`,
		backfill: func(tx *sql.Tx) error {
			// Pre-persona chats were all one-on-one.
			_, err := tx.Exec(`UPDATE chats SET kind = ? WHERE kind = ''`, ChatSingle)
			return err
		},
	},
	{
		version: 3,
		name:    "typed messages and world facts",
		ddl: `
ALTER TABLE messages ADD COLUMN type TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN voice_duration INTEGER NOT NULL DEFAULT 0;
ALTER TABLE messages ADD COLUMN audio_data TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN audio_mime TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN image_url TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN transfer_amount REAL NOT NULL DEFAULT 0;
ALTER TABLE messages ADD COLUMN transfer_note TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN original_message_id TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN sticker_url TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN edited INTEGER NOT NULL DEFAULT 0;
ALTER TABLE messages ADD COLUMN edited_at INTEGER NOT NULL DEFAULT 0;
CREATE TABLE IF NOT EXISTS world_facts (
    id      TEXT PRIMARY KEY,
    name    TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    created INTEGER NOT NULL
);`,
		backfill: func(tx *sql.Tx) error {
			_, err := tx.Exec(`UPDATE messages SET type = ? WHERE type = ''`, TypeText)
			return err
		},
	},
	{
		version: 4,
		name:    "moments feed",
		ddl: `
CREATE TABLE IF NOT EXISTS moments (
    id        TEXT PRIMARY KEY,
    user_id   TEXT NOT NULL,
    user_name TEXT NOT NULL,
    content   TEXT NOT NULL DEFAULT '',
    images    TEXT NOT NULL DEFAULT '[]',
    location  TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS moment_comments (
    id        TEXT PRIMARY KEY,
    moment_id TEXT NOT NULL,
    user_id   TEXT NOT NULL,
    user_name TEXT NOT NULL,
    content   TEXT NOT NULL DEFAULT '',
    reply_to  TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moment_comments_mid ON moment_comments(moment_id);
CREATE TABLE IF NOT EXISTS moment_likes (
    id        TEXT PRIMARY KEY,
    moment_id TEXT NOT NULL,
    user_id   TEXT NOT NULL,
    user_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moment_likes_mid ON moment_likes(moment_id);`,
	},
	{
		version: 5,
		name:    "user nickname and prompt overrides",
		ddl: `
ALTER TABLE global_settings ADD COLUMN user_nickname TEXT NOT NULL DEFAULT '';
ALTER TABLE global_settings ADD COLUMN prompt_single TEXT NOT NULL DEFAULT '';
ALTER TABLE global_settings ADD COLUMN prompt_group  TEXT NOT NULL DEFAULT '';`,
	},
}

// collectionsByVersion records which exportable tables each schema version
// declares. Export/import read this registry instead of reflecting over the
// live handle, so they stay testable and degrade gracefully across versions.
var collectionsByVersion = map[int][]string{
	1: {"chats", "messages", "api_config", "global_settings"},
	2: {"personas"},
	3: {"world_facts"},
	4: {"moments", "moment_comments", "moment_likes"},
	5: nil, // settings columns only
}

// CollectionRegistry returns the exportable table names at SchemaVersion,
// in declaration order.
func CollectionRegistry() []string {
	var names []string
	for v := 1; v <= SchemaVersion; v++ {
		names = append(names, collectionsByVersion[v]...)
	}
	return names
}

// SchemaConflictError reports a database written by a newer build. The
// store never auto-destroys data on conflict; callers decide between
// RecoverSchemaConflict and manual resolution.
type SchemaConflictError struct {
	Found     int
	Supported int
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("database schema version %d is newer than supported version %d", e.Found, e.Supported)
}

// Store is the local persistent store. All reads and writes are local and
// synchronous from the pipeline's perspective.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stampMu   sync.Mutex
	lastStamp int64
}

// Open opens (or creates) the database at path and runs the upgrade chain.
// Opening at a newer, unrecognized version returns *SchemaConflictError.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openRaw(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// openRaw opens the SQLite handle without touching the schema.
func openRaw(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// migrate walks the chain from the stored user_version up to SchemaVersion.
// Each step runs in its own transaction; a second open at the same version
// is a no-op.
func (s *Store) migrate() error {
	current, err := s.userVersion()
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return &SchemaConflictError{Found: current, Supported: SchemaVersion}
	}
	if current == SchemaVersion {
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			// Partial migration risks data loss; this is the one place a
			// store failure halts forward progress.
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		s.logger.Info("schema migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.ddl); err != nil {
		return fmt.Errorf("ddl: %w", err)
	}
	if m.backfill != nil {
		if err := m.backfill(tx); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

func (s *Store) userVersion() (int, error) {
	var v int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}
