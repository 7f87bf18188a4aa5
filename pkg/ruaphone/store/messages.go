// Package store – messages.go implements message persistence. Messages are
// append-only except for explicit text edits and voice audio attached after
// the fact by pre-synthesis.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const messageColumns = `id, chat_id, role, type, content, timestamp, sender_name,
	voice_duration, audio_data, audio_mime, image_url,
	transfer_amount, transfer_note, original_message_id, sticker_url,
	edited, edited_at`

// AppendMessage inserts one message. A missing id or timestamp is filled in.
func (s *Store) AppendMessage(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = s.nextTimestamp()
	} else {
		m.Timestamp = s.claimTimestamp(m.Timestamp)
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Role, m.Type, m.Content, m.Timestamp, m.SenderName,
		m.VoiceDuration, m.AudioData, m.AudioMime, m.ImageURL,
		m.TransferAmount, m.TransferNote, m.OriginalMessageID, m.StickerURL,
		boolToInt(m.Edited), m.EditedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// nextTimestamp returns a unix-millisecond stamp that is strictly greater
// than any stamp handed out before, so back-to-back inserts keep their
// order even within one millisecond.
func (s *Store) nextTimestamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	now := time.Now().UnixMilli()
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

// claimTimestamp registers a caller-supplied stamp, nudging it forward when
// it would tie or precede an already persisted one.
func (s *Store) claimTimestamp(ts int64) int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	if ts <= s.lastStamp {
		ts = s.lastStamp + 1
	}
	s.lastStamp = ts
	return ts
}

// Messages returns every message of a chat in timestamp order.
func (s *Store) Messages(chatID string) ([]Message, error) {
	return s.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? ORDER BY timestamp ASC, id ASC`, chatID)
}

// RecentMessages returns the last n messages of a chat in timestamp order.
// This is the history window handed to the provider, not a server-side cap.
func (s *Store) RecentMessages(chatID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := s.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, chatID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(id string) (Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return m, err
}

// EditTextMessage rewrites the content of a text message and marks it
// edited. Only text messages are user-editable.
func (s *Store) EditTextMessage(id, content string) error {
	res, err := s.db.Exec(`
		UPDATE messages SET content = ?, edited = 1, edited_at = ?
		WHERE id = ? AND type = ?`,
		content, time.Now().UnixMilli(), id, TypeText)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s is not an editable text message: %w", id, ErrNotFound)
	}
	return nil
}

// AttachVoiceAudio lazily attaches synthesized audio to a voice message so
// later playback needs no network call.
func (s *Store) AttachVoiceAudio(id, audioBase64, mime string) error {
	res, err := s.db.Exec(`
		UPDATE messages SET audio_data = ?, audio_mime = ?
		WHERE id = ? AND type = ?`,
		audioBase64, mime, id, TypeVoice)
	if err != nil {
		return fmt.Errorf("attach voice audio: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s is not a voice message: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m      Message
		edited int
	)
	err := row.Scan(&m.ID, &m.ChatID, &m.Role, &m.Type, &m.Content, &m.Timestamp, &m.SenderName,
		&m.VoiceDuration, &m.AudioData, &m.AudioMime, &m.ImageURL,
		&m.TransferAmount, &m.TransferNote, &m.OriginalMessageID, &m.StickerURL,
		&edited, &m.EditedAt)
	if err != nil {
		return Message{}, err
	}
	m.Edited = edited != 0
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
