// Package store – moments.go persists the moments feed. The engine never
// renders the feed; these collections exist so backups and the migration
// chain cover the full local dataset.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddMoment stores one feed post.
func (s *Store) AddMoment(userID, userName, content string, images []string, location string) (Moment, error) {
	m := Moment{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserName:  userName,
		Content:   content,
		Images:    images,
		Location:  location,
		Timestamp: time.Now().UnixMilli(),
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return Moment{}, fmt.Errorf("encode moment images: %w", err)
	}
	if images == nil {
		encoded = []byte("[]")
	}
	_, err = s.db.Exec(`
		INSERT INTO moments (id, user_id, user_name, content, images, location, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.UserName, m.Content, string(encoded), m.Location, m.Timestamp)
	if err != nil {
		return Moment{}, fmt.Errorf("insert moment: %w", err)
	}
	return m, nil
}

// ListMoments returns all moments, newest first.
func (s *Store) ListMoments() ([]Moment, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, user_name, content, images, location, timestamp
		FROM moments ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list moments: %w", err)
	}
	defer rows.Close()

	var out []Moment
	for rows.Next() {
		var (
			m   Moment
			raw string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.UserName, &m.Content, &raw, &m.Location, &m.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &m.Images); err != nil {
			return nil, fmt.Errorf("decode moment images for %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMomentComment stores a comment on a moment.
func (s *Store) AddMomentComment(momentID, userID, userName, content, replyTo string) (MomentComment, error) {
	c := MomentComment{
		ID:        uuid.NewString(),
		MomentID:  momentID,
		UserID:    userID,
		UserName:  userName,
		Content:   content,
		ReplyTo:   replyTo,
		Timestamp: time.Now().UnixMilli(),
	}
	_, err := s.db.Exec(`
		INSERT INTO moment_comments (id, moment_id, user_id, user_name, content, reply_to, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MomentID, c.UserID, c.UserName, c.Content, c.ReplyTo, c.Timestamp)
	if err != nil {
		return MomentComment{}, fmt.Errorf("insert moment comment: %w", err)
	}
	return c, nil
}

// ToggleMomentLike adds the user's like, or removes it when present.
// Returns true when the moment ends up liked.
func (s *Store) ToggleMomentLike(momentID, userID, userName string) (bool, error) {
	var existing string
	err := s.db.QueryRow(`
		SELECT id FROM moment_likes WHERE moment_id = ? AND user_id = ?`,
		momentID, userID).Scan(&existing)
	switch {
	case err == nil:
		if _, err := s.db.Exec(`DELETE FROM moment_likes WHERE id = ?`, existing); err != nil {
			return false, fmt.Errorf("remove like: %w", err)
		}
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("check like: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO moment_likes (id, moment_id, user_id, user_name, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), momentID, userID, userName, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert like: %w", err)
	}
	return true, nil
}

// MomentComments returns the comments of one moment in timestamp order.
func (s *Store) MomentComments(momentID string) ([]MomentComment, error) {
	rows, err := s.db.Query(`
		SELECT id, moment_id, user_id, user_name, content, reply_to, timestamp
		FROM moment_comments WHERE moment_id = ? ORDER BY timestamp ASC`, momentID)
	if err != nil {
		return nil, fmt.Errorf("list moment comments: %w", err)
	}
	defer rows.Close()

	var out []MomentComment
	for rows.Next() {
		var c MomentComment
		if err := rows.Scan(&c.ID, &c.MomentID, &c.UserID, &c.UserName, &c.Content, &c.ReplyTo, &c.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
