package coordinator

import (
	"database/sql"
	"fmt"

	"github.com/dotcommander/hive/internal/app"
	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
	"github.com/dotcommander/hive/pkg/protocol"
)

// AppendChat stores a group-chat message and broadcasts it to every push
// subscriber. Empty authorType defaults to agent.
func (c *Coordinator) AppendChat(author string, authorType models.AuthorType, message string) (*models.ChatMessage, error) {
	if author == "" {
		return nil, &models.ValidationError{Field: "author"}
	}
	if message == "" {
		return nil, &models.ValidationError{Field: "message"}
	}
	if authorType == "" {
		authorType = models.AuthorAgent
	}
	switch authorType {
	case models.AuthorAgent, models.AuthorHuman, models.AuthorSystem:
	default:
		return nil, &models.ValidationError{Field: "authorType", Reason: fmt.Sprintf("unknown author type %q", authorType)}
	}

	c.mu.Lock()
	msg, err := c.appendChat(author, authorType, message)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.events.Broadcast(protocol.NewFrame(protocol.FrameChat, msg))
	return msg, nil
}

// TailChat returns the limit most recent messages in chronological order.
func (c *Coordinator) TailChat(limit int) ([]models.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tailChat(limit)
}

// appendChat inserts one message and prunes the tail past the retention
// cap. Caller holds mu.
func (c *Coordinator) appendChat(author string, authorType models.AuthorType, message string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		ID:         store.NewID("msg"),
		Author:     author,
		AuthorType: authorType,
		Message:    message,
		Timestamp:  c.now().UTC(),
		Reactions:  []string{},
	}

	err := store.Transact(c.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO chat_messages (id, author, author_type, message, timestamp, reactions)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.Author, string(msg.AuthorType), msg.Message, msg.Timestamp, store.MarshalStrings(msg.Reactions)); err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}

		// Opportunistic retention prune; advisory, not a correctness bound.
		if _, err := tx.Exec(`
			DELETE FROM chat_messages WHERE id NOT IN (
				SELECT id FROM chat_messages ORDER BY timestamp DESC, id DESC LIMIT ?
			)
		`, app.ChatRetention()); err != nil {
			return fmt.Errorf("prune chat messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// systemLine posts a system-authored chat line recording a state change.
// Caller holds mu; the message is returned for broadcasting after commit.
func (c *Coordinator) systemLine(format string, args ...any) (*models.ChatMessage, error) {
	return c.appendChat("system", models.AuthorSystem, fmt.Sprintf(format, args...))
}

// tailChat loads the newest limit rows and reverses them into
// chronological order. Caller holds mu.
func (c *Coordinator) tailChat(limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.Query(`
		SELECT id, author, author_type, message, timestamp, reactions
		FROM chat_messages
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	out := []models.ChatMessage{}
	for rows.Next() {
		var (
			msg        models.ChatMessage
			authorType string
			reactions  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Author, &authorType, &msg.Message, &msg.Timestamp, &reactions); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.AuthorType = models.AuthorType(authorType)
		msg.Timestamp = msg.Timestamp.UTC()
		msg.Reactions = store.UnmarshalStrings(reactions)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
