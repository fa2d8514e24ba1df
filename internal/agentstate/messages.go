package agentstate

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// AppendMessage stores a direct message for this agent. The read flag
// starts false.
func (a *AgentState) AppendMessage(from, msgType, message string) (*models.DirectMessage, error) {
	if from == "" {
		return nil, &models.ValidationError{Field: "from"}
	}
	if message == "" {
		return nil, &models.ValidationError{Field: "message"}
	}
	if msgType == "" {
		msgType = "note"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dm := &models.DirectMessage{
		ID:        store.NewID("msg"),
		From:      from,
		Type:      msgType,
		Message:   message,
		Timestamp: a.now().UTC(),
	}
	err := store.Transact(a.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO messages (id, sender, type, message, read, timestamp)
			VALUES (?, ?, ?, ?, 0, ?)
		`, dm.ID, dm.From, dm.Type, dm.Message, dm.Timestamp)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dm, nil
}

// ListMessages returns the most recent messages in chronological order.
// unreadOnly filters to messages not yet marked read.
func (a *AgentState) ListMessages(unreadOnly bool, limit int) ([]models.DirectMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	query := `
		SELECT id, sender, type, message, read, timestamp
		FROM messages
	`
	if unreadOnly {
		query += ` WHERE read = 0`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := a.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.DirectMessage
	for rows.Next() {
		var m models.DirectMessage
		if err := rows.Scan(&m.ID, &m.From, &m.Type, &m.Message, &m.Read, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-N, oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []models.DirectMessage{}
	}
	return out, nil
}

// MarkMessagesRead flags the given message ids as read. Returns how many
// rows changed; unknown ids are ignored.
func (a *AgentState) MarkMessagesRead(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, &models.ValidationError{Field: "ids"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var updated int
	err := store.Transact(a.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE messages SET read = 1 WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return fmt.Errorf("mark messages read: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		updated = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
