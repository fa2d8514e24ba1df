package agentstate

import (
	"database/sql"
	"fmt"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// memorySearchLimit caps search results to the most recent entries.
const memorySearchLimit = 50

// AppendMemory stores one memory entry.
func (a *AgentState) AppendMemory(category, content string, tags []string) (*models.MemoryEntry, error) {
	if content == "" {
		return nil, &models.ValidationError{Field: "content"}
	}
	if category == "" {
		category = "general"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := &models.MemoryEntry{
		ID:        store.NewID("mem"),
		Category:  category,
		Content:   content,
		Tags:      tags,
		CreatedAt: a.now().UTC(),
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	err := store.Transact(a.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO memory_entries (id, category, content, tags, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, entry.ID, entry.Category, entry.Content, store.MarshalStrings(entry.Tags), entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert memory entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SearchMemory filters by category (exact) and/or a free-text query
// (substring over content and tags), returning the most recent 50 matches,
// newest first. Empty filters list the most recent entries.
func (a *AgentState) SearchMemory(category, query string) ([]models.MemoryEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sqlQuery := `
		SELECT id, category, content, tags, created_at
		FROM memory_entries
	`
	var (
		conds []string
		args  []any
	)
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if query != "" {
		conds = append(conds, "(content LIKE ? OR tags LIKE ?)")
		like := "%" + query + "%"
		args = append(args, like, like)
	}
	for i, c := range conds {
		if i == 0 {
			sqlQuery += " WHERE " + c
		} else {
			sqlQuery += " AND " + c
		}
	}
	sqlQuery += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, memorySearchLimit)

	rows, err := a.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryEntry
	for rows.Next() {
		var (
			e    models.MemoryEntry
			tags sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Category, &e.Content, &tags, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.Tags = store.UnmarshalStrings(tags)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if out == nil {
		out = []models.MemoryEntry{}
	}
	return out, rows.Err()
}
