package agentstate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// CheckpointUpdate is a partial checkpoint save. Nil fields preserve the
// stored value; non-nil fields overwrite it.
type CheckpointUpdate struct {
	ConversationSummary *string  `json:"conversationSummary"`
	Accomplishments     []string `json:"accomplishments"`
	PendingWork         []string `json:"pendingWork"`
	RecentContext       *string  `json:"recentContext"`
	FilesEdited         []string `json:"filesEdited"`
}

// SaveCheckpoint merges upd into the stored checkpoint at the field level
// and stamps checkpointAt. Returns the merged result.
func (a *AgentState) SaveCheckpoint(upd CheckpointUpdate) (*models.Checkpoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, err := a.readCheckpoint()
	if err != nil {
		return nil, err
	}

	if upd.ConversationSummary != nil {
		cur.ConversationSummary = *upd.ConversationSummary
	}
	if upd.Accomplishments != nil {
		cur.Accomplishments = upd.Accomplishments
	}
	if upd.PendingWork != nil {
		cur.PendingWork = upd.PendingWork
	}
	if upd.RecentContext != nil {
		cur.RecentContext = *upd.RecentContext
	}
	if upd.FilesEdited != nil {
		cur.FilesEdited = upd.FilesEdited
	}
	now := a.now().UTC()
	cur.CheckpointAt = &now

	err = store.Transact(a.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO checkpoint (id, conversation_summary, accomplishments, pending_work, recent_context, files_edited, checkpoint_at)
			VALUES (1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				conversation_summary = excluded.conversation_summary,
				accomplishments = excluded.accomplishments,
				pending_work = excluded.pending_work,
				recent_context = excluded.recent_context,
				files_edited = excluded.files_edited,
				checkpoint_at = excluded.checkpoint_at
		`,
			store.StringArg(cur.ConversationSummary),
			store.MarshalStrings(cur.Accomplishments),
			store.MarshalStrings(cur.PendingWork),
			store.StringArg(cur.RecentContext),
			store.MarshalStrings(cur.FilesEdited),
			now,
		)
		if err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// GetCheckpoint returns the stored checkpoint. An agent that never saved
// one gets an empty checkpoint with a nil checkpointAt.
func (a *AgentState) GetCheckpoint() (*models.Checkpoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readCheckpoint()
}

// readCheckpoint loads the singleton row. Caller holds mu.
func (a *AgentState) readCheckpoint() (*models.Checkpoint, error) {
	row := a.db.QueryRow(`
		SELECT conversation_summary, accomplishments, pending_work, recent_context, files_edited, checkpoint_at
		FROM checkpoint WHERE id = 1
	`)
	var (
		cp              models.Checkpoint
		summary, recent sql.NullString
		accomplishments sql.NullString
		pendingWork     sql.NullString
		filesEdited     sql.NullString
		checkpointAt    sql.NullTime
	)
	err := row.Scan(&summary, &accomplishments, &pendingWork, &recent, &filesEdited, &checkpointAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Checkpoint{
			Accomplishments: []string{},
			PendingWork:     []string{},
			FilesEdited:     []string{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp.ConversationSummary = store.NullString(summary)
	cp.RecentContext = store.NullString(recent)
	cp.Accomplishments = store.UnmarshalStrings(accomplishments)
	cp.PendingWork = store.UnmarshalStrings(pendingWork)
	cp.FilesEdited = store.UnmarshalStrings(filesEdited)
	cp.CheckpointAt = store.NullTime(checkpointAt)
	return &cp, nil
}
