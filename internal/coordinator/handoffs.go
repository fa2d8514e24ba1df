package coordinator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
	"github.com/dotcommander/hive/pkg/protocol"
)

// HandoffCreate carries the fields of a new handoff. An empty ToAgent
// leaves the handoff claimable by anyone.
type HandoffCreate struct {
	FromAgent string          `json:"fromAgent"`
	ToAgent   string          `json:"toAgent"`
	Title     string          `json:"title"`
	Context   string          `json:"context"`
	Code      string          `json:"code"`
	FilePath  string          `json:"filePath"`
	NextSteps []string        `json:"nextSteps"`
	Priority  models.Priority `json:"priority"`
}

// CreateHandoff packages in-progress work for another agent (or anyone).
func (c *Coordinator) CreateHandoff(in HandoffCreate) (*models.Handoff, error) {
	if in.FromAgent == "" {
		return nil, &models.ValidationError{Field: "fromAgent"}
	}
	if in.Title == "" {
		return nil, &models.ValidationError{Field: "title"}
	}
	if in.Context == "" {
		return nil, &models.ValidationError{Field: "context"}
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, &models.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", in.Priority)}
	}

	handoff := &models.Handoff{
		ID:        store.NewID("handoff"),
		FromAgent: in.FromAgent,
		ToAgent:   in.ToAgent,
		Title:     in.Title,
		Context:   in.Context,
		Code:      in.Code,
		FilePath:  in.FilePath,
		NextSteps: emptyIfNil(in.NextSteps),
		Priority:  in.Priority,
		Status:    models.HandoffPending,
	}

	c.mu.Lock()
	handoff.CreatedAt = c.nowUTC()
	err := c.writeHandoff(handoff)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionHandoffCreated, Handoff: handoff})
	return handoff, nil
}

// ClaimHandoff assigns a pending handoff to agentID. Directed handoffs
// may only be claimed by their target.
func (c *Coordinator) ClaimHandoff(handoffID, agentID string) (*models.Handoff, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}

	c.mu.Lock()
	handoff, err := c.claimHandoff(handoffID, agentID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionHandoffClaimed, Handoff: handoff})
	return handoff, nil
}

func (c *Coordinator) claimHandoff(handoffID, agentID string) (*models.Handoff, error) {
	handoff, err := c.readHandoff(handoffID)
	if err != nil {
		return nil, err
	}
	if handoff.Status != models.HandoffPending {
		return nil, &models.StateError{Entity: "handoff", ID: handoffID, Status: string(handoff.Status), Action: "claim"}
	}
	if handoff.IsDirected() && handoff.ToAgent != agentID {
		return nil, &models.OwnershipError{Entity: "handoff", ID: handoffID, Owner: handoff.ToAgent, RequestedBy: agentID}
	}

	now := c.nowUTC()
	handoff.Status = models.HandoffClaimed
	handoff.ClaimedBy = agentID
	handoff.ClaimedAt = &now

	if err := c.writeHandoff(handoff); err != nil {
		return nil, err
	}
	return handoff, nil
}

// CompleteHandoff closes a claimed handoff. Only the claimant may complete.
func (c *Coordinator) CompleteHandoff(handoffID, agentID string) (*models.Handoff, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}

	c.mu.Lock()
	handoff, err := c.completeHandoff(handoffID, agentID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionHandoffComplete, Handoff: handoff})
	return handoff, nil
}

func (c *Coordinator) completeHandoff(handoffID, agentID string) (*models.Handoff, error) {
	handoff, err := c.readHandoff(handoffID)
	if err != nil {
		return nil, err
	}
	if handoff.Status != models.HandoffClaimed {
		return nil, &models.StateError{Entity: "handoff", ID: handoffID, Status: string(handoff.Status), Action: "complete"}
	}
	if handoff.ClaimedBy != agentID {
		return nil, &models.OwnershipError{Entity: "handoff", ID: handoffID, Owner: handoff.ClaimedBy, RequestedBy: agentID}
	}

	now := c.nowUTC()
	handoff.Status = models.HandoffCompleted
	handoff.CompletedAt = &now

	if err := c.writeHandoff(handoff); err != nil {
		return nil, err
	}
	return handoff, nil
}

// GetHandoff returns one handoff.
func (c *Coordinator) GetHandoff(handoffID string) (*models.Handoff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readHandoff(handoffID)
}

// ListHandoffs returns handoffs newest first, optionally filtered by status.
func (c *Coordinator) ListHandoffs(status models.HandoffStatus) ([]models.Handoff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listHandoffs(status, "", 0)
}

// PendingHandoffsFor returns the pending handoffs agentID could claim:
// undirected ones plus those directed at it, newest first.
func (c *Coordinator) PendingHandoffsFor(agentID string, limit int) ([]models.Handoff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listHandoffs(models.HandoffPending, agentID, limit)
}

// listHandoffs loads handoffs newest first. A non-empty claimable filters
// to handoffs that agent may claim; a limit of 0 means no limit. Caller
// holds mu.
func (c *Coordinator) listHandoffs(status models.HandoffStatus, claimable string, limit int) ([]models.Handoff, error) {
	query := `
		SELECT id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at
		FROM handoffs WHERE 1=1
	`
	args := []any{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if claimable != "" {
		query += ` AND (to_agent IS NULL OR to_agent = ?)`
		args = append(args, claimable)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query handoffs: %w", err)
	}
	defer rows.Close()

	out := []models.Handoff{}
	for rows.Next() {
		h, err := scanHandoffRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// writeHandoff upserts the full row. Caller holds mu.
func (c *Coordinator) writeHandoff(h *models.Handoff) error {
	_, err := c.db.Exec(`
		INSERT INTO handoffs (id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			claimed_by = excluded.claimed_by,
			claimed_at = excluded.claimed_at,
			completed_at = excluded.completed_at
	`,
		h.ID, h.FromAgent, store.StringArg(h.ToAgent), h.Title, h.Context,
		store.StringArg(h.Code), store.StringArg(h.FilePath),
		store.MarshalStrings(h.NextSteps), string(h.Priority), string(h.Status),
		store.StringArg(h.ClaimedBy), h.CreatedAt,
		store.TimeArg(h.ClaimedAt), store.TimeArg(h.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert handoff %s: %w", h.ID, err)
	}
	return nil
}

// readHandoff loads one handoff. Caller holds mu.
func (c *Coordinator) readHandoff(handoffID string) (*models.Handoff, error) {
	row := c.db.QueryRow(`
		SELECT id, from_agent, to_agent, title, context, code, file_path, next_steps, priority, status, claimed_by, created_at, claimed_at, completed_at
		FROM handoffs WHERE id = ?
	`, handoffID)
	h, err := scanHandoffRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "handoff", ID: handoffID}
	}
	return h, err
}

func scanHandoffRow(row interface{ Scan(dest ...any) error }) (*models.Handoff, error) {
	var (
		h                       models.Handoff
		toAgent, code, filePath sql.NullString
		nextSteps, claimedBy    sql.NullString
		priority, status        string
		claimedAt, completedAt  sql.NullTime
	)
	if err := row.Scan(
		&h.ID, &h.FromAgent, &toAgent, &h.Title, &h.Context, &code, &filePath,
		&nextSteps, &priority, &status, &claimedBy, &h.CreatedAt, &claimedAt, &completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan handoff: %w", err)
	}
	h.ToAgent = store.NullString(toAgent)
	h.Code = store.NullString(code)
	h.FilePath = store.NullString(filePath)
	h.NextSteps = store.UnmarshalStrings(nextSteps)
	h.Priority = models.Priority(priority)
	h.Status = models.HandoffStatus(status)
	h.ClaimedBy = store.NullString(claimedBy)
	h.CreatedAt = h.CreatedAt.UTC()
	h.ClaimedAt = store.NullTime(claimedAt)
	h.CompletedAt = store.NullTime(completedAt)
	return &h, nil
}
