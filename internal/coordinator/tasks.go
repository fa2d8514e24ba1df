package coordinator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
	"github.com/dotcommander/hive/pkg/protocol"
)

// taskSortOrder lists tasks by priority (critical first), then newest.
const taskSortOrder = `
	ORDER BY CASE priority
		WHEN 'critical' THEN 0
		WHEN 'high' THEN 1
		WHEN 'medium' THEN 2
		WHEN 'low' THEN 3
		ELSE 4
	END, created_at DESC
`

// TaskCreate carries the fields of a new task.
type TaskCreate struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    models.Priority   `json:"priority"`
	Status      models.TaskStatus `json:"status"`
	Assignee    string            `json:"assignee"`
	CreatedBy   string            `json:"createdBy"`
	Tags        []string          `json:"tags"`
	Files       []string          `json:"files"`
}

// TaskPatch carries a plain field-level task update. Nil preserves.
type TaskPatch struct {
	Title         *string            `json:"title,omitempty"`
	Description   *string            `json:"description,omitempty"`
	Status        *models.TaskStatus `json:"status,omitempty"`
	Priority      *models.Priority   `json:"priority,omitempty"`
	Assignee      *string            `json:"assignee,omitempty"`
	Tags          []string           `json:"tags,omitempty"`
	Files         []string           `json:"files,omitempty"`
	BlockedReason *string            `json:"blockedReason,omitempty"`
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status   models.TaskStatus
	Assignee string
}

// CreateTask adds a task to the shared backlog.
func (c *Coordinator) CreateTask(in TaskCreate) (*models.Task, error) {
	if in.Title == "" {
		return nil, &models.ValidationError{Field: "title"}
	}
	if in.CreatedBy == "" {
		return nil, &models.ValidationError{Field: "createdBy"}
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, &models.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", in.Priority)}
	}
	if in.Status == "" {
		in.Status = models.TaskStatusTodo
	}
	if !in.Status.Valid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", in.Status)}
	}
	if in.Status.RequiresAssignee() && in.Assignee == "" {
		return nil, &models.ValidationError{Field: "assignee", Reason: fmt.Sprintf("status %q requires an assignee", in.Status)}
	}
	if in.Status.IsTerminal() {
		return nil, &models.ValidationError{Field: "status", Reason: "a task cannot be created done"}
	}

	now := c.nowUTC()
	task := &models.Task{
		ID:          store.NewID("task"),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Assignee:    in.Assignee,
		CreatedBy:   in.CreatedBy,
		Tags:        emptyIfNil(in.Tags),
		Files:       emptyIfNil(in.Files),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	c.mu.Lock()
	err := c.writeTask(c.db, task)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionTaskCreated, Task: task})
	return task, nil
}

// PatchTask applies a plain field update, enforcing the invariants the
// action verbs normally uphold.
func (c *Coordinator) PatchTask(taskID string, patch TaskPatch) (*models.Task, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *patch.Status)}
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, &models.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", *patch.Priority)}
	}

	c.mu.Lock()
	task, err := c.patchTask(taskID, patch)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionTaskUpdated, Task: task})
	return task, nil
}

func (c *Coordinator) patchTask(taskID string, patch TaskPatch) (*models.Task, error) {
	task, err := c.readTask(taskID)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		if *patch.Title == "" {
			return nil, &models.ValidationError{Field: "title"}
		}
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.Assignee != nil {
		task.Assignee = *patch.Assignee
	}
	if patch.Tags != nil {
		task.Tags = patch.Tags
	}
	if patch.Files != nil {
		task.Files = patch.Files
	}
	if patch.BlockedReason != nil {
		task.BlockedReason = *patch.BlockedReason
	}
	if patch.Status != nil && *patch.Status != task.Status {
		task.Status = *patch.Status
		switch {
		case task.Status == models.TaskStatusDone:
			done := c.nowUTC()
			task.CompletedAt = &done
		default:
			task.CompletedAt = nil
		}
		if task.Status == models.TaskStatusTodo {
			task.PickedUpAt = nil
		}
	}

	if task.Status.RequiresAssignee() && task.Assignee == "" {
		return nil, &models.ValidationError{Field: "assignee", Reason: fmt.Sprintf("status %q requires an assignee", task.Status)}
	}
	task.UpdatedAt = c.nowUTC()

	if err := c.writeTask(c.db, task); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask returns one task.
func (c *Coordinator) GetTask(taskID string) (*models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readTask(taskID)
}

// ListTasks returns tasks by priority then recency.
func (c *Coordinator) ListTasks(filter TaskFilter) ([]models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listTasks(filter, 0)
}

// PickupTask moves a todo task to in-progress for agentID. A repeated
// pickup by the current assignee is a no-op; any other contention returns
// the current assignee to the caller.
func (c *Coordinator) PickupTask(taskID, agentID string) (*models.Task, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}

	c.mu.Lock()
	task, line, err := c.pickupTask(taskID, agentID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if line != nil {
		c.events.Broadcast(protocol.NewFrame(protocol.FrameChat, line))
		c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionTaskUpdated, Task: task})
	}
	return task, nil
}

func (c *Coordinator) pickupTask(taskID, agentID string) (*models.Task, *models.ChatMessage, error) {
	task, err := c.readTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Assignee == agentID && task.Status == models.TaskStatusInProgress {
		return task, nil, nil
	}
	if task.IsAssigned() && task.Assignee != agentID {
		return nil, nil, &models.ContentionError{Entity: "task", ID: taskID, Owner: task.Assignee, RequestedBy: agentID}
	}
	if task.Status != models.TaskStatusTodo {
		return nil, nil, &models.StateError{Entity: "task", ID: taskID, Status: string(task.Status), Action: "pickup"}
	}

	now := c.nowUTC()
	task.Assignee = agentID
	task.Status = models.TaskStatusInProgress
	task.PickedUpAt = &now
	task.UpdatedAt = now

	if err := c.writeTask(c.db, task); err != nil {
		return nil, nil, err
	}
	line, err := c.systemLine("%s picked up task %q", agentID, task.Title)
	if err != nil {
		return nil, nil, err
	}
	return task, line, nil
}

// CompleteTask marks an in-progress task done. Only the assignee may
// complete.
func (c *Coordinator) CompleteTask(taskID, agentID string) (*models.Task, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}

	c.mu.Lock()
	task, line, err := c.completeTask(taskID, agentID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.events.Broadcast(protocol.NewFrame(protocol.FrameChat, line))
	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionTaskUpdated, Task: task})
	return task, nil
}

func (c *Coordinator) completeTask(taskID, agentID string) (*models.Task, *models.ChatMessage, error) {
	task, err := c.readTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Assignee != agentID {
		return nil, nil, &models.OwnershipError{Entity: "task", ID: taskID, Owner: task.Assignee, RequestedBy: agentID}
	}
	if task.Status.IsTerminal() {
		return nil, nil, &models.StateError{Entity: "task", ID: taskID, Status: string(task.Status), Action: "complete"}
	}

	now := c.nowUTC()
	task.Status = models.TaskStatusDone
	task.CompletedAt = &now
	task.UpdatedAt = now
	task.BlockedReason = ""

	if err := c.writeTask(c.db, task); err != nil {
		return nil, nil, err
	}
	line, err := c.systemLine("%s completed task %q", agentID, task.Title)
	if err != nil {
		return nil, nil, err
	}
	return task, line, nil
}

// BlockTask marks a task blocked with a reason. An unassigned task is
// assigned to the blocking agent so the blocked state keeps an owner.
func (c *Coordinator) BlockTask(taskID, agentID, reason string) (*models.Task, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}
	if reason == "" {
		return nil, &models.ValidationError{Field: "reason"}
	}

	c.mu.Lock()
	task, err := c.blockTask(taskID, agentID, reason)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionTaskUpdated, Task: task})
	return task, nil
}

func (c *Coordinator) blockTask(taskID, agentID, reason string) (*models.Task, error) {
	task, err := c.readTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, &models.StateError{Entity: "task", ID: taskID, Status: string(task.Status), Action: "block"}
	}

	task.Status = models.TaskStatusBlocked
	task.BlockedReason = reason
	if task.Assignee == "" {
		task.Assignee = agentID
	}
	task.UpdatedAt = c.nowUTC()

	if err := c.writeTask(c.db, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ReleaseTask returns a task to the todo pool. Only the assignee may
// release.
func (c *Coordinator) ReleaseTask(taskID, agentID string) (*models.Task, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}

	c.mu.Lock()
	task, err := c.releaseTask(taskID, agentID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.broadcastTaskUpdate(taskEvent{Action: protocol.ActionTaskUpdated, Task: task})
	return task, nil
}

func (c *Coordinator) releaseTask(taskID, agentID string) (*models.Task, error) {
	task, err := c.readTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Assignee != agentID {
		return nil, &models.OwnershipError{Entity: "task", ID: taskID, Owner: task.Assignee, RequestedBy: agentID}
	}
	if task.Status.IsTerminal() {
		return nil, &models.StateError{Entity: "task", ID: taskID, Status: string(task.Status), Action: "release"}
	}

	task.Assignee = ""
	task.Status = models.TaskStatusTodo
	task.PickedUpAt = nil
	task.BlockedReason = ""
	task.UpdatedAt = c.nowUTC()

	if err := c.writeTask(c.db, task); err != nil {
		return nil, err
	}
	return task, nil
}

// writeTask upserts the full row. Caller holds mu.
func (c *Coordinator) writeTask(q store.Querier, task *models.Task) error {
	_, err := q.Exec(`
		INSERT INTO tasks (id, title, description, status, priority, assignee, created_by, tags, files, created_at, updated_at, picked_up_at, completed_at, blocked_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assignee = excluded.assignee,
			tags = excluded.tags,
			files = excluded.files,
			updated_at = excluded.updated_at,
			picked_up_at = excluded.picked_up_at,
			completed_at = excluded.completed_at,
			blocked_reason = excluded.blocked_reason
	`,
		task.ID, task.Title, store.StringArg(task.Description),
		string(task.Status), string(task.Priority),
		store.StringArg(task.Assignee), task.CreatedBy,
		store.MarshalStrings(task.Tags), store.MarshalStrings(task.Files),
		task.CreatedAt, task.UpdatedAt,
		store.TimeArg(task.PickedUpAt), store.TimeArg(task.CompletedAt),
		store.StringArg(task.BlockedReason),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	return nil
}

// readTask loads one task. Caller holds mu.
func (c *Coordinator) readTask(taskID string) (*models.Task, error) {
	row := c.db.QueryRow(`
		SELECT id, title, description, status, priority, assignee, created_by, tags, files, created_at, updated_at, picked_up_at, completed_at, blocked_reason
		FROM tasks WHERE id = ?
	`, taskID)
	task, err := scanTaskRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "task", ID: taskID}
	}
	return task, err
}

// listTasks loads tasks matching filter in list order. A limit of 0 means
// no limit. Caller holds mu.
func (c *Coordinator) listTasks(filter TaskFilter, limit int) ([]models.Task, error) {
	query := `
		SELECT id, title, description, status, priority, assignee, created_by, tags, files, created_at, updated_at, picked_up_at, completed_at, blocked_reason
		FROM tasks WHERE 1=1
	`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Assignee != "" {
		query += ` AND assignee = ?`
		args = append(args, filter.Assignee)
	}
	query += taskSortOrder
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	out := []models.Task{}
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

func scanTaskRow(row interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		task                       models.Task
		description, assignee      sql.NullString
		status, priority           string
		tags, files, blockedReason sql.NullString
		pickedUpAt, completedAt    sql.NullTime
	)
	if err := row.Scan(
		&task.ID, &task.Title, &description, &status, &priority, &assignee, &task.CreatedBy,
		&tags, &files, &task.CreatedAt, &task.UpdatedAt, &pickedUpAt, &completedAt, &blockedReason,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Description = store.NullString(description)
	task.Status = models.TaskStatus(status)
	task.Priority = models.Priority(priority)
	task.Assignee = store.NullString(assignee)
	task.Tags = store.UnmarshalStrings(tags)
	task.Files = store.UnmarshalStrings(files)
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	task.PickedUpAt = store.NullTime(pickedUpAt)
	task.CompletedAt = store.NullTime(completedAt)
	task.BlockedReason = store.NullString(blockedReason)
	return &task, nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
