package models

import "time"

// ID Strategy:
// - Chat messages, handoffs, escalations use generated string IDs
//   (prefix_<unix_nano>_<hex>, collision-free across agents).
// - Agents, zones, claims, locks are keyed by caller-supplied opaque strings
//   (agentId, zoneId, claim key, resource path).
// All timestamps are UTC.

// AgentStatus is the presence state of a registered agent.
type AgentStatus string

// Agent status constants.
const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusOffline AgentStatus = "offline"
)

// Agent is a registered participant (autonomous or human) in the hub.
type Agent struct {
	ID           string      `json:"agentId"`
	Status       AgentStatus `json:"status"`
	CurrentTask  string      `json:"currentTask,omitempty"`
	WorkingOn    string      `json:"workingOn,omitempty"`
	LastSeen     time.Time   `json:"lastSeen"`
	Capabilities []string    `json:"capabilities"`
	Offers       []string    `json:"offers"`
	Needs        []string    `json:"needs"`
}

// IsOnline returns true if the agent is active or idle.
func (a *Agent) IsOnline() bool {
	return a.Status == AgentStatusActive || a.Status == AgentStatusIdle
}

// AuthorType classifies chat message authors.
type AuthorType string

// Author type constants.
const (
	AuthorAgent  AuthorType = "agent"
	AuthorHuman  AuthorType = "human"
	AuthorSystem AuthorType = "system"
)

// ChatMessage is one entry in the team-wide group chat.
type ChatMessage struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	AuthorType AuthorType `json:"authorType"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Reactions  []string   `json:"reactions"`
}

// TaskStatus represents the current state of a task.
type TaskStatus string

// Task status constants.
const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// IsTerminal returns true if the task has been completed.
func (s TaskStatus) IsTerminal() bool { return s == TaskStatusDone }

// RequiresAssignee returns true for states that must carry a non-empty assignee.
func (s TaskStatus) RequiresAssignee() bool {
	return s == TaskStatusInProgress || s == TaskStatusReview || s == TaskStatusBlocked
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusDone, TaskStatusBlocked:
		return true
	}
	return false
}

// Priority orders tasks and handoffs.
type Priority string

// Priority constants, highest first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to a sortable integer (critical=0 ... low=3).
// Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p.Rank() < 4 }

// Task is a unit of work in the shared backlog.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        TaskStatus `json:"status"`
	Priority      Priority   `json:"priority"`
	Assignee      string     `json:"assignee,omitempty"`
	CreatedBy     string     `json:"createdBy"`
	Tags          []string   `json:"tags"`
	Files         []string   `json:"files"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	PickedUpAt    *time.Time `json:"pickedUpAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	BlockedReason string     `json:"blockedReason,omitempty"`
}

// IsAssigned returns true if the task has an assignee.
func (t *Task) IsAssigned() bool { return t.Assignee != "" }

// Zone is an exclusive write-intent claim on a filesystem prefix.
type Zone struct {
	ZoneID      string    `json:"zoneId"`
	Path        string    `json:"path"`
	Owner       string    `json:"owner"`
	Description string    `json:"description,omitempty"`
	ClaimedAt   time.Time `json:"claimedAt"`
}

// ClaimStaleAfter is how long an unrefreshed claim stays authoritative.
const ClaimStaleAfter = 30 * time.Minute

// Claim is a soft exclusivity marker on a named work item.
type Claim struct {
	What        string    `json:"what"`
	By          string    `json:"by"`
	Description string    `json:"description,omitempty"`
	Since       time.Time `json:"since"`
	Stale       bool      `json:"stale"`
}

// IsStale reports whether the claim has gone unrefreshed past the threshold.
func (c *Claim) IsStale(now time.Time) bool {
	return now.Sub(c.Since) > ClaimStaleAfter
}

// HandoffStatus represents the lifecycle state of a handoff.
type HandoffStatus string

// Handoff status constants.
const (
	HandoffPending   HandoffStatus = "pending"
	HandoffClaimed   HandoffStatus = "claimed"
	HandoffCompleted HandoffStatus = "completed"
)

// Handoff is a structured package of in-progress work passed between agents.
// ToAgent empty means any agent may claim it.
type Handoff struct {
	ID          string        `json:"id"`
	FromAgent   string        `json:"fromAgent"`
	ToAgent     string        `json:"toAgent,omitempty"`
	Title       string        `json:"title"`
	Context     string        `json:"context"`
	Code        string        `json:"code,omitempty"`
	FilePath    string        `json:"filePath,omitempty"`
	NextSteps   []string      `json:"nextSteps"`
	Priority    Priority      `json:"priority"`
	Status      HandoffStatus `json:"status"`
	ClaimedBy   string        `json:"claimedBy,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	ClaimedAt   *time.Time    `json:"claimedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// IsDirected returns true if the handoff targets a specific agent.
func (h *Handoff) IsDirected() bool { return h.ToAgent != "" }
