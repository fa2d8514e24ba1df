package coordinator

import (
	"fmt"
	"log/slog"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/internal/models"
)

// Suggested-task kinds, in selection priority order.
const (
	SuggestResume    = "resume"
	SuggestHandoff   = "handoff"
	SuggestTask      = "task"
	SuggestIntroduce = "introduce"
)

// SuggestedTask is the single next action the onboarding aggregator picks.
type SuggestedTask struct {
	Type       string          `json:"type"`
	Task       string          `json:"task"`
	Reason     string          `json:"reason"`
	XPEstimate int             `json:"xpEstimate"`
	Priority   models.Priority `json:"priority"`
	TaskID     string          `json:"taskId,omitempty"`
	HandoffID  string          `json:"handoffId,omitempty"`
}

// TeammateFlow is one online team member with their flow classification.
type TeammateFlow struct {
	AgentID     string             `json:"agentId"`
	Status      models.AgentStatus `json:"status"`
	WorkingOn   string             `json:"workingOn,omitempty"`
	Flow        string             `json:"flow"`
	RespectFlow bool               `json:"respectFlow"`
}

// OnboardBundle is everything an agent needs to start (or resume) a session.
type OnboardBundle struct {
	AgentID       string                `json:"agentId"`
	IsNew         bool                  `json:"isNew"`
	Soul          *models.Soul          `json:"soul,omitempty"`
	Checkpoint    *models.Checkpoint    `json:"checkpoint,omitempty"`
	Dashboard     *agentstate.Dashboard `json:"dashboard,omitempty"`
	Team          []TeammateFlow        `json:"team"`
	SuggestedTask *SuggestedTask        `json:"suggestedTask"`
	RecentChat    []models.ChatMessage  `json:"recentChat"`
}

// Onboard builds the session-start bundle for agentID. AgentState lookups
// are best-effort: a failing per-agent singleton costs that sub-bundle,
// never the whole call.
func (c *Coordinator) Onboard(agentID string) (*OnboardBundle, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// First contact registers the agent; lastSeen advances on every visit.
	if _, err := c.upsertAgent(agentID, AgentUpdate{}); err != nil {
		return nil, err
	}

	bundle := &OnboardBundle{AgentID: agentID, Team: []TeammateFlow{}}
	c.attachAgentBundle(agentID, bundle)

	team, err := c.listAgents(true)
	if err != nil {
		return nil, err
	}
	for _, member := range team {
		if member.ID == agentID {
			continue
		}
		bundle.Team = append(bundle.Team, c.teammateFlow(member))
	}

	suggested, err := c.suggestTask(agentID, bundle.Checkpoint)
	if err != nil {
		return nil, err
	}
	bundle.SuggestedTask = suggested

	chat, err := c.tailChat(5)
	if err != nil {
		return nil, err
	}
	bundle.RecentChat = chat

	return bundle, nil
}

// attachAgentBundle fills soul/checkpoint/dashboard from the agent's own
// singleton. A fresh novice soul marks the agent as new.
func (c *Coordinator) attachAgentBundle(agentID string, bundle *OnboardBundle) {
	if c.agents == nil {
		return
	}
	state, err := c.agents.Get(agentID)
	if err != nil {
		slog.Warn("onboard: agent state unavailable", "agent", agentID, "error", err)
		return
	}

	soul, created, err := state.GetOrCreateSoul()
	if err != nil {
		slog.Warn("onboard: soul unavailable", "agent", agentID, "error", err)
		return
	}
	bundle.Soul = soul
	bundle.IsNew = created

	// A checkpoint may predate the soul (saved via the agent's own state
	// before ever onboarding), so fetch it regardless of IsNew.
	if cp, err := state.GetCheckpoint(); err != nil {
		slog.Warn("onboard: checkpoint unavailable", "agent", agentID, "error", err)
	} else {
		bundle.Checkpoint = cp
	}
	if d, err := state.GetDashboard(); err != nil {
		slog.Warn("onboard: dashboard unavailable", "agent", agentID, "error", err)
	} else {
		bundle.Dashboard = d
	}
}

// teammateFlow annotates one online member with their flow state; a
// failing AgentState leaves the flow unknown-as-available.
func (c *Coordinator) teammateFlow(member models.Agent) TeammateFlow {
	tf := TeammateFlow{
		AgentID:   member.ID,
		Status:    member.Status,
		WorkingOn: member.WorkingOn,
		Flow:      agentstate.FlowAvailable,
	}
	if c.agents == nil {
		return tf
	}
	state, err := c.agents.Get(member.ID)
	if err != nil {
		return tf
	}
	flow, err := state.GetFlowState()
	if err != nil {
		return tf
	}
	tf.Flow = flow.State
	tf.RespectFlow = flow.RespectFlow
	return tf
}

// suggestTask picks the single suggested task: resume a checkpoint, claim
// a pending handoff, take the first unassigned todo, or introduce
// yourself. Caller holds mu.
func (c *Coordinator) suggestTask(agentID string, cp *models.Checkpoint) (*SuggestedTask, error) {
	if cp.HasContent() {
		task := cp.ConversationSummary
		if len(cp.PendingWork) > 0 {
			task = cp.PendingWork[0]
		}
		return &SuggestedTask{
			Type:       SuggestResume,
			Task:       task,
			Reason:     "Continue where your previous session left off.",
			XPEstimate: 30,
			Priority:   models.PriorityHigh,
		}, nil
	}

	handoffs, err := c.listHandoffs(models.HandoffPending, agentID, 1)
	if err != nil {
		return nil, err
	}
	if len(handoffs) > 0 {
		h := handoffs[0]
		return &SuggestedTask{
			Type:       SuggestHandoff,
			Task:       h.Title,
			Reason:     fmt.Sprintf("%s handed this off with full context.", h.FromAgent),
			XPEstimate: 50,
			Priority:   models.PriorityMedium,
			HandoffID:  h.ID,
		}, nil
	}

	todos, err := c.listTasks(TaskFilter{Status: models.TaskStatusTodo}, 0)
	if err != nil {
		return nil, err
	}
	for _, t := range todos {
		if t.IsAssigned() {
			continue
		}
		return &SuggestedTask{
			Type:       SuggestTask,
			Task:       t.Title,
			Reason:     "Highest-priority unassigned task in the backlog.",
			XPEstimate: 25,
			Priority:   t.Priority,
			TaskID:     t.ID,
		}, nil
	}

	return &SuggestedTask{
		Type:       SuggestIntroduce,
		Task:       "Introduce yourself in the team chat",
		Reason:     "The backlog is clear; let the team know you are online.",
		XPEstimate: 10,
		Priority:   models.PriorityLow,
	}, nil
}
