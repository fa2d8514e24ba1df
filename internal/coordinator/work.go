package coordinator

import (
	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/pkg/protocol"
)

// WorkTasks groups the backlog views an agent acts on.
type WorkTasks struct {
	Todo []models.Task `json:"todo"`
	Mine []models.Task `json:"mine"`
}

// WorkBundle is the one-call snapshot an agent pulls before picking work.
type WorkBundle struct {
	AgentID      string               `json:"agentId"`
	ActiveAgents []string             `json:"activeAgents"`
	Team         []models.Agent       `json:"team"`
	Tasks        WorkTasks            `json:"tasks"`
	RecentChat   []models.ChatMessage `json:"recentChat"`
}

// GetWork promotes the agent to active and returns the work snapshot:
// the online team, unassigned todo tasks, the agent's in-progress tasks,
// and the last 20 chat messages.
func (c *Coordinator) GetWork(agentID string) (*WorkBundle, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}

	c.mu.Lock()
	bundle, agent, err := c.workBundle(agentID)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.events.Broadcast(protocol.NewFrame(protocol.FrameAgentUpdate, agent))
	return bundle, nil
}

func (c *Coordinator) workBundle(agentID string) (*WorkBundle, *models.Agent, error) {
	active := models.AgentStatusActive
	agent, err := c.upsertAgent(agentID, AgentUpdate{Status: &active})
	if err != nil {
		return nil, nil, err
	}

	team, err := c.listAgents(true)
	if err != nil {
		return nil, nil, err
	}
	todo, err := c.listTasks(TaskFilter{Status: models.TaskStatusTodo}, 0)
	if err != nil {
		return nil, nil, err
	}
	mine, err := c.listTasks(TaskFilter{Status: models.TaskStatusInProgress, Assignee: agentID}, 0)
	if err != nil {
		return nil, nil, err
	}
	chat, err := c.tailChat(20)
	if err != nil {
		return nil, nil, err
	}

	activeIDs := make([]string, 0, len(team))
	for _, member := range team {
		activeIDs = append(activeIDs, member.ID)
	}

	return &WorkBundle{
		AgentID:      agentID,
		ActiveAgents: activeIDs,
		Team:         team,
		Tasks:        WorkTasks{Todo: todo, Mine: mine},
		RecentChat:   chat,
	}, agent, nil
}
