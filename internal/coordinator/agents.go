package coordinator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
	"github.com/dotcommander/hive/pkg/protocol"
)

// AgentUpdate carries the fields of an agent upsert. Nil pointers and nil
// slices preserve the stored value; lastSeen always advances.
type AgentUpdate struct {
	Status       *models.AgentStatus `json:"status,omitempty"`
	CurrentTask  *string             `json:"currentTask,omitempty"`
	WorkingOn    *string             `json:"workingOn,omitempty"`
	Capabilities []string            `json:"capabilities,omitempty"`
	Offers       []string            `json:"offers,omitempty"`
	Needs        []string            `json:"needs,omitempty"`
}

// UpsertAgent merges upd into the agent's record, creating it on first
// contact. Emits an agent-update frame.
func (c *Coordinator) UpsertAgent(agentID string, upd AgentUpdate) (*models.Agent, error) {
	if agentID == "" {
		return nil, &models.ValidationError{Field: "agentId"}
	}
	if upd.Status != nil {
		switch *upd.Status {
		case models.AgentStatusActive, models.AgentStatusIdle, models.AgentStatusOffline:
		default:
			return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *upd.Status)}
		}
	}

	c.mu.Lock()
	agent, err := c.upsertAgent(agentID, upd)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.events.Broadcast(protocol.NewFrame(protocol.FrameAgentUpdate, agent))
	return agent, nil
}

// MarkOffline transitions an agent to offline (push-channel close).
// Unknown agents are a no-op.
func (c *Coordinator) MarkOffline(agentID string) error {
	c.mu.Lock()
	agent, err := c.readAgent(agentID)
	if err == nil && agent != nil {
		agent.Status = models.AgentStatusOffline
		agent.LastSeen = c.now().UTC()
		err = c.writeAgent(agent)
	}
	c.mu.Unlock()
	if err != nil || agent == nil {
		return err
	}

	c.events.Broadcast(protocol.NewFrame(protocol.FrameAgentUpdate, agent))
	return nil
}

// TouchAgent refreshes lastSeen without changing anything else (ping).
func (c *Coordinator) TouchAgent(agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.upsertAgent(agentID, AgentUpdate{})
	return err
}

// GetAgent returns one agent record.
func (c *Coordinator) GetAgent(agentID string) (*models.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, err := c.readAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, &models.NotFoundError{Entity: "agent", ID: agentID}
	}
	return agent, nil
}

// ListAgents returns agents most recently seen first. With onlineOnly set,
// offline agents are filtered out.
func (c *Coordinator) ListAgents(onlineOnly bool) ([]models.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listAgents(onlineOnly)
}

// upsertAgent merges and writes one agent row. Caller holds mu.
func (c *Coordinator) upsertAgent(agentID string, upd AgentUpdate) (*models.Agent, error) {
	agent, err := c.readAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		agent = &models.Agent{
			ID:           agentID,
			Status:       models.AgentStatusActive,
			Capabilities: []string{},
			Offers:       []string{},
			Needs:        []string{},
		}
	}

	if upd.Status != nil {
		agent.Status = *upd.Status
	}
	if upd.CurrentTask != nil {
		agent.CurrentTask = *upd.CurrentTask
	}
	if upd.WorkingOn != nil {
		agent.WorkingOn = *upd.WorkingOn
	}
	if upd.Capabilities != nil {
		agent.Capabilities = upd.Capabilities
	}
	if upd.Offers != nil {
		agent.Offers = upd.Offers
	}
	if upd.Needs != nil {
		agent.Needs = upd.Needs
	}
	agent.LastSeen = c.now().UTC()

	if err := c.writeAgent(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// writeAgent upserts the full row. Caller holds mu.
func (c *Coordinator) writeAgent(agent *models.Agent) error {
	_, err := c.db.Exec(`
		INSERT INTO agents (agent_id, status, current_task, working_on, last_seen, capabilities, offers, needs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			current_task = excluded.current_task,
			working_on = excluded.working_on,
			last_seen = excluded.last_seen,
			capabilities = excluded.capabilities,
			offers = excluded.offers,
			needs = excluded.needs
	`,
		agent.ID, string(agent.Status),
		store.StringArg(agent.CurrentTask), store.StringArg(agent.WorkingOn),
		agent.LastSeen,
		store.MarshalStrings(agent.Capabilities), store.MarshalStrings(agent.Offers), store.MarshalStrings(agent.Needs),
	)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", agent.ID, err)
	}
	return nil
}

// readAgent loads one row, nil when absent. Caller holds mu.
func (c *Coordinator) readAgent(agentID string) (*models.Agent, error) {
	row := c.db.QueryRow(`
		SELECT agent_id, status, current_task, working_on, last_seen, capabilities, offers, needs
		FROM agents WHERE agent_id = ?
	`, agentID)
	agent, err := scanAgentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return agent, err
}

// listAgents loads every row, most recently seen first. Caller holds mu.
func (c *Coordinator) listAgents(onlineOnly bool) ([]models.Agent, error) {
	query := `
		SELECT agent_id, status, current_task, working_on, last_seen, capabilities, offers, needs
		FROM agents
	`
	if onlineOnly {
		query += ` WHERE status IN ('active', 'idle')`
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	out := []models.Agent{}
	for rows.Next() {
		agent, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *agent)
	}
	return out, rows.Err()
}

func scanAgentRow(row interface{ Scan(dest ...any) error }) (*models.Agent, error) {
	var (
		agent                       models.Agent
		status                      string
		currentTask, workingOn      sql.NullString
		capabilities, offers, needs sql.NullString
	)
	if err := row.Scan(&agent.ID, &status, &currentTask, &workingOn, &agent.LastSeen, &capabilities, &offers, &needs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	agent.Status = models.AgentStatus(status)
	agent.CurrentTask = store.NullString(currentTask)
	agent.WorkingOn = store.NullString(workingOn)
	agent.LastSeen = agent.LastSeen.UTC()
	agent.Capabilities = store.UnmarshalStrings(capabilities)
	agent.Offers = store.UnmarshalStrings(offers)
	agent.Needs = store.UnmarshalStrings(needs)
	return &agent, nil
}
