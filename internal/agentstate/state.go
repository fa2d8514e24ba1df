package agentstate

import (
	"fmt"

	"github.com/dotcommander/hive/internal/models"
)

// StateSummary is the compact snapshot served at GET /state and pushed
// as the state-sync frame when an agent opens its push channel.
type StateSummary struct {
	AgentID        string              `json:"agentId"`
	Checkpoint     *models.Checkpoint  `json:"checkpoint"`
	UnreadMessages int                 `json:"unreadMessages"`
	OpenTraces     []string            `json:"openTraces"`
	SoulLevel      models.SoulLevel    `json:"soulLevel,omitempty"`
	TotalXP        int                 `json:"totalXP"`
	ShadowStatus   models.ShadowStatus `json:"shadowStatus"`
	Flow           FlowState           `json:"flow"`
}

// GetState builds the state summary.
func (a *AgentState) GetState() (*StateSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &StateSummary{AgentID: a.agentID, OpenTraces: []string{}}

	cp, err := a.readCheckpoint()
	if err != nil {
		return nil, err
	}
	s.Checkpoint = cp

	if err := a.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE read = 0`).Scan(&s.UnreadMessages); err != nil {
		return nil, fmt.Errorf("count unread messages: %w", err)
	}

	rows, err := a.db.Query(`SELECT session_id FROM work_traces WHERE completed_at IS NULL ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query open traces: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scan open trace: %w", err)
		}
		s.OpenTraces = append(s.OpenTraces, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	soul, err := a.readSoul()
	if err != nil {
		return nil, err
	}
	if soul != nil {
		s.SoulLevel = soul.Level
		s.TotalXP = soul.TotalXP
	}

	monitor, err := a.readMonitor()
	if err != nil {
		return nil, err
	}
	s.ShadowStatus = monitor.ShadowStatus

	pending, err := a.unresolvedEscalations(1)
	if err != nil {
		return nil, err
	}
	flow, err := a.flowState(len(pending) > 0)
	if err != nil {
		return nil, err
	}
	s.Flow = *flow
	return s, nil
}
