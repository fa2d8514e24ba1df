package agentstate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// heartbeatRingSize bounds the retained heartbeat log.
const heartbeatRingSize = 100

// ShadowView is the monitor state plus derived health, returned on read.
// The decision to actually take over belongs to the shadow agent; this
// component only exposes the signals.
type ShadowView struct {
	Monitor    models.ShadowMonitor `json:"monitor"`
	IsHealthy  bool                 `json:"isHealthy"`
	Heartbeats []models.Heartbeat   `json:"recentHeartbeats"`
}

// RecordHeartbeat appends a liveness report and advances lastHeartbeat.
// Only the most recent 100 heartbeats are retained.
func (a *AgentState) RecordHeartbeat(tokensUsed int64, currentTask, status string) (*models.Heartbeat, error) {
	if status == "" {
		status = "working"
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	hb := &models.Heartbeat{
		Timestamp:   now,
		TokensUsed:  tokensUsed,
		CurrentTask: currentTask,
		Status:      status,
	}
	monitor, err := a.readMonitor()
	if err != nil {
		return nil, err
	}
	monitor.LastHeartbeat = &now

	err = store.Transact(a.db, func(tx *sql.Tx) error {
		var tokens any
		if tokensUsed > 0 {
			tokens = tokensUsed
		}
		if _, err := tx.Exec(`
			INSERT INTO heartbeats (timestamp, tokens_used, current_task, status)
			VALUES (?, ?, ?, ?)
		`, now, tokens, store.StringArg(currentTask), status); err != nil {
			return fmt.Errorf("insert heartbeat: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM heartbeats WHERE id NOT IN (
				SELECT id FROM heartbeats ORDER BY id DESC LIMIT ?
			)
		`, heartbeatRingSize); err != nil {
			return fmt.Errorf("trim heartbeats: %w", err)
		}
		return writeMonitorTx(tx, monitor)
	})
	if err != nil {
		return nil, err
	}
	return hb, nil
}

// ListHeartbeats returns the newest heartbeats, most recent first.
func (a *AgentState) ListHeartbeats(limit int) ([]models.Heartbeat, error) {
	if limit <= 0 || limit > heartbeatRingSize {
		limit = 20
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readHeartbeats(limit)
}

// RegisterShadow attaches a shadow agent to monitor this one.
func (a *AgentState) RegisterShadow(shadowID string, stallThresholdMs, heartbeatIntervalMs int64) (*models.ShadowMonitor, error) {
	if shadowID == "" {
		return nil, &models.ValidationError{Field: "shadowId"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	monitor, err := a.readMonitor()
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	monitor.ShadowID = shadowID
	monitor.ShadowStatus = models.ShadowMonitoring
	monitor.RegisteredAt = &now
	monitor.TakeoverAt = nil
	if stallThresholdMs > 0 {
		monitor.StallThresholdMs = stallThresholdMs
	}
	if heartbeatIntervalMs > 0 {
		monitor.HeartbeatIntervalMs = heartbeatIntervalMs
	}
	if err := a.writeMonitor(monitor); err != nil {
		return nil, err
	}
	return monitor, nil
}

// BecomeShadow marks this agent as the shadow for another agent.
func (a *AgentState) BecomeShadow(primaryAgent string) (*models.ShadowMonitor, error) {
	if primaryAgent == "" {
		return nil, &models.ValidationError{Field: "primaryAgent"}
	}
	if primaryAgent == a.agentID {
		return nil, &models.ValidationError{Field: "primaryAgent", Reason: "an agent cannot shadow itself"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	monitor, err := a.readMonitor()
	if err != nil {
		return nil, err
	}
	monitor.IsShadow = true
	monitor.PrimaryAgent = primaryAgent
	if err := a.writeMonitor(monitor); err != nil {
		return nil, err
	}
	return monitor, nil
}

// Takeover transitions a monitored agent to taken-over. Only legal while
// a shadow is registered and monitoring.
func (a *AgentState) Takeover() (*models.ShadowMonitor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	monitor, err := a.readMonitor()
	if err != nil {
		return nil, err
	}
	if monitor.ShadowStatus != models.ShadowMonitoring {
		return nil, &models.StateError{Entity: "shadow", ID: a.agentID, Status: string(monitor.ShadowStatus), Action: "takeover"}
	}
	now := a.now().UTC()
	monitor.ShadowStatus = models.ShadowTakenOver
	monitor.TakeoverAt = &now
	if err := a.writeMonitor(monitor); err != nil {
		return nil, err
	}
	return monitor, nil
}

// GetShadow returns the monitor with derived health and recent heartbeats.
func (a *AgentState) GetShadow() (*ShadowView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	monitor, err := a.readMonitor()
	if err != nil {
		return nil, err
	}
	heartbeats, err := a.readHeartbeats(10)
	if err != nil {
		return nil, err
	}
	return &ShadowView{
		Monitor:    *monitor,
		IsHealthy:  monitor.IsHealthy(a.now().UTC()),
		Heartbeats: heartbeats,
	}, nil
}

// readMonitor loads the singleton row, defaulting when absent. Caller holds mu.
func (a *AgentState) readMonitor() (*models.ShadowMonitor, error) {
	row := a.db.QueryRow(`
		SELECT shadow_id, shadow_status, primary_agent, is_shadow, last_heartbeat,
		       heartbeat_interval_ms, stall_threshold_ms, registered_at, takeover_at
		FROM shadow_monitor WHERE id = 1
	`)
	var (
		m                      models.ShadowMonitor
		shadowID, primary      sql.NullString
		lastHeartbeat          sql.NullTime
		registeredAt, takeover sql.NullTime
	)
	err := row.Scan(&shadowID, &m.ShadowStatus, &primary, &m.IsShadow, &lastHeartbeat,
		&m.HeartbeatIntervalMs, &m.StallThresholdMs, &registeredAt, &takeover)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ShadowMonitor{
			ShadowStatus:        models.ShadowNone,
			HeartbeatIntervalMs: models.DefaultHeartbeatIntervalMs,
			StallThresholdMs:    models.DefaultStallThresholdMs,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shadow monitor: %w", err)
	}
	m.ShadowID = store.NullString(shadowID)
	m.PrimaryAgent = store.NullString(primary)
	m.LastHeartbeat = store.NullTime(lastHeartbeat)
	m.RegisteredAt = store.NullTime(registeredAt)
	m.TakeoverAt = store.NullTime(takeover)
	return &m, nil
}

// writeMonitor upserts the singleton row. Caller holds mu.
func (a *AgentState) writeMonitor(m *models.ShadowMonitor) error {
	return store.Transact(a.db, func(tx *sql.Tx) error {
		return writeMonitorTx(tx, m)
	})
}

func writeMonitorTx(tx *sql.Tx, m *models.ShadowMonitor) error {
	_, err := tx.Exec(`
		INSERT INTO shadow_monitor (id, shadow_id, shadow_status, primary_agent, is_shadow, last_heartbeat, heartbeat_interval_ms, stall_threshold_ms, registered_at, takeover_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shadow_id = excluded.shadow_id,
			shadow_status = excluded.shadow_status,
			primary_agent = excluded.primary_agent,
			is_shadow = excluded.is_shadow,
			last_heartbeat = excluded.last_heartbeat,
			heartbeat_interval_ms = excluded.heartbeat_interval_ms,
			stall_threshold_ms = excluded.stall_threshold_ms,
			registered_at = excluded.registered_at,
			takeover_at = excluded.takeover_at
	`,
		store.StringArg(m.ShadowID), string(m.ShadowStatus), store.StringArg(m.PrimaryAgent), m.IsShadow,
		store.TimeArg(m.LastHeartbeat), m.HeartbeatIntervalMs, m.StallThresholdMs,
		store.TimeArg(m.RegisteredAt), store.TimeArg(m.TakeoverAt),
	)
	if err != nil {
		return fmt.Errorf("write shadow monitor: %w", err)
	}
	return nil
}

// readHeartbeats returns the newest heartbeats, most recent first. Caller holds mu.
func (a *AgentState) readHeartbeats(limit int) ([]models.Heartbeat, error) {
	rows, err := a.db.Query(`
		SELECT timestamp, tokens_used, current_task, status
		FROM heartbeats
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query heartbeats: %w", err)
	}
	defer rows.Close()

	var out []models.Heartbeat
	for rows.Next() {
		var (
			hb     models.Heartbeat
			tokens sql.NullInt64
			task   sql.NullString
		)
		if err := rows.Scan(&hb.Timestamp, &tokens, &task, &hb.Status); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		hb.Timestamp = hb.Timestamp.UTC()
		hb.TokensUsed = tokens.Int64
		hb.CurrentTask = store.NullString(task)
		out = append(out, hb)
	}
	if out == nil {
		out = []models.Heartbeat{}
	}
	return out, rows.Err()
}
