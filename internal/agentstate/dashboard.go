package agentstate

import (
	"fmt"
	"time"

	"github.com/dotcommander/hive/internal/models"
)

// Flow state classifications.
const (
	FlowInFlow    = "in_flow"
	FlowAvailable = "available"
	FlowStuck     = "stuck"
	FlowOffline   = "offline"
)

// Flow-detection windows.
const (
	flowStepWindow      = 15 * time.Minute
	flowRecentSteps     = 10
	flowProductiveMin   = 5
	availableTraceAge   = time.Hour
	streakRiskIdleHours = 24
)

// FlowState classifies the agent's current productivity. Callers should
// avoid interrupting an agent whose RespectFlow is set.
type FlowState struct {
	State       string     `json:"state"`
	Since       *time.Time `json:"since,omitempty"`
	DurationMs  int64      `json:"durationMs,omitempty"`
	RespectFlow bool       `json:"respectFlow"`
}

// NextLevelProjection reports what is still missing for the next level.
type NextLevelProjection struct {
	Level        models.SoulLevel `json:"level"`
	XPNeeded     int              `json:"xpNeeded"`
	StreakNeeded int              `json:"streakNeeded"`
	TasksNeeded  int              `json:"tasksNeeded"`
}

// Dashboard aggregates everything a coordinator or peer needs to route
// work to this agent.
type Dashboard struct {
	AgentID            string               `json:"agentId"`
	Soul               *models.Soul         `json:"soul,omitempty"`
	RecentTraces       []models.WorkTrace   `json:"recentTraces"`
	Flow               FlowState            `json:"flow"`
	RustLevel          float64              `json:"rustLevel"`
	XPMultiplier       float64              `json:"effectiveXPMultiplier"`
	StreakAtRisk       bool                 `json:"streakAtRisk"`
	NextLevel          *NextLevelProjection `json:"nextLevel,omitempty"`
	PendingEscalations []models.Escalation  `json:"pendingEscalations"`
	Shadow             *ShadowView          `json:"shadow,omitempty"`
	HeartbeatHealthy   bool                 `json:"heartbeatHealthy"`
	Suggestions        []string             `json:"suggestions"`
}

// GetDashboard builds the full per-agent dashboard.
func (a *AgentState) GetDashboard() (*Dashboard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := &Dashboard{AgentID: a.agentID, XPMultiplier: 1}

	soul, err := a.readSoul()
	if err != nil {
		return nil, err
	}
	if soul != nil {
		a.deriveSoul(soul)
		d.Soul = soul
		d.RustLevel = soul.RustLevel
		d.XPMultiplier = soul.EffectiveXPMultiplier
		d.NextLevel = nextLevelFor(soul)
		d.StreakAtRisk = a.streakAtRisk(soul)
	}

	traces, err := a.recentTraces(5)
	if err != nil {
		return nil, err
	}
	d.RecentTraces = traces

	pending, err := a.unresolvedEscalations(10)
	if err != nil {
		return nil, err
	}
	d.PendingEscalations = pending

	flow, err := a.flowState(len(pending) > 0)
	if err != nil {
		return nil, err
	}
	d.Flow = *flow

	monitor, err := a.readMonitor()
	if err != nil {
		return nil, err
	}
	heartbeats, err := a.readHeartbeats(10)
	if err != nil {
		return nil, err
	}
	d.HeartbeatHealthy = monitor.IsHealthy(a.now().UTC())
	d.Shadow = &ShadowView{Monitor: *monitor, IsHealthy: d.HeartbeatHealthy, Heartbeats: heartbeats}

	d.Suggestions = a.suggestionsFor(d)
	return d, nil
}

// GetFlowState computes only the flow classification (used by the
// Coordinator's onboarding team roster).
func (a *AgentState) GetFlowState() (*FlowState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending, err := a.unresolvedEscalations(1)
	if err != nil {
		return nil, err
	}
	return a.flowState(len(pending) > 0)
}

// flowState classifies: stuck on any unresolved escalation; in_flow when
// at least 5 of the most recent 10 steps in the last 15 minutes of a
// still-open trace were productive; available when a trace started within
// the last hour; otherwise offline. Caller holds mu.
func (a *AgentState) flowState(hasUnresolved bool) (*FlowState, error) {
	if hasUnresolved {
		return &FlowState{State: FlowStuck}, nil
	}
	now := a.now().UTC()

	rows, err := a.db.Query(`
		SELECT s.timestamp, s.outcome
		FROM work_steps s
		JOIN work_traces t ON t.session_id = s.session_id
		WHERE t.completed_at IS NULL AND s.timestamp >= ?
		ORDER BY s.timestamp DESC
		LIMIT ?
	`, now.Add(-flowStepWindow), flowRecentSteps)
	if err != nil {
		return nil, fmt.Errorf("query flow steps: %w", err)
	}
	defer rows.Close()

	var productive int
	var earliest *time.Time
	for rows.Next() {
		var (
			ts      time.Time
			outcome models.StepOutcome
		)
		if err := rows.Scan(&ts, &outcome); err != nil {
			return nil, fmt.Errorf("scan flow step: %w", err)
		}
		ts = ts.UTC()
		if outcome.Productive() {
			productive++
			if earliest == nil || ts.Before(*earliest) {
				earliest = &ts
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if productive >= flowProductiveMin && earliest != nil {
		return &FlowState{
			State:       FlowInFlow,
			Since:       earliest,
			DurationMs:  now.Sub(*earliest).Milliseconds(),
			RespectFlow: true,
		}, nil
	}

	var recentTraces int
	if err := a.db.QueryRow(`
		SELECT COUNT(*) FROM work_traces WHERE started_at >= ?
	`, now.Add(-availableTraceAge)).Scan(&recentTraces); err != nil {
		return nil, fmt.Errorf("count recent traces: %w", err)
	}
	if recentTraces > 0 {
		return &FlowState{State: FlowAvailable}, nil
	}
	return &FlowState{State: FlowOffline}, nil
}

// streakAtRisk is set when a streak exists but the agent has not
// completed a trace for a day.
func (a *AgentState) streakAtRisk(soul *models.Soul) bool {
	if soul.CurrentStreak == 0 || soul.LastTraceAt == nil {
		return false
	}
	return a.now().UTC().Sub(*soul.LastTraceAt) > streakRiskIdleHours*time.Hour
}

// nextLevelFor projects the gap to the next promotion, nil at master.
func nextLevelFor(soul *models.Soul) *NextLevelProjection {
	for i, th := range levelThresholds {
		if th.level != soul.Level {
			continue
		}
		if i == len(levelThresholds)-1 {
			return nil
		}
		next := levelThresholds[i+1]
		p := &NextLevelProjection{Level: next.level}
		if gap := next.xp - soul.TotalXP; gap > 0 {
			p.XPNeeded = gap
		}
		if gap := next.streak - soul.CurrentStreak; gap > 0 {
			p.StreakNeeded = gap
		}
		if gap := next.tasks - soul.TasksCompleted; gap > 0 {
			p.TasksNeeded = gap
		}
		return p
	}
	return nil
}

// suggestionsFor builds up to 5 context-sensitive next actions.
func (a *AgentState) suggestionsFor(d *Dashboard) []string {
	var out []string
	if n := len(d.PendingEscalations); n > 0 {
		out = append(out, fmt.Sprintf("Resolve %d open escalation(s) before taking new work.", n))
	}
	if d.StreakAtRisk && d.Soul != nil {
		out = append(out, fmt.Sprintf("Complete a task today to keep your %d-task streak alive.", d.Soul.CurrentStreak))
	}
	if d.RustLevel > 0 {
		out = append(out, fmt.Sprintf("XP gains are decayed to %.0f%% by inactivity; finish a trace to shake the rust off.", d.XPMultiplier*100))
	}
	for _, t := range d.RecentTraces {
		if t.IsOpen() {
			out = append(out, fmt.Sprintf("Session %s is still open; complete it to bank its XP.", t.SessionID))
			break
		}
	}
	if d.NextLevel != nil && d.NextLevel.XPNeeded > 0 && d.NextLevel.XPNeeded <= 50 {
		out = append(out, fmt.Sprintf("Only %d XP to reach %s.", d.NextLevel.XPNeeded, d.NextLevel.Level))
	}
	if !d.HeartbeatHealthy && d.Shadow != nil && d.Shadow.Monitor.ShadowStatus == models.ShadowMonitoring {
		out = append(out, "Heartbeats have stalled; your shadow may initiate takeover.")
	}
	if len(out) > 5 {
		out = out[:5]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// recentTraces loads the newest traces without steps. Caller holds mu.
func (a *AgentState) recentTraces(limit int) ([]models.WorkTrace, error) {
	rows, err := a.db.Query(`
		SELECT session_id, task, started_at, completed_at, total_steps, dead_ends, exploration_time_ms, solution_time_ms, efficiency
		FROM work_traces
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent traces: %w", err)
	}
	defer rows.Close()

	var out []models.WorkTrace
	for rows.Next() {
		t, err := scanTraceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if out == nil {
		out = []models.WorkTrace{}
	}
	return out, rows.Err()
}

// unresolvedEscalations lists pending escalations, newest first. Caller holds mu.
func (a *AgentState) unresolvedEscalations(limit int) ([]models.Escalation, error) {
	rows, err := a.db.Query(`
		SELECT id, session_id, triggered_at, triggers, highest_level, resolved_at, resolved_by, resolver_agent, helpful_hint
		FROM escalations
		WHERE resolved_at IS NULL
		ORDER BY triggered_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unresolved escalations: %w", err)
	}
	defer rows.Close()

	var out []models.Escalation
	for rows.Next() {
		e, err := scanEscalationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if out == nil {
		out = []models.Escalation{}
	}
	return out, rows.Err()
}
