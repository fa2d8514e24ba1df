package agentstate

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// StepInput is the payload for appending one step to a work trace.
type StepInput struct {
	Tool             string                  `json:"tool"`
	Intent           string                  `json:"intent"`
	Outcome          models.StepOutcome      `json:"outcome"`
	DurationMs       int64                   `json:"durationMs"`
	ContributionType models.ContributionType `json:"contributionType,omitempty"`
	KnowledgeGained  []string                `json:"knowledgeGained,omitempty"`
	EliminatedPaths  int                     `json:"eliminatedPaths,omitempty"`
	DependsOn        []string                `json:"dependsOn,omitempty"`
}

// StepResult is returned from AddStep: the stored step, the escalation
// that fired on it (if any), and a recommendation keyed on its level.
type StepResult struct {
	Step           models.WorkStep    `json:"step"`
	Escalation     *models.Escalation `json:"escalation,omitempty"`
	Recommendation string             `json:"recommendation"`
}

// StartTrace opens a new work session. An empty sessionID gets a
// generated one; a caller-supplied id must be unused.
func (a *AgentState) StartTrace(task, sessionID string) (*models.WorkTrace, error) {
	if task == "" {
		return nil, &models.ValidationError{Field: "task"}
	}
	if sessionID == "" {
		sessionID = store.NewID("session")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	trace := &models.WorkTrace{
		SessionID: sessionID,
		Task:      task,
		StartedAt: a.now().UTC(),
		Steps:     []models.WorkStep{},
	}
	err := store.Transact(a.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO work_traces (session_id, task, started_at)
			VALUES (?, ?, ?)
		`, trace.SessionID, trace.Task, trace.StartedAt)
		if err != nil {
			return fmt.Errorf("insert work trace: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trace, nil
}

// AddStep appends a step to an open trace, then evaluates the escalation
// triggers against the updated trace. A fired escalation is stored and
// returned alongside the step.
func (a *AgentState) AddStep(sessionID string, in StepInput) (*StepResult, error) {
	if in.Tool == "" {
		return nil, &models.ValidationError{Field: "tool"}
	}
	if !in.Outcome.Valid() {
		return nil, &models.ValidationError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", in.Outcome)}
	}
	if in.DurationMs < 0 {
		return nil, &models.ValidationError{Field: "durationMs", Reason: "must be >= 0"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	trace, err := a.readTrace(sessionID)
	if err != nil {
		return nil, err
	}
	if !trace.IsOpen() {
		return nil, &models.StateError{Entity: "trace", ID: sessionID, Status: "completed", Action: "step"}
	}

	now := a.now().UTC()
	step := models.WorkStep{
		ID:               store.NewID("step"),
		Timestamp:        now,
		Tool:             in.Tool,
		Intent:           in.Intent,
		Outcome:          in.Outcome,
		DurationMs:       in.DurationMs,
		ContributionType: in.ContributionType,
		KnowledgeGained:  in.KnowledgeGained,
		EliminatedPaths:  in.EliminatedPaths,
		DependsOn:        in.DependsOn,
	}
	if step.KnowledgeGained == nil {
		step.KnowledgeGained = []string{}
	}
	if step.DependsOn == nil {
		step.DependsOn = []string{}
	}

	trace.Steps = append(trace.Steps, step)
	triggers := evaluateTriggers(trace, now)

	var escalation *models.Escalation
	if len(triggers) > 0 {
		escalation = &models.Escalation{
			ID:           store.NewID("esc"),
			SessionID:    sessionID,
			TriggeredAt:  now,
			Triggers:     triggers,
			HighestLevel: highestLevel(triggers),
		}
	}

	err = store.Transact(a.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO work_steps (id, session_id, seq, timestamp, tool, intent, outcome, duration_ms, contribution_type, knowledge_gained, eliminated_paths, depends_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			step.ID, sessionID, len(trace.Steps), step.Timestamp, step.Tool,
			store.StringArg(step.Intent), string(step.Outcome), step.DurationMs,
			store.StringArg(string(step.ContributionType)),
			store.MarshalStrings(step.KnowledgeGained), step.EliminatedPaths,
			store.MarshalStrings(step.DependsOn),
		); err != nil {
			return fmt.Errorf("insert work step: %w", err)
		}
		if escalation != nil {
			raw, err := json.Marshal(escalation.Triggers)
			if err != nil {
				return fmt.Errorf("marshal triggers: %w", err)
			}
			if _, err := tx.Exec(`
				INSERT INTO escalations (id, session_id, triggered_at, triggers, highest_level)
				VALUES (?, ?, ?, ?, ?)
			`, escalation.ID, sessionID, escalation.TriggeredAt, string(raw), escalation.HighestLevel); err != nil {
				return fmt.Errorf("insert escalation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	level := 0
	if escalation != nil {
		level = escalation.HighestLevel
	}
	return &StepResult{
		Step:           step,
		Escalation:     escalation,
		Recommendation: recommendationFor(level),
	}, nil
}

// CompleteTrace stamps completedAt and computes the summary.
func (a *AgentState) CompleteTrace(sessionID string) (*models.WorkTrace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	trace, err := a.readTrace(sessionID)
	if err != nil {
		return nil, err
	}
	if !trace.IsOpen() {
		return nil, &models.StateError{Entity: "trace", ID: sessionID, Status: "completed", Action: "complete"}
	}

	now := a.now().UTC()
	summary := summarize(trace.Steps)
	err = store.Transact(a.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE work_traces
			SET completed_at = ?, total_steps = ?, dead_ends = ?, exploration_time_ms = ?, solution_time_ms = ?, efficiency = ?
			WHERE session_id = ?
		`, now, summary.TotalSteps, summary.DeadEnds, summary.ExplorationTimeMs, summary.SolutionTimeMs, summary.Efficiency, sessionID)
		if err != nil {
			return fmt.Errorf("complete trace: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	trace.CompletedAt = &now
	trace.Summary = summary
	return trace, nil
}

// GetTrace loads one trace with its steps.
func (a *AgentState) GetTrace(sessionID string) (*models.WorkTrace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readTrace(sessionID)
}

// ListTraces returns the most recent traces (without steps), newest first.
func (a *AgentState) ListTraces(limit int) ([]models.WorkTrace, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.Query(`
		SELECT session_id, task, started_at, completed_at, total_steps, dead_ends, exploration_time_ms, solution_time_ms, efficiency
		FROM work_traces
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
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

// ListEscalations returns every escalation recorded for a session,
// oldest first.
func (a *AgentState) ListEscalations(sessionID string) ([]models.Escalation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readEscalations(sessionID)
}

// ResolveEscalation marks escalations resolved. With an explicit
// escalationID only that one is resolved; otherwise every unresolved
// escalation of the session is (the agent got unstuck). Returns the
// escalations that changed.
func (a *AgentState) ResolveEscalation(sessionID, escalationID string, resolvedBy models.EscalationResolver, resolverAgent, helpfulHint string) ([]models.Escalation, error) {
	if !resolvedBy.Valid() {
		return nil, &models.ValidationError{Field: "resolvedBy", Reason: fmt.Sprintf("unknown resolver %q", resolvedBy)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	var resolved []models.Escalation
	err := store.Transact(a.db, func(tx *sql.Tx) error {
		query := `
			UPDATE escalations
			SET resolved_at = ?, resolved_by = ?, resolver_agent = ?, helpful_hint = ?
			WHERE session_id = ? AND resolved_at IS NULL
		`
		args := []any{now, string(resolvedBy), store.StringArg(resolverAgent), store.StringArg(helpfulHint), sessionID}
		if escalationID != "" {
			query += ` AND id = ?`
			args = append(args, escalationID)
		}
		res, err := tx.Exec(query, args...)
		if err != nil {
			return fmt.Errorf("resolve escalation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 && escalationID != "" {
			return &models.NotFoundError{Entity: "escalation", ID: escalationID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	all, err := a.readEscalations(sessionID)
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.ResolvedAt != nil && e.ResolvedAt.Equal(now) {
			resolved = append(resolved, e)
		}
	}
	return resolved, nil
}

// evaluateTriggers applies the stuck-detection rules to an updated trace.
// Called after the new step has been appended to trace.Steps.
func evaluateTriggers(trace *models.WorkTrace, now time.Time) []models.EscalationTrigger {
	steps := trace.Steps
	var triggers []models.EscalationTrigger
	add := func(trigType string, level int, reason string) {
		triggers = append(triggers, models.EscalationTrigger{
			Type:       trigType,
			Level:      level,
			Reason:     reason,
			DetectedAt: now,
		})
	}

	// stuck_loop: same tool in >=3 of the last 5 steps, all of those uses
	// yielding only nothing/partial.
	recent := steps
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	toolCounts := map[string]int{}
	toolUnproductive := map[string]bool{}
	for _, s := range recent {
		toolCounts[s.Tool]++
		if _, seen := toolUnproductive[s.Tool]; !seen {
			toolUnproductive[s.Tool] = true
		}
		if s.Outcome != models.OutcomeNothing && s.Outcome != models.OutcomePartial {
			toolUnproductive[s.Tool] = false
		}
	}
	for tool, count := range toolCounts {
		if count >= 3 && toolUnproductive[tool] {
			add(models.TriggerStuckLoop, 2, fmt.Sprintf("%q used %d times in the last %d steps without results", tool, count, len(recent)))
			break
		}
	}

	var nothingCount, errorCount, nonProductive int
	for _, s := range steps {
		switch s.Outcome {
		case models.OutcomeNothing:
			nothingCount++
		case models.OutcomeError:
			errorCount++
		}
		if s.Outcome == models.OutcomeNothing || s.Outcome == models.OutcomeError || s.ContributionType == models.ContributionMinimal {
			nonProductive++
		}
	}

	if nothingCount >= 3 {
		add(models.TriggerRepeatedFailures, 1, fmt.Sprintf("%d steps found nothing", nothingCount))
	}
	if errorCount >= 2 {
		add(models.TriggerErrorAccumulation, 2, fmt.Sprintf("%d steps errored", errorCount))
	}
	if elapsed := now.Sub(trace.StartedAt); elapsed > 10*time.Minute {
		add(models.TriggerTimeExceeded, 1, fmt.Sprintf("session running for %s", elapsed.Round(time.Minute)))
	}
	if len(steps) >= 5 {
		if frac := float64(nonProductive) / float64(len(steps)); frac > 0.6 {
			add(models.TriggerLowEfficiency, 1, fmt.Sprintf("%.0f%% of steps were non-productive", frac*100))
		}
	}
	return triggers
}

func highestLevel(triggers []models.EscalationTrigger) int {
	highest := 0
	for _, t := range triggers {
		if t.Level > highest {
			highest = t.Level
		}
	}
	return highest
}

// recommendationFor maps an escalation level to next-step guidance.
func recommendationFor(level int) string {
	switch {
	case level <= 0:
		return "Continue working."
	case level == 1:
		return "Consider pausing to reassess the approach."
	case level == 2:
		return "Pause and ask a peer for help."
	default:
		return "Stop and escalate to a human."
	}
}

// summarize computes the completion summary from a trace's steps.
// Solution time is the duration spent in productive steps (found or
// partial); everything else is exploration. Dead ends are steps that
// found nothing or errored.
func summarize(steps []models.WorkStep) *models.TraceSummary {
	s := &models.TraceSummary{TotalSteps: len(steps)}
	var total int64
	for _, step := range steps {
		total += step.DurationMs
		if step.Outcome.Productive() {
			s.SolutionTimeMs += step.DurationMs
		} else {
			s.ExplorationTimeMs += step.DurationMs
		}
		if step.Outcome == models.OutcomeNothing || step.Outcome == models.OutcomeError {
			s.DeadEnds++
		}
	}
	if total > 0 {
		s.Efficiency = float64(s.SolutionTimeMs) / float64(total)
	}
	return s
}

// readTrace loads one trace plus its steps. Caller holds mu.
func (a *AgentState) readTrace(sessionID string) (*models.WorkTrace, error) {
	row := a.db.QueryRow(`
		SELECT session_id, task, started_at, completed_at, total_steps, dead_ends, exploration_time_ms, solution_time_ms, efficiency
		FROM work_traces WHERE session_id = ?
	`, sessionID)
	trace, err := scanTraceRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Entity: "trace", ID: sessionID}
	}
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Query(`
		SELECT id, timestamp, tool, intent, outcome, duration_ms, contribution_type, knowledge_gained, eliminated_paths, depends_on
		FROM work_steps
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step                       models.WorkStep
			intent, contribution       sql.NullString
			knowledgeGained, dependsOn sql.NullString
		)
		if err := rows.Scan(&step.ID, &step.Timestamp, &step.Tool, &intent, &step.Outcome, &step.DurationMs, &contribution, &knowledgeGained, &step.EliminatedPaths, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Timestamp = step.Timestamp.UTC()
		step.Intent = store.NullString(intent)
		step.ContributionType = models.ContributionType(store.NullString(contribution))
		step.KnowledgeGained = store.UnmarshalStrings(knowledgeGained)
		step.DependsOn = store.UnmarshalStrings(dependsOn)
		trace.Steps = append(trace.Steps, step)
	}
	if trace.Steps == nil {
		trace.Steps = []models.WorkStep{}
	}
	return trace, rows.Err()
}

// scanTraceRow scans a work_traces row (without steps).
func scanTraceRow(row interface{ Scan(dest ...any) error }) (*models.WorkTrace, error) {
	var (
		trace                 models.WorkTrace
		completedAt           sql.NullTime
		totalSteps, deadEnds  sql.NullInt64
		exploration, solution sql.NullInt64
		efficiency            sql.NullFloat64
	)
	if err := row.Scan(&trace.SessionID, &trace.Task, &trace.StartedAt, &completedAt, &totalSteps, &deadEnds, &exploration, &solution, &efficiency); err != nil {
		return nil, err
	}
	trace.StartedAt = trace.StartedAt.UTC()
	trace.CompletedAt = store.NullTime(completedAt)
	if trace.CompletedAt != nil {
		trace.Summary = &models.TraceSummary{
			TotalSteps:        int(totalSteps.Int64),
			DeadEnds:          int(deadEnds.Int64),
			ExplorationTimeMs: exploration.Int64,
			SolutionTimeMs:    solution.Int64,
			Efficiency:        efficiency.Float64,
		}
	}
	return &trace, nil
}

// readEscalations loads a session's escalations, oldest first. Caller holds mu.
func (a *AgentState) readEscalations(sessionID string) ([]models.Escalation, error) {
	rows, err := a.db.Query(`
		SELECT id, session_id, triggered_at, triggers, highest_level, resolved_at, resolved_by, resolver_agent, helpful_hint
		FROM escalations
		WHERE session_id = ?
		ORDER BY triggered_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
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

func scanEscalationRow(row interface{ Scan(dest ...any) error }) (*models.Escalation, error) {
	var (
		e                          models.Escalation
		rawTriggers                string
		resolvedAt                 sql.NullTime
		resolvedBy, resolver, hint sql.NullString
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.TriggeredAt, &rawTriggers, &e.HighestLevel, &resolvedAt, &resolvedBy, &resolver, &hint); err != nil {
		return nil, fmt.Errorf("scan escalation: %w", err)
	}
	e.TriggeredAt = e.TriggeredAt.UTC()
	if err := json.Unmarshal([]byte(rawTriggers), &e.Triggers); err != nil {
		e.Triggers = []models.EscalationTrigger{}
	}
	e.ResolvedAt = store.NullTime(resolvedAt)
	e.ResolvedBy = models.EscalationResolver(store.NullString(resolvedBy))
	e.ResolverAgent = store.NullString(resolver)
	e.HelpfulHint = store.NullString(hint)
	return &e, nil
}
