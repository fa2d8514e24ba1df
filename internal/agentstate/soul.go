package agentstate

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/internal/store"
)

// levelThreshold is one row of the promotion table. All three minimums
// must hold for the level to apply.
type levelThreshold struct {
	level  models.SoulLevel
	xp     int
	streak int
	tasks  int
}

// Promotion thresholds, lowest first.
var levelThresholds = []levelThreshold{
	{models.LevelNovice, 0, 0, 0},
	{models.LevelCapable, 100, 3, 5},
	{models.LevelExpert, 500, 5, 25},
	{models.LevelMaster, 2000, 10, 100},
}

// LevelFor returns the highest level whose xp, streak, and task minimums
// are all met.
func LevelFor(totalXP, currentStreak, tasksCompleted int) models.SoulLevel {
	level := models.LevelNovice
	for _, th := range levelThresholds {
		if totalXP >= th.xp && currentStreak >= th.streak && tasksCompleted >= th.tasks {
			level = th.level
		}
	}
	return level
}

// AbilitiesFor returns the cumulative ability set unlocked at a level.
func AbilitiesFor(level models.SoulLevel) models.Abilities {
	var ab models.Abilities
	switch level {
	case models.LevelMaster:
		ab.CanAccessProd = true
		ab.ExtendedBudget = true
		fallthrough
	case models.LevelExpert:
		ab.CanSpawnSubagents = true
		ab.CanMentorPeers = true
		fallthrough
	case models.LevelCapable:
		ab.CanCommit = true
	}
	return ab
}

// RustFor maps days since the last completed trace onto a decay factor.
func RustFor(daysSinceLastTrace float64) float64 {
	switch {
	case daysSinceLastTrace < 7:
		return 0
	case daysSinceLastTrace < 30:
		return 0.2
	case daysSinceLastTrace < 90:
		return 0.4
	default:
		return 0.6
	}
}

// SoulUpdate reports the outcome of a progression mutation.
type SoulUpdate struct {
	Soul          *models.Soul     `json:"soul"`
	XPGained      int              `json:"xpGained"`
	LeveledUp     bool             `json:"leveledUp"`
	PreviousLevel models.SoulLevel `json:"previousLevel,omitempty"`
}

// GetOrCreateSoul loads this agent's soul, creating a fresh novice one on
// first contact. The second return reports whether it was just created.
func (a *AgentState) GetOrCreateSoul() (*models.Soul, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	soul, err := a.readSoul()
	if err != nil {
		return nil, false, err
	}
	if soul != nil {
		return soul, false, nil
	}

	now := a.now().UTC()
	soul = &models.Soul{
		SoulID:            store.NewID("soul"),
		Name:              a.agentID,
		CreatedAt:         now,
		Level:             models.LevelNovice,
		Specializations:   map[string]int{},
		Achievements:      []string{},
		TrustScore:        0.5,
		TransparencyScore: 0.5,
		TrackRecordScore:  0.5,
	}
	if err := a.writeSoul(soul); err != nil {
		return nil, false, err
	}
	a.deriveSoul(soul)
	return soul, true, nil
}

// UpdateFromTrace applies a completed trace to the soul: XP (rust-adjusted),
// streak, efficiency mean, escalation counters, level, abilities, and trust.
func (a *AgentState) UpdateFromTrace(traceID, domain string) (*SoulUpdate, error) {
	if domain != "" && !validDomain(domain) {
		return nil, &models.ValidationError{Field: "domain", Reason: fmt.Sprintf("unknown domain %q", domain)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	trace, err := a.readTrace(traceID)
	if err != nil {
		return nil, err
	}
	if trace.IsOpen() || trace.Summary == nil {
		return nil, &models.StateError{Entity: "trace", ID: traceID, Status: "open", Action: "update-soul"}
	}
	escalations, err := a.readEscalations(traceID)
	if err != nil {
		return nil, err
	}

	soul, err := a.readSoul()
	if err != nil {
		return nil, err
	}
	if soul == nil {
		now := a.now().UTC()
		soul = &models.Soul{
			SoulID:            store.NewID("soul"),
			Name:              a.agentID,
			CreatedAt:         now,
			Level:             models.LevelNovice,
			Specializations:   map[string]int{},
			Achievements:      []string{},
			TrustScore:        0.5,
			TransparencyScore: 0.5,
			TrackRecordScore:  0.5,
		}
	}

	eff := trace.Summary.Efficiency
	cleanHandling := true // every escalation resolved by self, or unresolved
	humanResolved := false
	var selfResolved, peerResolved, humanCount int
	for _, e := range escalations {
		switch {
		case e.ResolvedAt == nil:
			// unresolved still counts as handled without outside help
		case e.ResolvedBy == models.ResolvedBySelf:
			selfResolved++
		case e.ResolvedBy == models.ResolvedByPeer:
			peerResolved++
			cleanHandling = false
		case e.ResolvedBy == models.ResolvedByHuman:
			humanCount++
			humanResolved = true
			cleanHandling = false
		}
	}

	raw := 10
	switch {
	case eff > 0.7:
		raw += 15
	case eff > 0.5:
		raw += 5
	}
	if cleanHandling {
		raw += 10
	}
	if len(escalations) == 0 {
		raw += 5
	}

	// Rust decays the gain based on inactivity before this trace.
	rust := a.rustFor(soul)
	gained := int(math.Round(float64(raw) * (1 - 0.5*rust)))

	previousLevel := soul.Level
	soul.TotalXP += gained
	soul.TasksCompleted++
	success := !humanResolved
	if success {
		soul.TasksSuccessful++
		soul.CurrentStreak++
	} else {
		soul.CurrentStreak = 0
	}
	if soul.CurrentStreak > soul.LongestStreak {
		soul.LongestStreak = soul.CurrentStreak
	}
	n := float64(soul.TasksCompleted)
	soul.AvgEfficiency = (soul.AvgEfficiency*(n-1) + eff) / n

	if domain != "" {
		soul.Specializations[domain] += gained / 2
	}

	soul.EscalationCount += len(escalations)
	soul.SelfResolvedCount += selfResolved
	soul.PeerAssistCount += peerResolved
	soul.HumanEscalationCount += humanCount

	soul.Level = LevelFor(soul.TotalXP, soul.CurrentStreak, soul.TasksCompleted)
	if soul.Level != previousLevel {
		soul.Abilities = AbilitiesFor(soul.Level)
	}

	soul.TrustScore = trustScore(soul)
	soul.LastTraceID = traceID
	completedAt := trace.CompletedAt.UTC()
	soul.LastTraceAt = &completedAt

	if err := a.writeSoul(soul); err != nil {
		return nil, err
	}
	a.deriveSoul(soul)
	return &SoulUpdate{
		Soul:          soul,
		XPGained:      gained,
		LeveledUp:     soul.Level != previousLevel,
		PreviousLevel: previousLevel,
	}, nil
}

// AddXP grants XP directly (e.g. for peer mentoring) and recomputes level
// and abilities.
func (a *AgentState) AddXP(amount int) (*SoulUpdate, error) {
	if amount <= 0 {
		return nil, &models.ValidationError{Field: "xp", Reason: "must be > 0"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	soul, err := a.requireSoul()
	if err != nil {
		return nil, err
	}
	previousLevel := soul.Level
	soul.TotalXP += amount
	soul.Level = LevelFor(soul.TotalXP, soul.CurrentStreak, soul.TasksCompleted)
	if soul.Level != previousLevel {
		soul.Abilities = AbilitiesFor(soul.Level)
	}
	if err := a.writeSoul(soul); err != nil {
		return nil, err
	}
	a.deriveSoul(soul)
	return &SoulUpdate{Soul: soul, XPGained: amount, LeveledUp: soul.Level != previousLevel, PreviousLevel: previousLevel}, nil
}

// UnlockAchievement appends a named achievement once.
func (a *AgentState) UnlockAchievement(name string) (*models.Soul, error) {
	if name == "" {
		return nil, &models.ValidationError{Field: "achievement"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	soul, err := a.requireSoul()
	if err != nil {
		return nil, err
	}
	for _, existing := range soul.Achievements {
		if existing == name {
			a.deriveSoul(soul)
			return soul, nil
		}
	}
	soul.Achievements = append(soul.Achievements, name)
	if err := a.writeSoul(soul); err != nil {
		return nil, err
	}
	a.deriveSoul(soul)
	return soul, nil
}

// RecordPeerHelp bumps the peers-helped counter (this agent assisted
// another agent out of an escalation).
func (a *AgentState) RecordPeerHelp() (*models.Soul, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	soul, err := a.requireSoul()
	if err != nil {
		return nil, err
	}
	soul.PeersHelped++
	if err := a.writeSoul(soul); err != nil {
		return nil, err
	}
	a.deriveSoul(soul)
	return soul, nil
}

// UpdateSoulProfile patches the mutable identity fields. Nil preserves.
func (a *AgentState) UpdateSoulProfile(name, personality *string) (*models.Soul, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	soul, err := a.requireSoul()
	if err != nil {
		return nil, err
	}
	if name != nil && *name != "" {
		soul.Name = *name
	}
	if personality != nil {
		soul.Personality = *personality
	}
	if err := a.writeSoul(soul); err != nil {
		return nil, err
	}
	a.deriveSoul(soul)
	return soul, nil
}

// GetSoul loads the soul without creating one.
func (a *AgentState) GetSoul() (*models.Soul, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	soul, err := a.requireSoul()
	if err != nil {
		return nil, err
	}
	a.deriveSoul(soul)
	return soul, nil
}

func validDomain(domain string) bool {
	for _, d := range models.SpecializationDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// trustScore combines success rate, self-sufficiency, and a penalty for
// human escalations, capped at 1.
func trustScore(soul *models.Soul) float64 {
	successRate := 0.0
	if soul.TasksCompleted > 0 {
		successRate = float64(soul.TasksSuccessful) / float64(soul.TasksCompleted)
	}
	selfRatio := 0.5
	if soul.SelfResolvedCount+soul.HumanEscalationCount > 0 {
		selfRatio = float64(soul.SelfResolvedCount) / float64(soul.SelfResolvedCount+soul.HumanEscalationCount)
	}
	humanPenalty := 1.0 / (1.0 + float64(soul.HumanEscalationCount)*0.1)

	score := 0.5*successRate + 0.3*selfRatio + 0.2*humanPenalty
	if score > 1 {
		score = 1
	}
	return score
}

// rustFor computes the decay factor from days since the soul's last
// completed trace (creation date for souls that never completed one).
func (a *AgentState) rustFor(soul *models.Soul) float64 {
	ref := soul.CreatedAt
	if soul.LastTraceAt != nil {
		ref = *soul.LastTraceAt
	}
	days := a.now().UTC().Sub(ref).Hours() / 24
	return RustFor(days)
}

// deriveSoul fills the read-only computed fields.
func (a *AgentState) deriveSoul(soul *models.Soul) {
	soul.RustLevel = a.rustFor(soul)
	soul.EffectiveXPMultiplier = 1 - 0.5*soul.RustLevel
}

// requireSoul loads the soul or reports not-found. Caller holds mu.
func (a *AgentState) requireSoul() (*models.Soul, error) {
	soul, err := a.readSoul()
	if err != nil {
		return nil, err
	}
	if soul == nil {
		return nil, &models.NotFoundError{Entity: "soul", ID: a.agentID}
	}
	return soul, nil
}

// readSoul loads the singleton row, nil if never created. Caller holds mu.
func (a *AgentState) readSoul() (*models.Soul, error) {
	row := a.db.QueryRow(`
		SELECT soul_id, name, personality, created_at, total_xp, level, current_streak, longest_streak,
		       tasks_completed, tasks_successful, avg_efficiency, peers_helped, last_trace_id, last_trace_at,
		       escalation_count, self_resolved_count, peer_assist_count, human_escalation_count,
		       specializations, achievements, abilities, trust_score, transparency_score, track_record_score
		FROM soul WHERE id = 1
	`)
	var (
		soul                       models.Soul
		personality, lastTraceID   sql.NullString
		lastTraceAt                sql.NullTime
		specializations, abilities string
		achievements               sql.NullString
	)
	err := row.Scan(
		&soul.SoulID, &soul.Name, &personality, &soul.CreatedAt, &soul.TotalXP, &soul.Level,
		&soul.CurrentStreak, &soul.LongestStreak, &soul.TasksCompleted, &soul.TasksSuccessful,
		&soul.AvgEfficiency, &soul.PeersHelped, &lastTraceID, &lastTraceAt,
		&soul.EscalationCount, &soul.SelfResolvedCount, &soul.PeerAssistCount, &soul.HumanEscalationCount,
		&specializations, &achievements, &abilities, &soul.TrustScore, &soul.TransparencyScore, &soul.TrackRecordScore,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read soul: %w", err)
	}
	soul.CreatedAt = soul.CreatedAt.UTC()
	soul.Personality = store.NullString(personality)
	soul.LastTraceID = store.NullString(lastTraceID)
	soul.LastTraceAt = store.NullTime(lastTraceAt)
	if err := json.Unmarshal([]byte(specializations), &soul.Specializations); err != nil || soul.Specializations == nil {
		soul.Specializations = map[string]int{}
	}
	soul.Achievements = store.UnmarshalStrings(achievements)
	if err := json.Unmarshal([]byte(abilities), &soul.Abilities); err != nil {
		soul.Abilities = models.Abilities{}
	}
	return &soul, nil
}

// writeSoul upserts the singleton row. Caller holds mu.
func (a *AgentState) writeSoul(soul *models.Soul) error {
	specializations, err := json.Marshal(soul.Specializations)
	if err != nil {
		return fmt.Errorf("marshal specializations: %w", err)
	}
	abilities, err := json.Marshal(soul.Abilities)
	if err != nil {
		return fmt.Errorf("marshal abilities: %w", err)
	}
	var lastTraceAt any
	if soul.LastTraceAt != nil {
		lastTraceAt = soul.LastTraceAt.UTC()
	}

	return store.Transact(a.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO soul (
				id, soul_id, name, personality, created_at, total_xp, level, current_streak, longest_streak,
				tasks_completed, tasks_successful, avg_efficiency, peers_helped, last_trace_id, last_trace_at,
				escalation_count, self_resolved_count, peer_assist_count, human_escalation_count,
				specializations, achievements, abilities, trust_score, transparency_score, track_record_score
			) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				personality = excluded.personality,
				total_xp = excluded.total_xp,
				level = excluded.level,
				current_streak = excluded.current_streak,
				longest_streak = excluded.longest_streak,
				tasks_completed = excluded.tasks_completed,
				tasks_successful = excluded.tasks_successful,
				avg_efficiency = excluded.avg_efficiency,
				peers_helped = excluded.peers_helped,
				last_trace_id = excluded.last_trace_id,
				last_trace_at = excluded.last_trace_at,
				escalation_count = excluded.escalation_count,
				self_resolved_count = excluded.self_resolved_count,
				peer_assist_count = excluded.peer_assist_count,
				human_escalation_count = excluded.human_escalation_count,
				specializations = excluded.specializations,
				achievements = excluded.achievements,
				abilities = excluded.abilities,
				trust_score = excluded.trust_score,
				transparency_score = excluded.transparency_score,
				track_record_score = excluded.track_record_score
		`,
			soul.SoulID, soul.Name, store.StringArg(soul.Personality), soul.CreatedAt,
			soul.TotalXP, string(soul.Level), soul.CurrentStreak, soul.LongestStreak,
			soul.TasksCompleted, soul.TasksSuccessful, soul.AvgEfficiency, soul.PeersHelped,
			store.StringArg(soul.LastTraceID), lastTraceAt,
			soul.EscalationCount, soul.SelfResolvedCount, soul.PeerAssistCount, soul.HumanEscalationCount,
			string(specializations), store.MarshalStrings(soul.Achievements), string(abilities),
			soul.TrustScore, soul.TransparencyScore, soul.TrackRecordScore,
		)
		if err != nil {
			return fmt.Errorf("write soul: %w", err)
		}
		return nil
	})
}
