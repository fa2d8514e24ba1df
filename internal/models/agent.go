package models

import "time"

// Checkpoint is the per-agent resumable working state. A save merges at the
// field level: null/missing fields preserve the prior value.
type Checkpoint struct {
	ConversationSummary string     `json:"conversationSummary,omitempty"`
	Accomplishments     []string   `json:"accomplishments"`
	PendingWork         []string   `json:"pendingWork"`
	RecentContext       string     `json:"recentContext,omitempty"`
	FilesEdited         []string   `json:"filesEdited"`
	CheckpointAt        *time.Time `json:"checkpointAt,omitempty"`
}

// HasContent returns true if the checkpoint carries anything worth resuming.
func (c *Checkpoint) HasContent() bool {
	return c != nil && (c.ConversationSummary != "" || len(c.PendingWork) > 0)
}

// DirectMessage is a message addressed to one agent.
type DirectMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryEntry is one item in an agent's long-term memory.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// StepOutcome classifies what a work step produced.
type StepOutcome string

// Step outcome constants.
const (
	OutcomeFound   StepOutcome = "found"
	OutcomePartial StepOutcome = "partial"
	OutcomeNothing StepOutcome = "nothing"
	OutcomeError   StepOutcome = "error"
)

// Productive returns true for outcomes that moved the task forward.
func (o StepOutcome) Productive() bool { return o == OutcomeFound || o == OutcomePartial }

// Valid reports whether o is a known outcome.
func (o StepOutcome) Valid() bool {
	switch o {
	case OutcomeFound, OutcomePartial, OutcomeNothing, OutcomeError:
		return true
	}
	return false
}

// ContributionType rates how much a step contributed to the solution.
type ContributionType string

// Contribution type constants.
const (
	ContributionDirect     ContributionType = "direct"
	ContributionSupporting ContributionType = "supporting"
	ContributionMinimal    ContributionType = "minimal"
)

// WorkStep is one tool-using step inside a work trace.
type WorkStep struct {
	ID               string           `json:"id"`
	Timestamp        time.Time        `json:"timestamp"`
	Tool             string           `json:"tool"`
	Intent           string           `json:"intent"`
	Outcome          StepOutcome      `json:"outcome"`
	DurationMs       int64            `json:"durationMs"`
	ContributionType ContributionType `json:"contributionType,omitempty"`
	KnowledgeGained  []string         `json:"knowledgeGained"`
	EliminatedPaths  int              `json:"eliminatedPaths"`
	DependsOn        []string         `json:"dependsOn"`
}

// TraceSummary is computed when a trace completes.
type TraceSummary struct {
	TotalSteps        int     `json:"totalSteps"`
	DeadEnds          int     `json:"deadEnds"`
	ExplorationTimeMs int64   `json:"explorationTimeMs"`
	SolutionTimeMs    int64   `json:"solutionTimeMs"`
	Efficiency        float64 `json:"efficiency"`
}

// WorkTrace is an ordered log of steps taken during one task session.
type WorkTrace struct {
	SessionID   string        `json:"sessionId"`
	Task        string        `json:"task"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Steps       []WorkStep    `json:"steps"`
	Summary     *TraceSummary `json:"summary,omitempty"`
}

// IsOpen returns true while the trace has not been completed.
func (t *WorkTrace) IsOpen() bool { return t.CompletedAt == nil }

// EscalationTrigger is one fired stuck-detection rule.
type EscalationTrigger struct {
	Type       string    `json:"type"`
	Level      int       `json:"level"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detectedAt"`
}

// Escalation trigger type constants.
const (
	TriggerStuckLoop         = "stuck_loop"
	TriggerRepeatedFailures  = "repeated_failures"
	TriggerErrorAccumulation = "error_accumulation"
	TriggerTimeExceeded      = "time_exceeded"
	TriggerLowEfficiency     = "low_efficiency"
)

// EscalationResolver identifies who resolved an escalation.
type EscalationResolver string

// Resolver constants.
const (
	ResolvedBySelf  EscalationResolver = "self"
	ResolvedByPeer  EscalationResolver = "peer"
	ResolvedByHuman EscalationResolver = "human"
)

// Valid reports whether r is a known resolver.
func (r EscalationResolver) Valid() bool {
	return r == ResolvedBySelf || r == ResolvedByPeer || r == ResolvedByHuman
}

// Escalation records that an agent appeared stuck, with severity and outcome.
type Escalation struct {
	ID            string              `json:"id"`
	SessionID     string              `json:"sessionId"`
	TriggeredAt   time.Time           `json:"triggeredAt"`
	Triggers      []EscalationTrigger `json:"triggers"`
	HighestLevel  int                 `json:"highestLevel"`
	ResolvedAt    *time.Time          `json:"resolvedAt,omitempty"`
	ResolvedBy    EscalationResolver  `json:"resolvedBy,omitempty"`
	ResolverAgent string              `json:"resolverAgent,omitempty"`
	HelpfulHint   string              `json:"helpfulHint,omitempty"`
}

// IsResolved returns true once the escalation was resolved.
func (e *Escalation) IsResolved() bool { return e.ResolvedAt != nil }

// SoulLevel is the progression tier of an agent's soul.
type SoulLevel string

// Soul level constants, lowest first.
const (
	LevelNovice  SoulLevel = "novice"
	LevelCapable SoulLevel = "capable"
	LevelExpert  SoulLevel = "expert"
	LevelMaster  SoulLevel = "master"
)

// Abilities are capability flags unlocked by level.
type Abilities struct {
	CanCommit         bool `json:"canCommit"`
	CanSpawnSubagents bool `json:"canSpawnSubagents"`
	CanAccessProd     bool `json:"canAccessProd"`
	CanMentorPeers    bool `json:"canMentorPeers"`
	ExtendedBudget    bool `json:"extendedBudget"`
}

// Soul is the persistent gamified progression record of an agent.
type Soul struct {
	SoulID               string         `json:"soulId"`
	Name                 string         `json:"name"`
	Personality          string         `json:"personality,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	TotalXP              int            `json:"totalXP"`
	Level                SoulLevel      `json:"level"`
	CurrentStreak        int            `json:"currentStreak"`
	LongestStreak        int            `json:"longestStreak"`
	TasksCompleted       int            `json:"tasksCompleted"`
	TasksSuccessful      int            `json:"tasksSuccessful"`
	AvgEfficiency        float64        `json:"avgEfficiency"`
	PeersHelped          int            `json:"peersHelped"`
	LastTraceID          string         `json:"lastTraceId,omitempty"`
	LastTraceAt          *time.Time     `json:"lastTraceAt,omitempty"`
	EscalationCount      int            `json:"escalationCount"`
	SelfResolvedCount    int            `json:"selfResolvedCount"`
	PeerAssistCount      int            `json:"peerAssistCount"`
	HumanEscalationCount int            `json:"humanEscalationCount"`
	Specializations      map[string]int `json:"specializations"`
	Achievements         []string       `json:"achievements"`
	Abilities            Abilities      `json:"abilities"`
	TrustScore           float64        `json:"trustScore"`
	TransparencyScore    float64        `json:"transparencyScore"`
	TrackRecordScore     float64        `json:"trackRecordScore"`

	// Derived on read, never stored.
	RustLevel             float64 `json:"rustLevel"`
	EffectiveXPMultiplier float64 `json:"effectiveXPMultiplier"`
}

// SpecializationDomains are the recognized specialization buckets.
var SpecializationDomains = []string{"frontend", "backend", "devops", "research"}

// ShadowStatus is the state of the shadow takeover mechanism.
type ShadowStatus string

// Shadow status constants.
const (
	ShadowNone       ShadowStatus = "none"
	ShadowMonitoring ShadowStatus = "monitoring"
	ShadowTakenOver  ShadowStatus = "taken-over"
)

// Shadow monitor defaults.
const (
	DefaultHeartbeatIntervalMs = 60_000
	DefaultStallThresholdMs    = 300_000
)

// ShadowMonitor holds the heartbeat-based takeover state for one agent.
type ShadowMonitor struct {
	ShadowID            string       `json:"shadowId,omitempty"`
	ShadowStatus        ShadowStatus `json:"shadowStatus"`
	PrimaryAgent        string       `json:"primaryAgent,omitempty"`
	IsShadow            bool         `json:"isShadow"`
	LastHeartbeat       *time.Time   `json:"lastHeartbeat,omitempty"`
	HeartbeatIntervalMs int64        `json:"heartbeatIntervalMs"`
	StallThresholdMs    int64        `json:"stallThresholdMs"`
	RegisteredAt        *time.Time   `json:"registeredAt,omitempty"`
	TakeoverAt          *time.Time   `json:"takeoverAt,omitempty"`
}

// IsHealthy reports whether the primary heartbeat is within the stall threshold.
func (m *ShadowMonitor) IsHealthy(now time.Time) bool {
	if m.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*m.LastHeartbeat) < time.Duration(m.StallThresholdMs)*time.Millisecond
}

// Heartbeat is one liveness report from an agent.
type Heartbeat struct {
	Timestamp   time.Time `json:"timestamp"`
	TokensUsed  int64     `json:"tokensUsed,omitempty"`
	CurrentTask string    `json:"currentTask,omitempty"`
	Status      string    `json:"status"`
}
