package agentstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/models"
)

func TestFlowStateOfflineByDefault(t *testing.T) {
	a := openTestAgent(t)

	flow, err := a.GetFlowState()
	require.NoError(t, err)
	assert.Equal(t, FlowOffline, flow.State)
	assert.False(t, flow.RespectFlow)
}

func TestFlowStateAvailableWithRecentTrace(t *testing.T) {
	a := openTestAgent(t)

	_, err := a.StartTrace("warming up", "")
	require.NoError(t, err)

	flow, err := a.GetFlowState()
	require.NoError(t, err)
	assert.Equal(t, FlowAvailable, flow.State)
}

func TestFlowStateInFlow(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("productive run", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = a.AddStep(trace.SessionID, StepInput{Tool: "editor", Outcome: models.OutcomeFound, DurationMs: 200})
		require.NoError(t, err)
	}

	flow, err := a.GetFlowState()
	require.NoError(t, err)
	assert.Equal(t, FlowInFlow, flow.State)
	assert.True(t, flow.RespectFlow)
	require.NotNil(t, flow.Since)
	assert.GreaterOrEqual(t, flow.DurationMs, int64(0))
}

func TestFlowStateStuckOverridesFlow(t *testing.T) {
	a := openTestAgent(t)

	trace, err := a.StartTrace("stuck run", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = a.AddStep(trace.SessionID, StepInput{Tool: "grep", Outcome: models.OutcomeNothing, DurationMs: 100})
		require.NoError(t, err)
	}

	flow, err := a.GetFlowState()
	require.NoError(t, err)
	assert.Equal(t, FlowStuck, flow.State)

	// Resolving the escalation clears the stuck classification.
	_, err = a.ResolveEscalation(trace.SessionID, "", models.ResolvedBySelf, "", "")
	require.NoError(t, err)
	flow, err = a.GetFlowState()
	require.NoError(t, err)
	assert.NotEqual(t, FlowStuck, flow.State)
}

func TestDashboardAggregates(t *testing.T) {
	a := openTestAgent(t)

	_, _, err := a.GetOrCreateSoul()
	require.NoError(t, err)
	sid := completeCleanTrace(t, a)
	_, err = a.UpdateFromTrace(sid, "")
	require.NoError(t, err)
	_, err = a.RecordHeartbeat(100, "dashboards", "working")
	require.NoError(t, err)

	d, err := a.GetDashboard()
	require.NoError(t, err)
	assert.Equal(t, "test-agent", d.AgentID)
	require.NotNil(t, d.Soul)
	assert.Equal(t, 40, d.Soul.TotalXP)
	assert.NotEmpty(t, d.RecentTraces)
	assert.Empty(t, d.PendingEscalations)
	assert.True(t, d.HeartbeatHealthy)
	require.NotNil(t, d.NextLevel)
	assert.Equal(t, models.LevelCapable, d.NextLevel.Level)
	assert.Equal(t, 60, d.NextLevel.XPNeeded)
	assert.Equal(t, 2, d.NextLevel.StreakNeeded)
	assert.Equal(t, 4, d.NextLevel.TasksNeeded)
	assert.LessOrEqual(t, len(d.Suggestions), 5)
}

func TestDashboardSurfacesPendingEscalations(t *testing.T) {
	a := openTestAgent(t)
	_, _, err := a.GetOrCreateSoul()
	require.NoError(t, err)

	trace, err := a.StartTrace("stuck", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = a.AddStep(trace.SessionID, StepInput{Tool: "grep", Outcome: models.OutcomeNothing, DurationMs: 100})
		require.NoError(t, err)
	}

	d, err := a.GetDashboard()
	require.NoError(t, err)
	assert.NotEmpty(t, d.PendingEscalations)
	assert.Equal(t, FlowStuck, d.Flow.State)
	require.NotEmpty(t, d.Suggestions)
	assert.Contains(t, d.Suggestions[0], "escalation")
}

func TestStreakAtRisk(t *testing.T) {
	a := openTestAgent(t)
	_, _, err := a.GetOrCreateSoul()
	require.NoError(t, err)
	sid := completeCleanTrace(t, a)
	_, err = a.UpdateFromTrace(sid, "")
	require.NoError(t, err)

	d, err := a.GetDashboard()
	require.NoError(t, err)
	assert.False(t, d.StreakAtRisk)

	// A day and a bit of idleness puts the streak at risk.
	a.now = func() time.Time { return time.Now().Add(26 * time.Hour) }
	d, err = a.GetDashboard()
	require.NoError(t, err)
	assert.True(t, d.StreakAtRisk)
}

func TestStateSummary(t *testing.T) {
	a := openTestAgent(t)

	_, _, err := a.GetOrCreateSoul()
	require.NoError(t, err)
	_, err = a.SaveCheckpoint(CheckpointUpdate{PendingWork: []string{"wire the hub"}})
	require.NoError(t, err)
	_, err = a.AppendMessage("bob", "note", "ping")
	require.NoError(t, err)
	trace, err := a.StartTrace("ongoing", "")
	require.NoError(t, err)

	s, err := a.GetState()
	require.NoError(t, err)
	assert.Equal(t, "test-agent", s.AgentID)
	assert.Equal(t, 1, s.UnreadMessages)
	assert.Equal(t, []string{trace.SessionID}, s.OpenTraces)
	assert.Equal(t, models.LevelNovice, s.SoulLevel)
	assert.Equal(t, []string{"wire the hub"}, s.Checkpoint.PendingWork)
}
