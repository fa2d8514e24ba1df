package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/internal/models"
)

func TestOnboardNewAgent(t *testing.T) {
	c := openTestCoordinator(t)

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	assert.True(t, bundle.IsNew)
	require.NotNil(t, bundle.Soul)
	assert.Equal(t, models.LevelNovice, bundle.Soul.Level)

	// Empty deployment: nothing to resume, no handoffs, no backlog.
	require.NotNil(t, bundle.SuggestedTask)
	assert.Equal(t, SuggestIntroduce, bundle.SuggestedTask.Type)
	assert.Equal(t, 10, bundle.SuggestedTask.XPEstimate)
	assert.Equal(t, models.PriorityLow, bundle.SuggestedTask.Priority)

	// First contact registered the agent.
	agent, err := c.GetAgent("alice")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, agent.Status)
}

func TestOnboardSuggestsCheckpointResume(t *testing.T) {
	c := openTestCoordinator(t)

	state, err := c.agents.Get("alice")
	require.NoError(t, err)
	_, err = state.SaveCheckpoint(agentstate.CheckpointUpdate{PendingWork: []string{"finish parser"}})
	require.NoError(t, err)

	// A pending handoff and an open task exist, but the checkpoint wins.
	_, err = c.CreateHandoff(HandoffCreate{FromAgent: "bob", Title: "X", Context: "c"})
	require.NoError(t, err)
	mustCreateTask(t, c, "ship", models.PriorityHigh)

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	require.NotNil(t, bundle.SuggestedTask)
	assert.Equal(t, SuggestResume, bundle.SuggestedTask.Type)
	assert.Equal(t, "finish parser", bundle.SuggestedTask.Task)
	assert.Contains(t, bundle.SuggestedTask.Reason, "previous session")
	assert.Equal(t, 30, bundle.SuggestedTask.XPEstimate)
	assert.Equal(t, models.PriorityHigh, bundle.SuggestedTask.Priority)
	require.NotNil(t, bundle.Checkpoint)
	assert.Equal(t, []string{"finish parser"}, bundle.Checkpoint.PendingWork)
}

func TestOnboardSuggestsPendingHandoff(t *testing.T) {
	c := openTestCoordinator(t)

	h, err := c.CreateHandoff(HandoffCreate{FromAgent: "bob", Title: "auth fix", Context: "c"})
	require.NoError(t, err)
	mustCreateTask(t, c, "ship", models.PriorityHigh)

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	require.NotNil(t, bundle.SuggestedTask)
	assert.Equal(t, SuggestHandoff, bundle.SuggestedTask.Type)
	assert.Equal(t, h.ID, bundle.SuggestedTask.HandoffID)
	assert.Equal(t, 50, bundle.SuggestedTask.XPEstimate)
	assert.Equal(t, models.PriorityMedium, bundle.SuggestedTask.Priority)
}

func TestOnboardSuggestsUnassignedTodo(t *testing.T) {
	c := openTestCoordinator(t)

	assigned := mustCreateTask(t, c, "taken", models.PriorityCritical)
	_, err := c.PickupTask(assigned.ID, "bob")
	require.NoError(t, err)
	open := mustCreateTask(t, c, "open", models.PriorityHigh)

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	require.NotNil(t, bundle.SuggestedTask)
	assert.Equal(t, SuggestTask, bundle.SuggestedTask.Type)
	assert.Equal(t, open.ID, bundle.SuggestedTask.TaskID)
	assert.Equal(t, 25, bundle.SuggestedTask.XPEstimate)
	// The suggestion inherits the task's own priority.
	assert.Equal(t, models.PriorityHigh, bundle.SuggestedTask.Priority)
}

func TestOnboardTeamFlow(t *testing.T) {
	c := openTestCoordinator(t)

	working := "hub refactor"
	_, err := c.UpsertAgent("bob", AgentUpdate{WorkingOn: &working})
	require.NoError(t, err)

	// Bob has five recent productive steps: in flow, do not interrupt.
	state, err := c.agents.Get("bob")
	require.NoError(t, err)
	trace, err := state.StartTrace("hub refactor", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = state.AddStep(trace.SessionID, agentstate.StepInput{Tool: "editor", Outcome: models.OutcomeFound, DurationMs: 100})
		require.NoError(t, err)
	}

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	require.Len(t, bundle.Team, 1)
	assert.Equal(t, "bob", bundle.Team[0].AgentID)
	assert.Equal(t, agentstate.FlowInFlow, bundle.Team[0].Flow)
	assert.True(t, bundle.Team[0].RespectFlow)
	assert.Equal(t, "hub refactor", bundle.Team[0].WorkingOn)
}

func TestOnboardIncludesRecentChat(t *testing.T) {
	c := openTestCoordinator(t)

	for _, msg := range []string{"one", "two", "three", "four", "five", "six"} {
		_, err := c.AppendChat("bob", models.AuthorAgent, msg)
		require.NoError(t, err)
	}

	bundle, err := c.Onboard("alice")
	require.NoError(t, err)
	require.Len(t, bundle.RecentChat, 5)
	assert.Equal(t, "two", bundle.RecentChat[0].Message)
	assert.Equal(t, "six", bundle.RecentChat[4].Message)
}
