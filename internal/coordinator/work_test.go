package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/models"
)

func TestGetWorkBundle(t *testing.T) {
	c := openTestCoordinator(t)

	idle := models.AgentStatusIdle
	_, err := c.UpsertAgent("alice", AgentUpdate{Status: &idle})
	require.NoError(t, err)
	_, err = c.UpsertAgent("bob", AgentUpdate{})
	require.NoError(t, err)

	todo := mustCreateTask(t, c, "write docs", models.PriorityLow)
	mine := mustCreateTask(t, c, "ship parser", models.PriorityHigh)
	_, err = c.PickupTask(mine.ID, "alice")
	require.NoError(t, err)
	_, err = c.AppendChat("bob", models.AuthorAgent, "hello")
	require.NoError(t, err)

	bundle, err := c.GetWork("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", bundle.AgentID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, bundle.ActiveAgents)
	require.Len(t, bundle.Tasks.Todo, 1)
	assert.Equal(t, todo.ID, bundle.Tasks.Todo[0].ID)
	require.Len(t, bundle.Tasks.Mine, 1)
	assert.Equal(t, mine.ID, bundle.Tasks.Mine[0].ID)
	assert.NotEmpty(t, bundle.RecentChat)

	// The snapshot promotes the caller to active.
	alice, err := c.GetAgent("alice")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, alice.Status)
}
