package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/models"
	"github.com/dotcommander/hive/pkg/protocol"
)

func TestHandoffRoundTrip(t *testing.T) {
	c := openTestCoordinator(t)

	h, err := c.CreateHandoff(HandoffCreate{
		FromAgent: "alice",
		Title:     "X",
		Context:   "c",
		Priority:  models.PriorityMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, models.HandoffPending, h.Status)
	assert.Nil(t, h.ClaimedAt)

	claimed, err := c.ClaimHandoff(h.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.HandoffClaimed, claimed.Status)
	assert.Equal(t, "bob", claimed.ClaimedBy)
	require.NotNil(t, claimed.ClaimedAt)

	// Only the claimant may complete.
	_, err = c.CompleteHandoff(h.ID, "carol")
	var ownership *models.OwnershipError
	require.ErrorAs(t, err, &ownership)
	assert.Equal(t, "bob", ownership.Owner)

	done, err := c.CompleteHandoff(h.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.HandoffCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// A completed handoff cannot be claimed again.
	_, err = c.ClaimHandoff(h.ID, "carol")
	var stateErr *models.StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestHandoffDirectedClaim(t *testing.T) {
	c := openTestCoordinator(t)

	h, err := c.CreateHandoff(HandoffCreate{
		FromAgent: "alice",
		ToAgent:   "bob",
		Title:     "auth fix",
		Context:   "session cookie rotation half done",
	})
	require.NoError(t, err)

	_, err = c.ClaimHandoff(h.ID, "carol")
	var ownership *models.OwnershipError
	require.ErrorAs(t, err, &ownership)

	claimed, err := c.ClaimHandoff(h.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", claimed.ClaimedBy)
}

func TestHandoffValidation(t *testing.T) {
	c := openTestCoordinator(t)

	_, err := c.CreateHandoff(HandoffCreate{Title: "x", Context: "c"})
	assert.Error(t, err, "fromAgent is required")
	_, err = c.CreateHandoff(HandoffCreate{FromAgent: "a", Context: "c"})
	assert.Error(t, err, "title is required")
	_, err = c.CreateHandoff(HandoffCreate{FromAgent: "a", Title: "x"})
	assert.Error(t, err, "context is required")

	_, err = c.ClaimHandoff("handoff_missing", "bob")
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestPendingHandoffsFor(t *testing.T) {
	c := openTestCoordinator(t)

	anyone, err := c.CreateHandoff(HandoffCreate{FromAgent: "alice", Title: "open", Context: "c"})
	require.NoError(t, err)
	_, err = c.CreateHandoff(HandoffCreate{FromAgent: "alice", ToAgent: "carol", Title: "directed", Context: "c"})
	require.NoError(t, err)

	mine, err := c.PendingHandoffsFor("bob", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, anyone.ID, mine[0].ID)

	carols, err := c.PendingHandoffsFor("carol", 10)
	require.NoError(t, err)
	assert.Len(t, carols, 2)
}

func TestHandoffBroadcasts(t *testing.T) {
	c := openTestCoordinator(t)
	frames := captureFrames(t, c, "watcher")

	h, err := c.CreateHandoff(HandoffCreate{FromAgent: "alice", Title: "X", Context: "c"})
	require.NoError(t, err)
	_, err = c.ClaimHandoff(h.ID, "bob")
	require.NoError(t, err)
	_, err = c.CompleteHandoff(h.ID, "bob")
	require.NoError(t, err)

	require.Len(t, *frames, 3)
	actions := []string{}
	for _, f := range *frames {
		assert.Equal(t, protocol.FrameTaskUpdate, f.Type)
		var ev struct {
			Action string `json:"action"`
		}
		require.NoError(t, f.Decode(&ev))
		actions = append(actions, ev.Action)
	}
	assert.Equal(t, []string{
		protocol.ActionHandoffCreated,
		protocol.ActionHandoffClaimed,
		protocol.ActionHandoffComplete,
	}, actions)
}
