package coordinator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/models"
)

func TestSessionResumeParticipants(t *testing.T) {
	c := openTestCoordinator(t)

	for i := 0; i < 3; i++ {
		_, err := c.AppendChat("alice", models.AuthorAgent, fmt.Sprintf("alice %d", i))
		require.NoError(t, err)
	}
	_, err := c.AppendChat("bob", models.AuthorHuman, "reviewing now")
	require.NoError(t, err)
	// System lines are excluded from participation.
	c.mu.Lock()
	_, err = c.systemLine("bot noise")
	c.mu.Unlock()
	require.NoError(t, err)

	bundle, err := c.SessionResume()
	require.NoError(t, err)
	assert.Equal(t, 5, bundle.ChatMessages)
	require.Len(t, bundle.Participants, 2)
	// Most talkative first.
	assert.Equal(t, "alice", bundle.Participants[0].Author)
	assert.Equal(t, 3, bundle.Participants[0].Messages)
	assert.Equal(t, "alice 2", bundle.Participants[0].LastMessage)
	assert.Equal(t, "bob", bundle.Participants[1].Author)
	assert.Equal(t, models.AuthorHuman, bundle.Participants[1].AuthorType)
}

func TestSessionResumeAccomplishments(t *testing.T) {
	c := openTestCoordinator(t)

	lines := []string{
		"shipped the retry layer\ndetails follow",
		"just chatting",
		"Fixed the flaky lock test",
		"shipped the retry layer\nagain, different details",
		"✅ onboarding bundle done",
	}
	for _, msg := range lines {
		_, err := c.AppendChat("alice", models.AuthorAgent, msg)
		require.NoError(t, err)
	}

	bundle, err := c.SessionResume()
	require.NoError(t, err)
	// First line only, case-insensitive keyword match, deduped.
	assert.Equal(t, []string{
		"shipped the retry layer",
		"Fixed the flaky lock test",
		"✅ onboarding bundle done",
	}, bundle.Accomplishments)
}

func TestSessionResumeAccomplishmentKeywordsConfigurable(t *testing.T) {
	t.Setenv("HIVE_ACCOMPLISHMENT_KEYWORDS", "landed")
	c := openTestCoordinator(t)

	_, err := c.AppendChat("alice", models.AuthorAgent, "shipped the retry layer")
	require.NoError(t, err)
	_, err = c.AppendChat("alice", models.AuthorAgent, "landed the schema change")
	require.NoError(t, err)

	bundle, err := c.SessionResume()
	require.NoError(t, err)
	assert.Equal(t, []string{"landed the schema change"}, bundle.Accomplishments)
}

func TestSessionResumeOpenWorkAndActions(t *testing.T) {
	c := openTestCoordinator(t)

	_, err := c.CreateHandoff(HandoffCreate{FromAgent: "alice", Title: "X", Context: "c"})
	require.NoError(t, err)
	task := mustCreateTask(t, c, "ship", models.PriorityHigh)
	_, err = c.PickupTask(task.ID, "alice")
	require.NoError(t, err)
	_, err = c.Claim("parser", "alice", "")
	require.NoError(t, err)

	bundle, err := c.SessionResume()
	require.NoError(t, err)
	assert.Len(t, bundle.PendingHandoffs, 1)
	assert.Len(t, bundle.InProgressTasks, 1)
	assert.Len(t, bundle.ActiveClaims, 1)

	labels := make([]string, 0, len(bundle.QuickActions))
	for _, qa := range bundle.QuickActions {
		labels = append(labels, qa.Label)
	}
	assert.Equal(t, []string{
		"Claim a pending handoff",
		"Review in-progress tasks",
		"Inspect active claims",
		"Catch up on chat",
	}, labels)
}

func TestSessionResumeDuration(t *testing.T) {
	c := openTestCoordinator(t)

	base := time.Now().UTC()
	c.now = func() time.Time { return base }
	_, err := c.AppendChat("alice", models.AuthorAgent, "start")
	require.NoError(t, err)
	c.now = func() time.Time { return base.Add(90 * time.Second) }
	_, err = c.AppendChat("alice", models.AuthorAgent, "end")
	require.NoError(t, err)

	bundle, err := c.SessionResume()
	require.NoError(t, err)
	assert.Equal(t, int64(90_000), bundle.SessionDurationMs)
}

func TestSessionResumeEmptyDeployment(t *testing.T) {
	c := openTestCoordinator(t)

	bundle, err := c.SessionResume()
	require.NoError(t, err)
	assert.Zero(t, bundle.ChatMessages)
	assert.Empty(t, bundle.Participants)
	assert.Empty(t, bundle.Accomplishments)
	// The chat catch-up action is always offered.
	require.Len(t, bundle.QuickActions, 1)
	assert.Equal(t, "Catch up on chat", bundle.QuickActions[0].Label)
}
