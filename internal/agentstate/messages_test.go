package agentstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndListMessages(t *testing.T) {
	a := openTestAgent(t)

	_, err := a.AppendMessage("bob", "note", "heads up, schema changed")
	require.NoError(t, err)
	_, err = a.AppendMessage("carol", "mention", "see #42")
	require.NoError(t, err)

	msgs, err := a.ListMessages(false, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Chronological order, oldest first.
	assert.Equal(t, "bob", msgs[0].From)
	assert.Equal(t, "carol", msgs[1].From)
	assert.False(t, msgs[0].Read)
}

func TestMarkMessagesRead(t *testing.T) {
	a := openTestAgent(t)

	m1, err := a.AppendMessage("bob", "note", "one")
	require.NoError(t, err)
	_, err = a.AppendMessage("bob", "note", "two")
	require.NoError(t, err)

	n, err := a.MarkMessagesRead([]string{m1.ID, "msg_unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unread, err := a.ListMessages(true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "two", unread[0].Message)
}

func TestAppendMessageValidation(t *testing.T) {
	a := openTestAgent(t)

	_, err := a.AppendMessage("", "note", "hi")
	assert.Error(t, err)
	_, err = a.AppendMessage("bob", "note", "")
	assert.Error(t, err)

	// Empty type defaults to note.
	dm, err := a.AppendMessage("bob", "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "note", dm.Type)
}

func TestMemorySearch(t *testing.T) {
	a := openTestAgent(t)

	_, err := a.AppendMemory("architecture", "the hub uses one sqlite file per singleton", []string{"storage"})
	require.NoError(t, err)
	_, err = a.AppendMemory("gotcha", "goose dialect is sqlite3 even with modernc", []string{"migrations", "sqlite"})
	require.NoError(t, err)
	_, err = a.AppendMemory("architecture", "locks run their own expiry timers", []string{"ttl"})
	require.NoError(t, err)

	byCategory, err := a.SearchMemory("architecture", "")
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	byContent, err := a.SearchMemory("", "goose")
	require.NoError(t, err)
	require.Len(t, byContent, 1)
	assert.Equal(t, "gotcha", byContent[0].Category)

	// Tag substrings match too.
	byTag, err := a.SearchMemory("", "migrations")
	require.NoError(t, err)
	assert.Len(t, byTag, 1)

	both, err := a.SearchMemory("architecture", "timers")
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Contains(t, both[0].Content, "expiry")
}
