package agentstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestCheckpointFieldLevelMerge(t *testing.T) {
	a := openTestAgent(t)

	first, err := a.SaveCheckpoint(CheckpointUpdate{
		ConversationSummary: strptr("building the parser"),
		PendingWork:         []string{"finish parser"},
		FilesEdited:         []string{"parser.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, "building the parser", first.ConversationSummary)
	require.NotNil(t, first.CheckpointAt)

	// Nil fields preserve prior values; non-nil overwrite.
	second, err := a.SaveCheckpoint(CheckpointUpdate{
		Accomplishments: []string{"parser compiles"},
	})
	require.NoError(t, err)
	assert.Equal(t, "building the parser", second.ConversationSummary)
	assert.Equal(t, []string{"finish parser"}, second.PendingWork)
	assert.Equal(t, []string{"parser compiles"}, second.Accomplishments)
	assert.Equal(t, []string{"parser.go"}, second.FilesEdited)

	loaded, err := a.GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, second.PendingWork, loaded.PendingWork)
	assert.Equal(t, second.ConversationSummary, loaded.ConversationSummary)
}

func TestCheckpointEmptySliceOverwrites(t *testing.T) {
	a := openTestAgent(t)

	_, err := a.SaveCheckpoint(CheckpointUpdate{PendingWork: []string{"x", "y"}})
	require.NoError(t, err)

	// An explicitly empty list clears, unlike a nil one.
	cp, err := a.SaveCheckpoint(CheckpointUpdate{PendingWork: []string{}})
	require.NoError(t, err)
	assert.Empty(t, cp.PendingWork)
}

func TestGetCheckpointBeforeAnySave(t *testing.T) {
	a := openTestAgent(t)

	cp, err := a.GetCheckpoint()
	require.NoError(t, err)
	assert.Nil(t, cp.CheckpointAt)
	assert.Empty(t, cp.PendingWork)
	assert.False(t, cp.HasContent())
}
