package agentstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestAgent(t *testing.T) *AgentState {
	t.Helper()

	a, err := Open("test-agent", filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRegistryReusesInstances(t *testing.T) {
	r := NewRegistry(t.TempDir())
	t.Cleanup(func() { _ = r.Close() })

	a, err := r.Get("alice")
	require.NoError(t, err)
	b, err := r.Get("alice")
	require.NoError(t, err)
	require.Same(t, a, b)

	other, err := r.Get("bob")
	require.NoError(t, err)
	require.NotSame(t, a, other)
}

func TestOpenRejectsEmptyAgentID(t *testing.T) {
	_, err := Open("", filepath.Join(t.TempDir(), "agent.db"))
	require.Error(t, err)
}
