package coordinator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/pkg/protocol"
)

func openTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()

	dir := t.TempDir()
	reg := agentstate.NewRegistry(dir)
	c, err := Open(filepath.Join(dir, "coordinator.db"), reg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
		_ = reg.Close()
	})
	return c
}

// captureFrames subscribes a collector to the coordinator's broadcaster
// and returns the growing frame slice.
func captureFrames(t *testing.T, c *Coordinator, agentID string) *[]protocol.Frame {
	t.Helper()

	frames := &[]protocol.Frame{}
	c.Events().Subscribe(agentID, func(f protocol.Frame) error {
		*frames = append(*frames, f)
		return nil
	})
	return frames
}
