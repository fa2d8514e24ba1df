package agentstate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/models"
)

func TestHeartbeatUpdatesMonitor(t *testing.T) {
	a := openTestAgent(t)

	hb, err := a.RecordHeartbeat(1500, "refactor hub", "working")
	require.NoError(t, err)
	assert.Equal(t, "working", hb.Status)

	view, err := a.GetShadow()
	require.NoError(t, err)
	require.NotNil(t, view.Monitor.LastHeartbeat)
	assert.True(t, view.IsHealthy)
	require.Len(t, view.Heartbeats, 1)
	assert.Equal(t, int64(1500), view.Heartbeats[0].TokensUsed)
}

func TestHeartbeatRingKeepsLast100(t *testing.T) {
	a := openTestAgent(t)

	for i := 0; i < 110; i++ {
		_, err := a.RecordHeartbeat(0, fmt.Sprintf("task-%d", i), "working")
		require.NoError(t, err)
	}

	all, err := a.ListHeartbeats(heartbeatRingSize)
	require.NoError(t, err)
	require.Len(t, all, 100)
	// Newest first; the earliest ten were evicted.
	assert.Equal(t, "task-109", all[0].CurrentTask)
	assert.Equal(t, "task-10", all[99].CurrentTask)
}

func TestShadowRegisterAndTakeover(t *testing.T) {
	a := openTestAgent(t)

	// Takeover without a monitoring shadow is illegal.
	_, err := a.Takeover()
	var stateErr *models.StateError
	require.ErrorAs(t, err, &stateErr)

	monitor, err := a.RegisterShadow("shadow-7", 120_000, 30_000)
	require.NoError(t, err)
	assert.Equal(t, models.ShadowMonitoring, monitor.ShadowStatus)
	assert.Equal(t, "shadow-7", monitor.ShadowID)
	assert.Equal(t, int64(120_000), monitor.StallThresholdMs)
	assert.Equal(t, int64(30_000), monitor.HeartbeatIntervalMs)
	require.NotNil(t, monitor.RegisteredAt)

	monitor, err = a.Takeover()
	require.NoError(t, err)
	assert.Equal(t, models.ShadowTakenOver, monitor.ShadowStatus)
	require.NotNil(t, monitor.TakeoverAt)

	// Already taken over.
	_, err = a.Takeover()
	require.ErrorAs(t, err, &stateErr)
}

func TestRegisterShadowKeepsDefaults(t *testing.T) {
	a := openTestAgent(t)

	monitor, err := a.RegisterShadow("shadow-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(models.DefaultStallThresholdMs), monitor.StallThresholdMs)
	assert.Equal(t, int64(models.DefaultHeartbeatIntervalMs), monitor.HeartbeatIntervalMs)
}

func TestBecomeShadow(t *testing.T) {
	a := openTestAgent(t)

	monitor, err := a.BecomeShadow("primary-agent")
	require.NoError(t, err)
	assert.True(t, monitor.IsShadow)
	assert.Equal(t, "primary-agent", monitor.PrimaryAgent)

	_, err = a.BecomeShadow("test-agent")
	assert.Error(t, err, "an agent cannot shadow itself")
}

func TestHealthDerivedFromStallThreshold(t *testing.T) {
	a := openTestAgent(t)

	_, err := a.RegisterShadow("shadow-1", 60_000, 0)
	require.NoError(t, err)
	_, err = a.RecordHeartbeat(0, "", "working")
	require.NoError(t, err)

	view, err := a.GetShadow()
	require.NoError(t, err)
	assert.True(t, view.IsHealthy)

	// Stalled past the threshold.
	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	view, err = a.GetShadow()
	require.NoError(t, err)
	assert.False(t, view.IsHealthy)
}

func TestNoHeartbeatIsUnhealthy(t *testing.T) {
	a := openTestAgent(t)

	view, err := a.GetShadow()
	require.NoError(t, err)
	assert.False(t, view.IsHealthy)
	assert.Equal(t, models.ShadowNone, view.Monitor.ShadowStatus)
}
