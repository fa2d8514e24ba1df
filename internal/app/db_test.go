package app

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceFileNameSafeIDsUnchanged(t *testing.T) {
	assert.Equal(t, "alice", InstanceFileName("alice"))
	assert.Equal(t, "agent-7.worker_2", InstanceFileName("agent-7.worker_2"))
}

func TestInstanceFileNameSanitizesPaths(t *testing.T) {
	name := InstanceFileName("/src/parser")
	assert.NotContains(t, name, "/")
	assert.True(t, strings.HasPrefix(name, "_src_parser-"), name)
}

func TestInstanceFileNameDistinctIDsNeverCollide(t *testing.T) {
	// Both sanitize to "_src_a" before the hash suffix.
	assert.NotEqual(t, InstanceFileName("/src/a"), InstanceFileName("/src_a"))
	assert.NotEqual(t, InstanceFileName(""), InstanceFileName("alice"))
}

func TestInstanceFileNameBoundsLength(t *testing.T) {
	long := strings.Repeat("a", 400)
	name := InstanceFileName(long)
	assert.LessOrEqual(t, len(name), 220)
	assert.NotEqual(t, name, InstanceFileName(long+"b"))
}

func TestSingletonDBPaths(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "coordinator.db"), CoordinatorDBPath(dir))
	assert.Equal(t, filepath.Join(dir, "agents", "alice.db"), AgentDBPath(dir, "alice"))

	lockPath := LockDBPath(dir, "/src/foo")
	assert.Equal(t, filepath.Join(dir, "locks"), filepath.Dir(lockPath))
	assert.True(t, strings.HasSuffix(lockPath, ".db"))
}

func TestDataDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HIVE_DATA_DIR", dir)

	resolved, source, err := ResolveDataDirDetailed()
	require.NoError(t, err)
	assert.Equal(t, dir, resolved)
	assert.Equal(t, "env(HIVE_DATA_DIR)", source)
}

func TestDataDirCLIOverrideWinsOverEnv(t *testing.T) {
	envDir := t.TempDir()
	cliDir := t.TempDir()
	t.Setenv("HIVE_DATA_DIR", envDir)

	SetDataDirOverride(cliDir)
	defer SetDataDirOverride("")

	resolved, source, err := ResolveDataDirDetailed()
	require.NoError(t, err)
	assert.Equal(t, cliDir, resolved)
	assert.Equal(t, "cli(--data-dir)", source)
}
