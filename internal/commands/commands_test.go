package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/hive/internal/app"
)

func useTempDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	app.SetDataDirOverride(dir)
	t.Cleanup(func() { app.SetDataDirOverride("") })
	return dir
}

func TestMigrateCreatesCoordinatorDB(t *testing.T) {
	dir := useTempDataDir(t)

	cmd := NewMigrateCmd()
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	require.FileExists(t, filepath.Join(dir, "coordinator.db"))
}

func TestStatusRunsAgainstFreshDataDir(t *testing.T) {
	useTempDataDir(t)

	cmd := NewStatusCmd()
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
}
