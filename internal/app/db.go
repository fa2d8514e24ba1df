package app

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
)

// DataDir resolves the directory holding every singleton's SQLite file.
// Order of precedence:
// 1) CLI override (e.g. --data-dir)
// 2) Environment variable: HIVE_DATA_DIR
// 3) config.yaml: data_dir
// 4) Default: ~/.config/hive/data
// The directory is created if missing.
func DataDir() (string, error) {
	dir, _, err := ResolveDataDirDetailed()
	return dir, err
}

// ResolveDataDirDetailed returns the resolved data dir along with the source
// of that decision. This is for debugging/reporting; normal code should use DataDir.
func ResolveDataDirDetailed() (dir string, source string, err error) {
	if override := getDataDirOverride(); override != "" {
		d, err := ensureDir(override)
		return d, "cli(--data-dir)", err
	}

	if envDir := os.Getenv("HIVE_DATA_DIR"); envDir != "" {
		d, err := ensureDir(envDir)
		return d, "env(HIVE_DATA_DIR)", err
	}

	cfg, err := LoadSettings()
	if err != nil {
		return "", "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DataDir != "" {
		d, err := ensureDir(cfg.DataDir)
		return d, "config(data_dir)", err
	}

	configDir, err := ConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	d, err := ensureDir(filepath.Join(configDir, "data"))
	return d, "default(~/.config/hive/data)", err
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// CoordinatorDBPath is the single Coordinator instance's database file.
func CoordinatorDBPath(dataDir string) string {
	return filepath.Join(dataDir, "coordinator.db")
}

// AgentDBPath is the database file for one agent's AgentState singleton.
func AgentDBPath(dataDir, agentID string) string {
	return filepath.Join(dataDir, "agents", InstanceFileName(agentID)+".db")
}

// LockDBPath is the database file for one resource path's Lock singleton.
func LockDBPath(dataDir, resourcePath string) string {
	return filepath.Join(dataDir, "locks", InstanceFileName(resourcePath)+".db")
}

// InstanceFileName maps an opaque instance id (agentId, resource path) onto
// a filesystem-safe file stem. Unsafe characters become '_'; when anything
// was rewritten an FNV suffix keeps distinct ids from colliding
// (e.g. "/src/a" vs "/src_a").
func InstanceFileName(id string) string {
	var b strings.Builder
	rewritten := false
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			rewritten = true
		}
	}
	name := b.String()
	if name == "" || name == "." || name == ".." {
		name = "_"
		rewritten = true
	}
	// Leave room for the ".db" suffix within common filename limits.
	if len(name) > 200 {
		name = name[:200]
		rewritten = true
	}
	if rewritten {
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		name = fmt.Sprintf("%s-%08x", name, h.Sum32())
	}
	return name
}
