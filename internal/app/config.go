package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/hive/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "hive"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

const defaultConfig = `# hive configuration
# Run: hive --help

# Optional: override where the per-singleton SQLite files live.
# Can also be set via HIVE_DATA_DIR or --data-dir.
# data_dir: ~/.config/hive/data

# Listen address for 'hive serve'. Also HIVE_ADDR or --addr.
# addr: ":8787"

# Group chat rows kept after opportunistic pruning. Also HIVE_CHAT_RETENTION.
# chat_retention: 1000

# Keywords that mark a chat line as an accomplishment in session-resume.
# Also HIVE_ACCOMPLISHMENT_KEYWORDS (comma-separated).
# accomplishment_keywords: ["shipped", "completed", "built"]
`
