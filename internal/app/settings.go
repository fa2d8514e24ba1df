package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DataDir                string   `yaml:"data_dir"`
	Addr                   string   `yaml:"addr"`
	ChatRetention          int      `yaml:"chat_retention"`
	AccomplishmentKeywords []string `yaml:"accomplishment_keywords"`
}

const (
	defaultAddr          = ":8787"
	defaultChatRetention = 1000
)

// defaultAccomplishmentKeywords mark a chat line as a shipped result when
// building the session-resume bundle. Overridable via config or env.
var defaultAccomplishmentKeywords = []string{
	"✅", "shipped", "completed", "built", "added", "fixed", "implemented", "deployed",
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dataDirOverrideMu and dataDirOverride implement a mutex-protected process-wide override for CLI --data-dir.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dataDirOverrideMu sync.RWMutex
	dataDirOverride   string
)

// SetDataDirOverride sets a process-wide data directory override.
// Intended for CLI flag support (e.g. --data-dir).
func SetDataDirOverride(path string) {
	dataDirOverrideMu.Lock()
	dataDirOverride = path
	dataDirOverrideMu.Unlock()
}

func getDataDirOverride() string {
	dataDirOverrideMu.RLock()
	v := dataDirOverride
	dataDirOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/hive/config.yaml
// 2) /etc/hive/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		candidates := []string{
			filepath.Join(dir, "config.yaml"),
			filepath.Join(string(os.PathSeparator), "etc", "hive", "config.yaml"),
			"config.yaml",
		}
		for _, p := range candidates {
			s, loadErr := loadSettingsFile(p)
			if loadErr == nil {
				settings = s
				return
			}
			if !errors.Is(loadErr, os.ErrNotExist) {
				settingsErr = loadErr
				return
			}
		}
	})
	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: config paths are fixed, not user input
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ListenAddr resolves the serve address: HIVE_ADDR > config addr > ":8787".
func ListenAddr() string {
	if v := os.Getenv("HIVE_ADDR"); v != "" {
		return v
	}
	if s, err := LoadSettings(); err == nil && s.Addr != "" {
		return s.Addr
	}
	return defaultAddr
}

// ChatRetention resolves the group-chat retention cap:
// HIVE_CHAT_RETENTION > config chat_retention > 1000. Values < 1 fall
// back to the default; retention is advisory, not a correctness bound.
func ChatRetention() int {
	if v := os.Getenv("HIVE_CHAT_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if s, err := LoadSettings(); err == nil && s.ChatRetention > 0 {
		return s.ChatRetention
	}
	return defaultChatRetention
}

// AccomplishmentKeywords resolves the session-resume keyword set:
// HIVE_ACCOMPLISHMENT_KEYWORDS (comma-separated) > config > built-in default.
func AccomplishmentKeywords() []string {
	if v := os.Getenv("HIVE_ACCOMPLISHMENT_KEYWORDS"); v != "" {
		var out []string
		for _, kw := range strings.Split(v, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				out = append(out, kw)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if s, err := LoadSettings(); err == nil && len(s.AccomplishmentKeywords) > 0 {
		return s.AccomplishmentKeywords
	}
	return defaultAccomplishmentKeywords
}
