package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appDir = "bookkeeper"

// ExpandPath expands a leading ~ and $VAR references in a configured path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.ExpandEnv(path)
}

// ConfigDir is where config.yaml and the rules file live: $XDG_CONFIG_HOME/bookkeeper, or
// ~/.config/bookkeeper when XDG_CONFIG_HOME is unset.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", "~/.config")
}

// DataDir holds the correction log, model snapshots and Quicken backups:
// $XDG_DATA_HOME/bookkeeper, or ~/.local/share/bookkeeper.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", "~/.local/share")
}

func xdgDir(env, fallback string) string {
	base := os.Getenv(env)
	if base == "" || !filepath.IsAbs(base) {
		base = ExpandPath(fallback)
	}
	return filepath.Join(base, appDir)
}
