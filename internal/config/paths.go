// Package config resolves the daemon's on-disk layout.
package config

import (
	"os"
	"path/filepath"
)

// DataDirEnv overrides the data directory when set, primarily for tests and
// containerized deployments.
const DataDirEnv = "FOUNDRY_DATA_DIR"

// Paths describes the daemon's data layout.
type Paths struct {
	Home     string // Data root directory
	ConfigDB string // SQLite configuration store path
	Logs     string // Logs directory
	Outputs  string // Default directory for file sink recordings
}

// GetPaths returns the daemon data layout, honoring the environment override.
func GetPaths() Paths {
	home := os.Getenv(DataDirEnv)
	if home == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		home = filepath.Join(base, "foundry-local-runtime")
	}
	return Paths{
		Home:     home,
		ConfigDB: filepath.Join(home, "config.db"),
		Logs:     filepath.Join(home, "logs"),
		Outputs:  filepath.Join(home, "audio_outputs"),
	}
}

// EnsureDirs creates the data layout if it does not exist.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()
	for _, dir := range []string{paths.Home, paths.Logs, paths.Outputs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}
	return paths, nil
}
