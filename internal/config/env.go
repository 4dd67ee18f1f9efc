// Package config provides centralized configuration management.
// Values are layered: defaults, optional config file, RAWRSYNC_* env vars, then flags.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment override (RAWRSYNC_THREAD_COUNT, ...).
const EnvPrefix = "RAWRSYNC"

// DefaultStoreName is the store file created in the working directory.
const DefaultStoreName = "task_store.db"

// DefaultLogName is the log file created in the working directory.
const DefaultLogName = "rawrsync.log"

// BindEnv wires environment lookup into v.
// Nested keys map with underscores: log.level -> RAWRSYNC_LOG_LEVEL.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Paths holds standard rawrsync file locations.
type Paths struct {
	// WorkDir is the directory relative paths are resolved against
	WorkDir string

	// Store is the default task store path (./task_store.db)
	Store string

	// Log is the default log file path (./rawrsync.log)
	Log string
}

// GetPaths returns default paths rooted at the current working directory.
func GetPaths() Paths {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return Paths{
		WorkDir: wd,
		Store:   filepath.Join(wd, DefaultStoreName),
		Log:     filepath.Join(wd, DefaultLogName),
	}
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}
