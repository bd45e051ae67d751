package config

import (
	"os"
	"path/filepath"
)

const (
	appName      = "upkgt-deb"
	configFile   = "config.toml"
	databaseFile = "packages.json"
	historyFile  = "history.db"
	lockFile     = "upkgt-deb.lock"
)

// ConfigDir returns the system configuration directory.
// UPKGT_CONFIG_DIR overrides it.
func ConfigDir() string {
	if dir := os.Getenv("UPKGT_CONFIG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("/etc", appName)
}

// DataDir returns the directory holding the package database and history.
// UPKGT_DATA_DIR overrides it.
func DataDir() string {
	if dir := os.Getenv("UPKGT_DATA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("/var/lib", appName)
}

// BackupDir returns the directory holding database backups.
func BackupDir() string {
	return filepath.Join("/var/backups", appName)
}

// CacheDir returns the directory used for package workspaces.
func CacheDir() string {
	return filepath.Join("/var/cache", appName)
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), configFile)
}

// DatabasePath returns the full path to the package database.
func DatabasePath() string {
	return filepath.Join(DataDir(), databaseFile)
}

// HistoryPath returns the full path to the history database.
func HistoryPath() string {
	return filepath.Join(DataDir(), historyFile)
}

// LockPath returns the full path to the process lock marker.
func LockPath() string {
	return filepath.Join("/var/run", lockFile)
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(ConfigDir(), 0755)
}

// EnsureDirs creates every directory referenced by the configured paths.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.Paths.Database),
		c.Paths.BackupDir,
		c.Paths.CacheDir,
		filepath.Dir(c.Paths.History),
		filepath.Dir(c.Paths.LockFile),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
