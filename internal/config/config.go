package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"upkgt/pkg/sandbox"
)

// Extraction backends.
const (
	BackendSystem = "system"
	BackendNative = "native"
)

// Config represents the complete upkgt configuration.
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Install InstallConfig `toml:"install"`
	Output  OutputConfig  `toml:"output"`
}

// PathsConfig locates every piece of state upkgt touches.
type PathsConfig struct {
	// Database is the JSON file holding installed package records.
	Database string `toml:"database"`

	// BackupDir receives timestamped copies of the database.
	BackupDir string `toml:"backup_dir"`

	// CacheDir holds the temporary package workspaces.
	CacheDir string `toml:"cache_dir"`

	// LockFile is the process lock marker.
	LockFile string `toml:"lock_file"`

	// History is the bbolt operation log.
	History string `toml:"history"`

	// Root is the filesystem root payloads are installed under.
	Root string `toml:"root"`
}

// InstallConfig contains installation behaviour settings.
type InstallConfig struct {
	// Backend selects the archive extraction implementation: "system" (ar/tar) or "native".
	Backend string `toml:"backend"`

	// ScriptTimeoutSeconds bounds every maintainer script run.
	ScriptTimeoutSeconds int `toml:"script_timeout_seconds"`

	// MaxBackups is the number of database backups kept.
	MaxBackups int `toml:"max_backups"`

	// SandboxScripts runs maintainer scripts inside bubblewrap when available.
	SandboxScripts bool `toml:"sandbox_scripts"`

	// SandboxProfile is the bubblewrap profile for scripts: "maintainer" or
	// "isolated" (no network).
	SandboxProfile string `toml:"sandbox_profile"`

	// RequireRoot refuses to install into "/" without root privileges.
	RequireRoot bool `toml:"require_root"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	// Color enables colored output (respects NO_COLOR env var).
	Color bool `toml:"color"`

	// Unicode enables unicode symbols in output.
	Unicode bool `toml:"unicode"`

	// Verbose enables debug logging.
	Verbose bool `toml:"verbose"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Database:  DatabasePath(),
			BackupDir: BackupDir(),
			CacheDir:  CacheDir(),
			LockFile:  LockPath(),
			History:   HistoryPath(),
			Root:      "/",
		},
		Install: InstallConfig{
			Backend:              BackendSystem,
			ScriptTimeoutSeconds: 60,
			MaxBackups:           5,
			SandboxScripts:       false,
			SandboxProfile:       sandbox.ProfileMaintainer.Name,
			RequireRoot:          true,
		},
		Output: OutputConfig{
			Color:   true,
			Unicode: true,
			Verbose: false,
		},
	}
}

// ForRoot returns a configuration whose state lives entirely below dir.
// It is used for staging installs into an alternate root and by tests.
func ForRoot(dir string) *Config {
	cfg := Default()
	cfg.Paths = PathsConfig{
		Database:  filepath.Join(dir, "var", "lib", appName, databaseFile),
		BackupDir: filepath.Join(dir, "var", "backups", appName),
		CacheDir:  filepath.Join(dir, "var", "cache", appName),
		LockFile:  filepath.Join(dir, "run", lockFile),
		History:   filepath.Join(dir, "var", "lib", appName, historyFile),
		Root:      dir,
	}
	cfg.Install.RequireRoot = false
	return cfg
}

// Load loads the configuration from the default path.
// If the config file doesn't exist, it returns the default configuration.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads the configuration from a specific path.
// If the config file doesn't exist, it returns the default configuration.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to the default path.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// Validate checks values that cannot be defaulted silently.
func (c *Config) Validate() error {
	switch c.Install.Backend {
	case BackendSystem, BackendNative:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Install.Backend, BackendSystem, BackendNative)
	}
	if c.Install.MaxBackups < 1 {
		return fmt.Errorf("max_backups must be at least 1, got %d", c.Install.MaxBackups)
	}
	if c.Install.ScriptTimeoutSeconds < 1 {
		return fmt.Errorf("script_timeout_seconds must be positive, got %d", c.Install.ScriptTimeoutSeconds)
	}
	if c.Paths.Root == "" {
		return fmt.Errorf("paths.root must not be empty")
	}
	if _, err := sandbox.ProfileByName(c.Install.SandboxProfile); err != nil {
		return fmt.Errorf("sandbox_profile: %w", err)
	}
	return nil
}

// ScriptTimeout returns the maintainer script timeout as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Install.ScriptTimeoutSeconds) * time.Second
}

// ShouldUseColor returns true if colored output should be used.
// Respects the NO_COLOR environment variable.
func (c *Config) ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return c.Output.Color
}
