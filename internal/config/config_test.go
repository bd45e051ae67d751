package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Paths.Root != "/" {
		t.Errorf("expected root '/', got %q", cfg.Paths.Root)
	}
	if cfg.Install.Backend != BackendSystem {
		t.Errorf("expected system backend by default, got %q", cfg.Install.Backend)
	}
	if cfg.Install.MaxBackups != 5 {
		t.Errorf("expected 5 backups, got %d", cfg.Install.MaxBackups)
	}
	if cfg.ScriptTimeout() != 60*time.Second {
		t.Errorf("expected 60s script timeout, got %s", cfg.ScriptTimeout())
	}
	if !cfg.Install.RequireRoot {
		t.Error("expected RequireRoot to be true by default")
	}

	// Check default output settings
	if !cfg.Output.Color {
		t.Error("expected Color to be true by default")
	}
	if cfg.Output.Verbose {
		t.Error("expected Verbose to be false by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestForRoot(t *testing.T) {
	dir := t.TempDir()
	cfg := ForRoot(dir)

	paths := []string{
		cfg.Paths.Database,
		cfg.Paths.BackupDir,
		cfg.Paths.CacheDir,
		cfg.Paths.LockFile,
		cfg.Paths.History,
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("path %s is outside root %s", p, dir)
		}
	}
	if cfg.Install.RequireRoot {
		t.Error("alternate roots should not require root")
	}

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error: %v", err)
	}
	if info, err := os.Stat(cfg.Paths.BackupDir); err != nil || !info.IsDir() {
		t.Errorf("backup dir not created: %v", err)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Install.Backend != BackendSystem {
		t.Errorf("expected defaults for a missing file, got backend %q", cfg.Install.Backend)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Install.Backend = BackendNative
	cfg.Install.MaxBackups = 3
	cfg.Paths.Root = "/srv/chroot"

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if loaded.Install.Backend != BackendNative {
		t.Errorf("backend = %q, want native", loaded.Install.Backend)
	}
	if loaded.Install.MaxBackups != 3 {
		t.Errorf("max_backups = %d, want 3", loaded.Install.MaxBackups)
	}
	if loaded.Paths.Root != "/srv/chroot" {
		t.Errorf("root = %q, want /srv/chroot", loaded.Paths.Root)
	}
}

func TestLoadFromPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[install]\nscript_timeout_seconds = 5\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.ScriptTimeout() != 5*time.Second {
		t.Errorf("timeout = %s, want 5s", cfg.ScriptTimeout())
	}
	// Untouched values keep their defaults
	if cfg.Install.MaxBackups != 5 {
		t.Errorf("max_backups = %d, want default 5", cfg.Install.MaxBackups)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Install.Backend = "dpkg" }},
		{"zero backups", func(c *Config) { c.Install.MaxBackups = 0 }},
		{"zero timeout", func(c *Config) { c.Install.ScriptTimeoutSeconds = 0 }},
		{"empty root", func(c *Config) { c.Paths.Root = "" }},
		{"unknown sandbox profile", func(c *Config) { c.Install.SandboxProfile = "build" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestShouldUseColor(t *testing.T) {
	cfg := &Config{
		Output: OutputConfig{Color: true},
	}

	// Should return true when Color is true and NO_COLOR is not set
	t.Setenv("NO_COLOR", "")
	if !cfg.ShouldUseColor() {
		t.Error("expected ShouldUseColor() to return true")
	}

	// Should return false when NO_COLOR is set
	t.Setenv("NO_COLOR", "1")
	if cfg.ShouldUseColor() {
		t.Error("expected ShouldUseColor() to return false when NO_COLOR is set")
	}
}
