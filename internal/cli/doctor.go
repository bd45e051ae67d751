package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"upkgt/internal/config"
	"upkgt/internal/executor"
	"upkgt/internal/host"
	"upkgt/internal/ui"
	"upkgt/pkg/archive"
	"upkgt/pkg/sandbox"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose installation problems",
	Long: `Check the tools, paths and state upkgt depends on.

Examples:
  upkgt doctor               # Run diagnostics`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	issues := 0

	ui.HeaderMsg("Configuration")
	if cfgFile != "" {
		ui.SuccessMsg("Config file: %s", cfgFile)
	} else if _, err := os.Stat(config.ConfigPath()); err == nil {
		ui.SuccessMsg("Config file: %s", config.ConfigPath())
	} else {
		ui.MutedMsg("No config file, using defaults (%s)", config.ConfigPath())
	}
	ui.InfoMsg("Install root: %s", cfg.Paths.Root)
	ui.InfoMsg("Backend: %s", cfg.Install.Backend)

	ui.HeaderMsg("Host")
	info := host.Detect(cfg.Paths.Root)
	ui.InfoMsg("Distribution: %s (%s)", info.PrettyName, info.ID)
	ui.InfoMsg("Architecture: %s", info.Arch)
	switch mgr := info.NativeManager(); {
	case info.UsesDpkg():
		ui.WarningMsg("dpkg manages this system; prefer apt or dpkg for .deb files")
	case mgr != "":
		ui.SuccessMsg("Native package manager: %s", mgr)
	default:
		ui.MutedMsg("Native package manager unknown")
	}

	ui.HeaderMsg("Tools")
	ex, err := newExtractor()
	if err != nil {
		ui.ErrorMsg("%v", err)
		issues++
	} else if missing := executor.LookPath(ex.Requires()...); len(missing) > 0 {
		ui.ErrorMsg("Missing tools for the %s backend: %s", ex.Name(), strings.Join(missing, ", "))
		issues++
	} else if len(ex.Requires()) > 0 {
		ui.SuccessMsg("Found %s", strings.Join(ex.Requires(), ", "))
	} else {
		ui.SuccessMsg("The %s backend needs no external tools", ex.Name())
	}
	if cfg.Install.Backend == config.BackendSystem {
		if missing := executor.LookPath("zstd"); len(missing) > 0 {
			ui.WarningMsg("zstd not found; packages with .tar.zst members need --backend %s", archive.NewNative().Name())
		}
	}
	if cfg.Install.SandboxScripts {
		if sandbox.IsAvailable() {
			ui.SuccessMsg("bubblewrap is available for maintainer scripts (profile %s)", cfg.Install.SandboxProfile)
		} else {
			ui.WarningMsg("sandbox_scripts is set but bwrap was not found; scripts run unsandboxed")
		}
	}

	ui.HeaderMsg("Privileges")
	if cfg.Install.RequireRoot && filepath.Clean(cfg.Paths.Root) == "/" && !executor.IsRoot() {
		ui.WarningMsg("Not running as root; installs into / will be refused")
	} else {
		ui.SuccessMsg("Privileges are sufficient for %s", cfg.Paths.Root)
	}

	ui.HeaderMsg("Package database")
	db := openDatabase()
	if err := db.LoadErr(); err != nil {
		ui.ErrorMsg("%v", err)
		issues++
	} else {
		ui.SuccessMsg("%s (%d %s)", db.Path(), db.Len(), ui.Plural(db.Len(), "package"))
	}
	for _, rec := range db.Records() {
		if rec.Pending() {
			ui.WarningMsg("%s %s has an interrupted installation; run 'upkgt verify %s'", rec.Name, rec.Version, rec.Name)
			issues++
		}
	}
	if backups, err := db.Backups(); err == nil && len(backups) > 0 {
		latest := backups[len(backups)-1]
		ui.MutedMsg("%d %s, latest %s", len(backups), ui.Plural(len(backups), "backup"), ui.Age(latest.ModTime))
	}

	ui.HeaderMsg("Lock")
	issues += checkLock(cfg.Paths.LockFile)

	ui.HeaderMsg("History")
	store, ok, err := openHistory()
	switch {
	case err != nil:
		ui.WarningMsg("%v", err)
	case !ok:
		ui.MutedMsg("No history recorded yet")
	default:
		n, _ := store.Count()
		store.Close()
		ui.SuccessMsg("%s (%d %s)", cfg.Paths.History, n, ui.Plural(n, "operation"))
	}

	ui.HeaderMsg("Summary")
	if issues == 0 {
		ui.SuccessMsg("No issues found")
		return nil
	}
	ui.WarningMsg("Found %d %s", issues, ui.Plural(issues, "issue"))
	return ErrUnhealthy
}

// checkLock reports on the lock marker without taking it.
func checkLock(path string) int {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		ui.SuccessMsg("Not locked")
		return 0
	}
	if err != nil {
		ui.ErrorMsg("Cannot read %s: %v", path, err)
		return 1
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		ui.WarningMsg("%s holds no valid pid; it will be replaced on the next install", path)
		return 0
	}
	ui.InfoMsg("%s is held by pid %d", path, pid)
	return 0
}
