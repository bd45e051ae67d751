package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"upkgt/internal/history"
	"upkgt/internal/host"
	"upkgt/internal/ui"
	"upkgt/pkg/database"
	"upkgt/pkg/installer"
)

var installForce bool

var installCmd = &cobra.Command{
	Use:   "install [files...]",
	Short: "Install one or more .deb files",
	Long: `Install .deb files onto the configured root.

Each file is installed in its own transaction. Files that already exist
on the target are reported as conflicts; you are asked whether to
overwrite them unless --force or --yes is given. Installation stops at
the first package that fails.

Examples:
  upkgt install ./demo_1.0_amd64.deb         # Install a package
  upkgt install -f ./demo_2.0_amd64.deb      # Overwrite existing files
  upkgt install --root /tmp/sysroot a.deb    # Install into a directory
  upkgt install --backend native a.deb       # Do not shell out to ar/tar`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVarP(&installForce, "force", "f", false, "overwrite files that already exist")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, closeFn, err := newInstaller()
	if err != nil {
		return err
	}
	defer closeFn()

	for _, path := range args {
		if err := installOne(ctx, inst, path); err != nil {
			return err
		}
	}
	return nil
}

// newInstaller wires an Installer from the configuration. The returned function
// releases the history log.
func newInstaller() (*installer.Installer, func(), error) {
	ex, err := newExtractor()
	if err != nil {
		return nil, nil, err
	}

	opts := installer.Options{
		Root:        cfg.Paths.Root,
		CacheDir:    cfg.Paths.CacheDir,
		Database:    openDatabase(),
		Lock:        newLock(),
		Extractor:   ex,
		Scripts:     newScriptRunner(),
		RequireRoot: cfg.Install.RequireRoot && filepath.Clean(cfg.Paths.Root) == "/",
		Logger:      logger,
	}
	info := host.Detect(cfg.Paths.Root)
	opts.Architecture = info.Arch
	if info.UsesDpkg() {
		logger.Warn("this system is managed by dpkg; files installed here are invisible to it", "distribution", info.PrettyName)
	}

	closeFn := func() {}
	store, err := history.Open(cfg.Paths.History)
	if err != nil {
		logger.Warn("history is unavailable", "path", cfg.Paths.History, "err", err)
	} else {
		opts.History = store
		closeFn = func() { store.Close() }
	}

	inst, err := installer.New(opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return inst, closeFn, nil
}

func installOne(ctx context.Context, inst *installer.Installer, path string) error {
	name := filepath.Base(path)
	opts := installer.InstallOptions{Force: installForce}

	if cfg.Output.Verbose {
		opts.ConfirmConflicts = func(paths []string) bool {
			return ui.ConfirmOverwrite(name, paths)
		}
		rec, err := inst.Install(ctx, path, opts)
		if err != nil {
			return err
		}
		reportInstalled(rec)
		return nil
	}

	var rec *database.Record
	err := ui.WithSpinner("Installing "+name, func(sp *ui.Spinner) error {
		opts.ConfirmConflicts = func(paths []string) bool {
			sp.Stop()
			defer sp.Start()
			return ui.ConfirmOverwrite(name, paths)
		}
		inst.SetProgress(func(stage installer.Stage, msg string) {
			sp.Progress(string(stage), msg)
		})

		var err error
		rec, err = inst.Install(ctx, path, opts)
		return err
	})
	if err != nil {
		return err
	}
	reportInstalled(rec)
	return nil
}

func reportInstalled(rec *database.Record) {
	ui.SuccessMsg("Installed %s %s (%d %s)",
		ui.PackageName.Sprint(rec.Name), ui.PackageVersion.Sprint(rec.Version),
		len(rec.Files), ui.Plural(len(rec.Files), "path"))
}
