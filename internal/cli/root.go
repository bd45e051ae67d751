// Package cli implements the command-line interface for upkgt.
package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"upkgt/internal/config"
	"upkgt/internal/executor"
	"upkgt/internal/history"
	"upkgt/internal/logging"
	"upkgt/internal/ui"
	"upkgt/pkg/archive"
	"upkgt/pkg/database"
	"upkgt/pkg/lock"
	"upkgt/pkg/scripts"
)

var (
	// Global flags
	cfgFile string
	rootDir string
	backend string
	yes     bool
	verbose bool
	noColor bool

	// Global state
	cfg    *config.Config
	logger *log.Logger
)

// Build metadata - set at build time via ldflags
var (
	Version   = "0.1.0-dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "upkgt",
	Short: "Install .deb packages on systems without dpkg",
	Long: `upkgt installs Debian binary packages on hosts whose native package
manager is not dpkg, and keeps track of the files it placed.

Every installation runs as a single transaction: conflicting files are
refused unless forced, maintainer scripts are run, and a failing
post-install script puts the filesystem back the way it was.

Examples:
  upkgt install ./demo_1.0_amd64.deb      # Install a package
  upkgt install --force ./demo_2.0.deb    # Overwrite existing files
  upkgt list -v                           # Show installed packages
  upkgt verify                            # Check installed files`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeApp()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "install into this directory instead of /")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "archive backend (system, native)")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "assume yes to all prompts")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(doctorCmd)
}

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		reportError(err)
	}
	return err
}

// initializeApp sets up the application state.
func initializeApp() error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	// Apply global flag overrides
	if rootDir != "" {
		cfg.Paths.Root = rootDir
	}
	if backend != "" {
		cfg.Install.Backend = backend
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if noColor {
		cfg.Output.Color = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ui.Init(cfg.ShouldUseColor(), cfg.Output.Unicode)
	ui.AssumeYes = yes

	logger = logging.New(logging.Options{Writer: os.Stderr, Verbose: cfg.Output.Verbose})
	return nil
}

// openDatabase loads the package store named by the configuration.
func openDatabase() *database.Database {
	return database.Open(database.Options{
		Path:       cfg.Paths.Database,
		BackupDir:  cfg.Paths.BackupDir,
		MaxBackups: cfg.Install.MaxBackups,
		Logger:     logger,
	})
}

func newExtractor() (archive.Extractor, error) {
	return archive.New(cfg.Install.Backend, executor.New(logger))
}

func newScriptRunner() scripts.Runner {
	return scripts.NewExec(scripts.ExecOptions{
		Executor:       executor.New(logger),
		Logger:         logger,
		Timeout:        cfg.ScriptTimeout(),
		Root:           cfg.Paths.Root,
		Sandbox:        cfg.Install.SandboxScripts,
		SandboxProfile: cfg.Install.SandboxProfile,
	})
}

func newLock() *lock.Lock {
	return lock.New(cfg.Paths.LockFile)
}

// openHistory opens the history log for reading. A missing log reads as empty.
func openHistory() (*history.Store, bool, error) {
	if _, err := os.Stat(cfg.Paths.History); os.IsNotExist(err) {
		return nil, false, nil
	}
	store, err := history.OpenReadOnly(cfg.Paths.History)
	if err != nil {
		return nil, false, err
	}
	return store, true, nil
}

// openHistoryWritable opens the history log for changes. A missing log is
// reported and not created.
func openHistoryWritable() (*history.Store, bool, error) {
	if _, err := os.Stat(cfg.Paths.History); os.IsNotExist(err) {
		ui.MutedMsg("No history recorded")
		return nil, false, nil
	}
	store, err := history.Open(cfg.Paths.History)
	if err != nil {
		return nil, false, err
	}
	return store, true, nil
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print upkgt version",
	Run: func(cmd *cobra.Command, args []string) {
		ui.InfoMsg("upkgt version %s", Version)
		if Commit != "unknown" {
			ui.MutedMsg("  Commit: %s", Commit)
		}
		if BuildTime != "unknown" {
			ui.MutedMsg("  Built:  %s", BuildTime)
		}
	},
}
