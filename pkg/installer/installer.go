// Package installer runs the package installation transaction.
//
// An installation takes the process lock, unpacks the archive, decodes its metadata,
// checks the payload against the filesystem, runs the maintainer scripts, moves the
// payload into place and records the result in the package database. A failing
// post-install script undoes the placement.
package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"upkgt/internal/executor"
	"upkgt/internal/history"
	"upkgt/internal/logging"
	"upkgt/pkg/archive"
	"upkgt/pkg/database"
	"upkgt/pkg/deb"
	"upkgt/pkg/lock"
	"upkgt/pkg/scripts"
	"upkgt/pkg/verify"
)

// Stage names a step of the transaction for progress reporting.
type Stage string

const (
	StageLock      Stage = "lock"
	StageOpen      Stage = "open"
	StageMetadata  Stage = "metadata"
	StageConflicts Stage = "conflicts"
	StagePreInst   Stage = "preinst"
	StageStage     Stage = "stage"
	StagePlace     Stage = "place"
	StagePostInst  Stage = "postinst"
	StageCommit    Stage = "commit"
)

// Recorder stores history entries. *history.Store satisfies it.
type Recorder interface {
	Record(entry *history.Entry) error
}

// Options configures an Installer.
type Options struct {
	// Root is the target filesystem root. Defaults to "/".
	Root string

	// CacheDir holds package workspaces. Empty means the system temp dir.
	CacheDir string

	Database  *database.Database
	Lock      *lock.Lock
	Extractor archive.Extractor
	Scripts   scripts.Runner

	// History is optional.
	History Recorder

	// RequireRoot refuses to install unless running as root.
	RequireRoot bool

	// Architecture is the Debian architecture of the target. Packages built for
	// another one are installed with a warning. Empty skips the check.
	Architecture string

	Logger     *log.Logger
	Now        func() time.Time
	OnProgress func(stage Stage, message string)
}

// InstallOptions tunes a single installation.
type InstallOptions struct {
	// Force overwrites existing files.
	Force bool

	// ConfirmConflicts is asked when conflicts exist and Force is unset. Returning
	// true proceeds as if forced.
	ConfirmConflicts func(paths []string) bool
}

// Installer performs installations against one root and one database.
type Installer struct {
	root        string
	cacheDir    string
	db          *database.Database
	lock        *lock.Lock
	extractor   archive.Extractor
	scripts     scripts.Runner
	history     Recorder
	requireRoot bool
	arch        string
	logger      *log.Logger
	now         func() time.Time
	onProgress  func(Stage, string)
}

// New validates opts and creates an Installer.
func New(opts Options) (*Installer, error) {
	if opts.Database == nil {
		return nil, errors.New("installer: database is required")
	}
	if opts.Lock == nil {
		return nil, errors.New("installer: lock is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("installer: extractor is required")
	}

	i := &Installer{
		root:        opts.Root,
		cacheDir:    opts.CacheDir,
		db:          opts.Database,
		lock:        opts.Lock,
		extractor:   opts.Extractor,
		scripts:     opts.Scripts,
		history:     opts.History,
		requireRoot: opts.RequireRoot,
		arch:        opts.Architecture,
		logger:      logging.Ensure(opts.Logger),
		now:         opts.Now,
		onProgress:  opts.OnProgress,
	}
	if i.root == "" {
		i.root = "/"
	}
	root, err := filepath.Abs(i.root)
	if err != nil {
		return nil, fmt.Errorf("installer: invalid root: %w", err)
	}
	i.root = root
	if i.scripts == nil {
		i.scripts = scripts.NewExec(scripts.ExecOptions{Logger: i.logger, Root: i.root})
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i, nil
}

// Root returns the absolute target root.
func (i *Installer) Root() string { return i.root }

// SetProgress replaces the progress callback.
func (i *Installer) SetProgress(fn func(stage Stage, message string)) {
	i.onProgress = fn
}

func (i *Installer) progress(stage Stage, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	i.logger.Debug(msg, "stage", stage)
	if i.onProgress != nil {
		i.onProgress(stage, msg)
	}
}

// Install installs the package at path and returns the committed record.
func (i *Installer) Install(ctx context.Context, path string, opts InstallOptions) (rec *database.Record, err error) {
	entry := history.NewEntry(history.OpInstall, path)
	defer func() {
		if err != nil {
			entry.MarkFailed(err)
		} else {
			entry.MarkSuccess()
		}
		i.recordHistory(entry)
	}()

	if i.requireRoot {
		if err := executor.RequireRoot(); err != nil {
			return nil, err
		}
	}

	i.progress(StageLock, "acquiring lock")
	if err := i.lock.Acquire(); err != nil {
		return nil, err
	}
	defer i.lock.Release()

	if err := CheckCapabilities(i.extractor); err != nil {
		return nil, err
	}

	i.progress(StageOpen, "opening %s", filepath.Base(path))
	pkg, err := deb.Open(path, i.extractor, deb.Options{CacheDir: i.cacheDir, Logger: i.logger})
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	if err := pkg.Extract(ctx); err != nil {
		return nil, err
	}

	i.progress(StageMetadata, "reading control information")
	meta, err := pkg.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	if i.arch != "" && meta.Architecture != "" && meta.Architecture != "all" && meta.Architecture != i.arch {
		i.logger.Warn("package architecture does not match the host", "package", meta.Name,
			"package_arch", meta.Architecture, "host_arch", i.arch)
	}

	previous, hadPrevious := i.db.Get(meta.Name)
	entry.Package = meta.Name
	entry.Version = meta.Version
	if hadPrevious {
		entry.PreviousVersion = previous.Version
	}
	entry.Operation = history.OperationFor(entry.PreviousVersion, meta.Version)

	entries, err := pkg.ListPayloadEntries(ctx)
	if err != nil {
		return nil, err
	}
	entry.Files = len(entries)

	i.progress(StageConflicts, "checking %d payload entries", len(entries))
	if conflicts := DetectConflicts(i.root, entries); len(conflicts) > 0 {
		switch {
		case opts.Force:
		case opts.ConfirmConflicts != nil && opts.ConfirmConflicts(conflicts):
		default:
			return nil, &ConflictError{Package: meta.Name, Paths: conflicts}
		}
		entry.Forced = true
		i.logger.Warn("overwriting existing files", "package", meta.Name, "count", len(conflicts))
	}

	i.progress(StagePreInst, "running preinst")
	if err := i.scripts.Run(ctx, deb.PreInst, meta, pkg.Workspace()); err != nil {
		return nil, err
	}

	i.progress(StageStage, "unpacking payload")
	staging, err := pkg.StagePayload(ctx)
	if err != nil {
		return nil, err
	}

	// Placement is not interruptible; this is the last cancellation point before it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	journal := newRecord(meta, entries, i.now())
	journal.Status = database.StatusPending
	i.db.Put(meta.Name, journal)
	if err := i.db.Persist(); err != nil {
		i.restoreRecord(meta.Name, previous, hadPrevious)
		return nil, &PersistError{Package: meta.Name, Err: err}
	}

	i.progress(StagePlace, "placing files under %s", i.root)
	place := newPlacement(i.root, staging, i.logger)
	if err := place.apply(entries); err != nil {
		i.undo(place, meta.Name, previous, hadPrevious)
		return nil, &archive.ExtractionError{Op: "place", Archive: pkg.Path(), Err: err}
	}

	i.progress(StagePostInst, "running postinst")
	if err := i.scripts.Run(ctx, deb.PostInst, meta, pkg.Workspace()); err != nil {
		i.undo(place, meta.Name, previous, hadPrevious)
		return nil, err
	}

	i.progress(StageCommit, "recording %s %s", meta.Name, meta.Version)
	hashes, err := verify.HashFiles(i.root, entries)
	if err != nil {
		i.logger.Warn("failed to hash installed files", "package", meta.Name, "err", err)
	}

	final := newRecord(meta, entries, i.now())
	final.Hashes = hashes
	i.db.Put(meta.Name, final)
	if err := i.db.Persist(); err != nil {
		// The files are in place; the pending journal record on disk flags them
		// and verify reports the displaced copies.
		return nil, &PersistError{Package: meta.Name, Err: err, Displaced: place.asides()}
	}
	place.commit()

	i.logger.Info("installed package", "package", meta.Name, "version", meta.Version, "files", len(entries))
	committed, _ := i.db.Get(meta.Name)
	return &committed, nil
}

// undo rolls back a placement and the journal record.
func (i *Installer) undo(place *placement, name string, previous database.Record, hadPrevious bool) {
	if err := place.rollback(); err != nil {
		i.logger.Error("rollback incomplete", "package", name, "err", err)
	}
	i.restoreRecord(name, previous, hadPrevious)
}

// restoreRecord puts the database back to its state before the transaction.
func (i *Installer) restoreRecord(name string, previous database.Record, hadPrevious bool) {
	if hadPrevious {
		i.db.Put(name, previous)
	} else {
		i.db.Delete(name)
	}
	if err := i.db.Persist(); err != nil {
		i.logger.Error("failed to restore package database", "package", name, "err", err)
	}
}

func (i *Installer) recordHistory(entry *history.Entry) {
	if i.history == nil {
		return
	}
	if err := i.history.Record(entry); err != nil {
		i.logger.Warn("failed to record history", "err", err)
	}
}

func newRecord(meta *deb.Metadata, files []string, now time.Time) database.Record {
	return database.Record{
		Name:          meta.Name,
		Version:       meta.Version,
		Files:         append([]string{}, files...),
		Maintainer:    meta.Maintainer,
		Description:   meta.Description,
		Depends:       deb.DependencyMap(meta.Depends),
		Provides:      orEmpty(meta.Provides),
		Replaces:      orEmpty(meta.Replaces),
		InstallDate:   now,
		Architecture:  meta.Architecture,
		InstalledSize: meta.InstalledSize,
		Status:        database.StatusInstalled,
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string{}, s...)
}
