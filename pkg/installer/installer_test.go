package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkgt/internal/config"
	"upkgt/internal/executor"
	"upkgt/internal/history"
	"upkgt/internal/testutil/debtest"
	"upkgt/pkg/archive"
	"upkgt/pkg/database"
	"upkgt/pkg/deb"
	"upkgt/pkg/lock"
	"upkgt/pkg/scripts"
	"upkgt/pkg/verify"
)

type env struct {
	root    string
	cfg     *config.Config
	db      *database.Database
	lock    *lock.Lock
	history *memoryHistory
	ran     []deb.ScriptName
}

type memoryHistory struct {
	entries []history.Entry
}

func (m *memoryHistory) Record(entry *history.Entry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func newEnv(t *testing.T) *env {
	t.Helper()

	root := t.TempDir()
	cfg := config.ForRoot(root)
	return &env{
		root: root,
		cfg:  cfg,
		db: database.Open(database.Options{
			Path:      cfg.Paths.Database,
			BackupDir: cfg.Paths.BackupDir,
		}),
		lock:    lock.New(cfg.Paths.LockFile),
		history: &memoryHistory{},
	}
}

// installer builds an Installer whose scripts call fail for the named script.
func (e *env) installer(t *testing.T, fail deb.ScriptName) *Installer {
	t.Helper()

	runner := scripts.RunnerFunc(func(_ context.Context, name deb.ScriptName, meta *deb.Metadata, _ string) error {
		if _, ok := meta.Script(name); !ok {
			return nil
		}
		e.ran = append(e.ran, name)
		if name == fail {
			return &scripts.ScriptError{Script: name, Package: meta.Name, ExitCode: 1}
		}
		return nil
	})

	inst, err := New(Options{
		Root:      e.root,
		CacheDir:  e.cfg.Paths.CacheDir,
		Database:  e.db,
		Lock:      e.lock,
		Extractor: archive.NewNative(),
		Scripts:   runner,
		History:   e.history,
	})
	require.NoError(t, err)
	return inst
}

// reload reads the store back from disk.
func (e *env) reload() *database.Database {
	return database.Open(database.Options{Path: e.cfg.Paths.Database, BackupDir: e.cfg.Paths.BackupDir})
}

func demo(version string) debtest.Package {
	return debtest.Package{
		Name:       "demo",
		Version:    version,
		ParentDirs: true,
		Fields: map[string]string{
			"Maintainer":   "Demo Team <demo@example.org>",
			"Architecture": "amd64",
			"Depends":      "libc6 (>= 2.31), zlib1g",
			"Provides":     "demo-tool",
			"Description":  "demo tool",
		},
		Scripts: map[string]string{
			"preinst":  "#!/bin/sh\nexit 0\n",
			"postinst": "#!/bin/sh\nexit 0\n",
		},
		Files: []debtest.File{
			{Path: "/usr/bin/demo", Body: "demo " + version + "\n", Mode: 0o755},
			{Path: "/usr/share/demo/README", Body: "readme\n"},
		},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	e := newEnv(t)
	_, err = New(Options{Database: e.db, Lock: e.lock})
	assert.Error(t, err, "extractor is required")

	inst, err := New(Options{Database: e.db, Lock: e.lock, Extractor: archive.NewNative()})
	require.NoError(t, err)
	assert.Equal(t, "/", inst.Root())
}

func TestInstall(t *testing.T) {
	e := newEnv(t)
	debPath := debtest.Build(t, t.TempDir(), demo("1.0"))

	var stages []Stage
	inst := e.installer(t, "")
	inst.onProgress = func(s Stage, _ string) { stages = append(stages, s) }

	rec, err := inst.Install(context.Background(), debPath, InstallOptions{})
	require.NoError(t, err)

	assert.Equal(t, "demo", rec.Name)
	assert.Equal(t, "1.0", rec.Version)
	assert.Equal(t, database.StatusInstalled, rec.Status)
	assert.Equal(t, []string{
		"/usr/",
		"/usr/bin/",
		"/usr/bin/demo",
		"/usr/share/",
		"/usr/share/demo/",
		"/usr/share/demo/README",
	}, rec.Files)
	assert.Equal(t, map[string]string{"libc6": ">= 2.31", "zlib1g": ""}, rec.Depends)
	assert.Equal(t, []string{"demo-tool"}, rec.Provides)
	assert.Equal(t, []string{}, rec.Replaces)
	assert.Contains(t, rec.Hashes, "/usr/bin/demo")
	assert.NotContains(t, rec.Hashes, "/usr/bin/")

	body, err := os.ReadFile(filepath.Join(e.root, "usr/bin/demo"))
	require.NoError(t, err)
	assert.Equal(t, "demo 1.0\n", string(body))
	info, err := os.Stat(filepath.Join(e.root, "usr/bin/demo"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	assert.Equal(t, []deb.ScriptName{deb.PreInst, deb.PostInst}, e.ran)
	assert.Equal(t, []Stage{
		StageLock, StageOpen, StageMetadata, StageConflicts, StagePreInst,
		StageStage, StagePlace, StagePostInst, StageCommit,
	}, stages)

	stored, ok := e.reload().Get("demo")
	require.True(t, ok)
	assert.Equal(t, rec.Files, stored.Files)
	assert.False(t, stored.Pending())

	assert.False(t, e.lock.Held(), "lock is released")
	assert.NoFileExists(t, e.cfg.Paths.LockFile)

	entries, err := os.ReadDir(e.cfg.Paths.CacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace is removed")

	require.Len(t, e.history.entries, 1)
	assert.True(t, e.history.entries[0].Success)
	assert.Equal(t, history.OpInstall, e.history.entries[0].Operation)
	assert.Equal(t, 6, e.history.entries[0].Files)
}

func TestInstallThenReinstallWithoutForce(t *testing.T) {
	e := newEnv(t)
	inst := e.installer(t, "")
	ctx := context.Background()

	debPath := debtest.Build(t, t.TempDir(), debtest.Package{
		Name:    "demo",
		Version: "1.0",
		Files:   []debtest.File{{Path: "/usr/bin/demo", Body: "demo\n", Mode: 0o755}},
	})

	rec, err := inst.Install(ctx, debPath, InstallOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/demo"}, rec.Files)
	assert.Empty(t, e.ran)

	before, err := os.ReadFile(e.cfg.Paths.Database)
	require.NoError(t, err)

	_, err = inst.Install(ctx, debPath, InstallOptions{})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	after, err := os.ReadFile(e.cfg.Paths.Database)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestInstallConflict(t *testing.T) {
	e := newEnv(t)
	inst := e.installer(t, "")

	require.NoError(t, os.MkdirAll(filepath.Join(e.root, "usr/bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.root, "usr/bin/demo"), []byte("theirs\n"), 0o644))

	debPath := debtest.Build(t, t.TempDir(), demo("1.0"))
	_, err := inst.Install(context.Background(), debPath, InstallOptions{})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"/usr/bin/demo"}, conflict.Paths)

	body, _ := os.ReadFile(filepath.Join(e.root, "usr/bin/demo"))
	assert.Equal(t, "theirs\n", string(body))
	assert.NoFileExists(t, e.cfg.Paths.Database, "nothing was recorded")
	assert.Empty(t, e.ran, "no script ran")

	require.Len(t, e.history.entries, 1)
	assert.False(t, e.history.entries[0].Success)
	assert.Contains(t, e.history.entries[0].Error, "conflicts")
}

func TestInstallConflictConfirmed(t *testing.T) {
	e := newEnv(t)
	inst := e.installer(t, "")

	require.NoError(t, os.MkdirAll(filepath.Join(e.root, "usr/bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.root, "usr/bin/demo"), []byte("theirs\n"), 0o644))

	var asked []string
	debPath := debtest.Build(t, t.TempDir(), demo("1.0"))
	_, err := inst.Install(context.Background(), debPath, InstallOptions{
		ConfirmConflicts: func(paths []string) bool {
			asked = paths
			return true
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/demo"}, asked)

	body, _ := os.ReadFile(filepath.Join(e.root, "usr/bin/demo"))
	assert.Equal(t, "demo 1.0\n", string(body))
	assert.True(t, e.history.entries[0].Forced)
}

func TestReinstallRequiresForce(t *testing.T) {
	e := newEnv(t)
	inst := e.installer(t, "")
	ctx := context.Background()

	debPath := debtest.Build(t, t.TempDir(), demo("1.0"))
	_, err := inst.Install(ctx, debPath, InstallOptions{})
	require.NoError(t, err)

	_, err = inst.Install(ctx, debPath, InstallOptions{})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, conflict.Paths, 2)

	upgrade := debtest.Build(t, t.TempDir(), demo("2.0"))
	rec, err := inst.Install(ctx, upgrade, InstallOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "2.0", rec.Version)

	body, _ := os.ReadFile(filepath.Join(e.root, "usr/bin/demo"))
	assert.Equal(t, "demo 2.0\n", string(body))
	assert.NoFileExists(t, filepath.Join(e.root, "usr/bin/demo"+verify.DisplacedSuffix))

	require.Len(t, e.history.entries, 3)
	assert.Equal(t, history.OpUpgrade, e.history.entries[2].Operation)
	assert.Equal(t, "1.0", e.history.entries[2].PreviousVersion)
}

func TestInstallKeepsDirectorySymlinks(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(e.root, "usr/bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.root, "usr/bin/sh"), []byte("sh"), 0o755))
	require.NoError(t, os.Symlink("usr/bin", filepath.Join(e.root, "bin")))

	pkg := debtest.Package{
		Name:       "demo",
		Version:    "1.0",
		ParentDirs: true,
		Files:      []debtest.File{{Path: "/bin/demo", Body: "demo\n", Mode: 0o755}},
	}
	require.Equal(t, []string{"./", "./bin/", "./bin/demo"}, pkg.Entries())

	rec, err := e.installer(t, "").Install(context.Background(), debtest.Build(t, t.TempDir(), pkg), InstallOptions{})
	require.NoError(t, err)

	info, err := os.Lstat(filepath.Join(e.root, "bin"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "bin is still a symlink")
	assert.FileExists(t, filepath.Join(e.root, "usr/bin/sh"))
	assert.FileExists(t, filepath.Join(e.root, "usr/bin/demo"))
	_, err = os.Lstat(filepath.Join(e.root, "bin"+verify.DisplacedSuffix))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, verify.Verify(e.root, []database.Record{*rec}))
}

func TestInstallRefusesPayloadThroughSymlink(t *testing.T) {
	e := newEnv(t)
	outside := t.TempDir()

	pkg := debtest.Package{
		Name:    "evil",
		Version: "1.0",
		Files: []debtest.File{
			{Path: "/evil", Link: outside},
			{Path: "/evil/pwned", Body: "x"},
		},
	}

	_, err := e.installer(t, "").Install(context.Background(), debtest.Build(t, t.TempDir(), pkg), InstallOptions{})
	assert.ErrorIs(t, err, archive.ErrUnsafePath)

	assert.NoFileExists(t, filepath.Join(outside, "pwned"))
	_, err = os.Lstat(filepath.Join(e.root, "evil"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, ok := e.reload().Get("evil")
	assert.False(t, ok)
}

func TestPostInstFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	inst := e.installer(t, deb.PostInst)

	debPath := debtest.Build(t, t.TempDir(), demo("1.0"))
	_, err := inst.Install(context.Background(), debPath, InstallOptions{})

	var serr *scripts.ScriptError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, deb.PostInst, serr.Script)

	assert.NoFileExists(t, filepath.Join(e.root, "usr/bin/demo"))
	assert.NoDirExists(t, filepath.Join(e.root, "usr"), "created directories are removed")

	_, ok := e.db.Get("demo")
	assert.False(t, ok)
	assert.Equal(t, 0, e.reload().Len(), "journal record is reverted on disk")
	assert.False(t, e.lock.Held())
}

func TestPostInstFailureRestoresPreviousVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.installer(t, "").Install(ctx, debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	require.NoError(t, err)

	_, err = e.installer(t, deb.PostInst).Install(ctx, debtest.Build(t, t.TempDir(), demo("2.0")), InstallOptions{Force: true})
	require.Error(t, err)

	body, _ := os.ReadFile(filepath.Join(e.root, "usr/bin/demo"))
	assert.Equal(t, "demo 1.0\n", string(body))
	assert.NoFileExists(t, filepath.Join(e.root, "usr/bin/demo"+verify.DisplacedSuffix))

	rec, ok := e.reload().Get("demo")
	require.True(t, ok)
	assert.Equal(t, "1.0", rec.Version)
	assert.False(t, rec.Pending())
}

func TestPreInstFailureTouchesNothing(t *testing.T) {
	e := newEnv(t)
	inst := e.installer(t, deb.PreInst)

	_, err := inst.Install(context.Background(), debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	require.Error(t, err)

	assert.NoDirExists(t, filepath.Join(e.root, "usr"))
	assert.NoFileExists(t, e.cfg.Paths.Database)
	assert.Equal(t, []deb.ScriptName{deb.PreInst}, e.ran)
}

func TestInstallLockHeld(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(e.cfg.Paths.LockFile), 0o755))
	require.NoError(t, os.WriteFile(e.cfg.Paths.LockFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	_, err := e.installer(t, "").Install(context.Background(), debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	assert.ErrorIs(t, err, lock.ErrAlreadyRunning)
	assert.FileExists(t, e.cfg.Paths.LockFile, "foreign lock is left alone")
}

func TestInstallMissingCapability(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	e := newEnv(t)
	inst, err := New(Options{
		Root:      e.root,
		Database:  e.db,
		Lock:      e.lock,
		Extractor: archive.NewSystem(nil),
		Scripts:   scripts.NewDryRun(nil),
	})
	require.NoError(t, err)

	_, err = inst.Install(context.Background(), debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	var missing *MissingCapabilityError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Missing, "ar")
	assert.False(t, e.lock.Held())
}

func TestInstallRequiresRoot(t *testing.T) {
	if executor.IsRoot() {
		t.Skip("running as root")
	}

	e := newEnv(t)
	inst, err := New(Options{
		Root:        e.root,
		Database:    e.db,
		Lock:        e.lock,
		Extractor:   archive.NewNative(),
		Scripts:     scripts.NewDryRun(nil),
		RequireRoot: true,
	})
	require.NoError(t, err)

	_, err = inst.Install(context.Background(), debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	assert.ErrorIs(t, err, executor.ErrNotRoot)
	assert.NoDirExists(t, filepath.Join(e.root, "usr"))
}

func TestInstallCancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.installer(t, "").Install(ctx, debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, filepath.Join(e.root, "usr"))
	assert.NoFileExists(t, e.cfg.Paths.Database)
}

func TestInstallMissingArchive(t *testing.T) {
	e := newEnv(t)

	_, err := e.installer(t, "").Install(context.Background(), filepath.Join(t.TempDir(), "nope.deb"), InstallOptions{})
	assert.ErrorIs(t, err, deb.ErrNotFound)
	require.Len(t, e.history.entries, 1)
	assert.False(t, e.history.entries[0].Success)
	assert.Empty(t, e.history.entries[0].Package)
}

func TestInstallRecordsHistoryStore(t *testing.T) {
	e := newEnv(t)
	store, err := history.Open(e.cfg.Paths.History)
	require.NoError(t, err)
	defer store.Close()

	inst, err := New(Options{
		Root:      e.root,
		CacheDir:  e.cfg.Paths.CacheDir,
		Database:  e.db,
		Lock:      e.lock,
		Extractor: archive.NewNative(),
		Scripts:   scripts.NewDryRun(nil),
		History:   store,
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	rec, err := inst.Install(context.Background(), debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	require.NoError(t, err)
	assert.True(t, rec.InstallDate.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	last, err := store.Last()
	require.NoError(t, err)
	assert.Equal(t, "demo", last.Package)
	assert.True(t, last.Success)
}

func TestDetectConflicts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc/demo.conf"), nil, 0o644))
	require.NoError(t, os.Symlink("/nowhere", filepath.Join(root, "etc/dangling")))

	got := DetectConflicts(root, []string{"/etc/", "/etc/demo.conf", "/etc/dangling", "/etc/new"})
	assert.Equal(t, []string{"/etc/demo.conf", "/etc/dangling"}, got)
	assert.Empty(t, DetectConflicts(root, nil))
}

func TestConflictErrorTruncates(t *testing.T) {
	err := &ConflictError{Package: "demo", Paths: []string{"/a", "/b", "/c", "/d", "/e", "/f", "/g"}}
	assert.Equal(t, "demo conflicts with 7 existing file(s): /a, /b, /c, /d, /e and 2 more", err.Error())
}

func TestPersistErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&PersistError{Package: "demo", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to record demo in the package database: disk full", err.Error())

	err = &PersistError{Package: "demo", Err: cause, Displaced: []string{"/usr/bin/demo" + verify.DisplacedSuffix}}
	assert.Contains(t, err.Error(), "1 replaced file(s) kept as *"+verify.DisplacedSuffix)
}

func TestFinalPersistFailureKeepsDisplacedCopies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.installer(t, "").Install(ctx, debtest.Build(t, t.TempDir(), demo("1.0")), InstallOptions{})
	require.NoError(t, err)

	// Swap the store for a directory once the files are placed.
	dbPath := e.cfg.Paths.Database
	inst := e.installer(t, "")
	inst.onProgress = func(s Stage, _ string) {
		if s != StageCommit {
			return
		}
		require.NoError(t, os.Rename(dbPath, dbPath+".saved"))
		require.NoError(t, os.MkdirAll(filepath.Join(dbPath, "blocked"), 0o755))
	}

	_, err = inst.Install(ctx, debtest.Build(t, t.TempDir(), demo("2.0")), InstallOptions{Force: true})
	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{
		"/usr/bin/demo" + verify.DisplacedSuffix,
		"/usr/share/demo/README" + verify.DisplacedSuffix,
	}, perr.Displaced)

	body, _ := os.ReadFile(filepath.Join(e.root, "usr/bin/demo"))
	assert.Equal(t, "demo 2.0\n", string(body))

	require.NoError(t, os.RemoveAll(dbPath))
	require.NoError(t, os.Rename(dbPath+".saved", dbPath))

	rec, ok := e.reload().Get("demo")
	require.True(t, ok)
	assert.True(t, rec.Pending(), "journal record is left on disk")

	found := verify.Verify(e.root, []database.Record{rec})
	assert.Contains(t, found, verify.Discrepancy{Package: "demo", Issue: verify.IssuePending})
	assert.Contains(t, found, verify.Discrepancy{
		Package: "demo", Path: "/usr/bin/demo" + verify.DisplacedSuffix, Issue: verify.IssueDisplaced,
	})
}

func TestPlacementRollback(t *testing.T) {
	root := t.TempDir()
	staging := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(staging, "opt/demo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "opt/demo/bin"), []byte("new"), 0o755))
	require.NoError(t, os.Symlink("bin", filepath.Join(staging, "opt/demo/link")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "opt/demo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "opt/demo/bin"), []byte("old"), 0o644))

	p := newPlacement(root, staging, nil)
	require.NoError(t, p.apply([]string{"/opt/", "/opt/demo/", "/opt/demo/bin", "/opt/demo/link", "/opt/demo/bin"}))

	target, err := os.Readlink(filepath.Join(root, "opt/demo/link"))
	require.NoError(t, err)
	assert.Equal(t, "bin", target)
	assert.FileExists(t, filepath.Join(root, "opt/demo/bin"+verify.DisplacedSuffix))

	require.NoError(t, p.rollback())

	body, err := os.ReadFile(filepath.Join(root, "opt/demo/bin"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(body))
	_, err = os.Lstat(filepath.Join(root, "opt/demo/link"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.DirExists(t, filepath.Join(root, "opt/demo"), "pre-existing directories stay")
}

func TestPlacementRejectsDirectoryOverFile(t *testing.T) {
	root := t.TempDir()
	staging := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(staging, "etc"), []byte("file"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))

	p := newPlacement(root, staging, nil)
	err := p.apply([]string{"/etc"})
	assert.ErrorContains(t, err, "is a directory")
}
