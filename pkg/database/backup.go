package database

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.trai.ch/zerr"
)

// backupTimeFormat has nanosecond resolution so back-to-back persists get distinct names.
const backupTimeFormat = "20060102_150405.000000000"

var backupPattern = regexp.MustCompile(`^packages\.\d{8}_\d{6}\.\d{9}\.json$`)

// Backup is one rotated copy of the store.
type Backup struct {
	Path    string
	ModTime time.Time
}

// Backups lists rotated backups, oldest first.
func (d *Database) Backups() ([]Backup, error) {
	entries, err := os.ReadDir(d.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var backups []Backup
	for _, e := range entries {
		if e.IsDir() || !backupPattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{Path: filepath.Join(d.backupDir, e.Name()), ModTime: info.ModTime()})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].ModTime.Equal(backups[j].ModTime) {
			return backups[i].ModTime.Before(backups[j].ModTime)
		}
		return backups[i].Path < backups[j].Path
	})
	return backups, nil
}

// backup copies the current store into the backup directory. A missing store is not
// an error and produces no backup.
func (d *Database) backup() (string, error) {
	name := "packages." + d.now().Format(backupTimeFormat) + ".json"
	return d.copyToBackupDir(name)
}

// backupCorrupt keeps an undecodable store out of the rotation.
func (d *Database) backupCorrupt() (string, error) {
	name := "packages." + d.now().Format(backupTimeFormat) + ".corrupt"
	return d.copyToBackupDir(name)
}

func (d *Database) copyToBackupDir(name string) (string, error) {
	src, err := os.Open(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(d.backupDir, 0o755); err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to create backup directory"), "dir", d.backupDir)
	}

	dest := filepath.Join(d.backupDir, name)
	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dest)
		return "", err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(dest)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dest)
		return "", err
	}

	// Rotation orders by modification time, which should reflect the store's age.
	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return "", err
	}
	return dest, nil
}

// prune removes the oldest backups beyond maxBackups.
func (d *Database) prune() error {
	backups, err := d.Backups()
	if err != nil {
		return err
	}

	var errs []error
	for len(backups) > d.maxBackups {
		if err := os.Remove(backups[0].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		backups = backups[1:]
	}
	return errors.Join(errs...)
}
