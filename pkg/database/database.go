// Package database stores the records of installed packages in a JSON file.
//
// The whole store is loaded into memory, mutated there and written back by Persist.
// Every Persist first copies the previous file into a backup directory and keeps the
// most recent backups only.
package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"go.trai.ch/zerr"

	"upkgt/internal/logging"
)

// DefaultMaxBackups is the number of backups kept when Options.MaxBackups is unset.
const DefaultMaxBackups = 5

// ErrCorrupt is reported (and recovered from) when the store cannot be decoded.
var ErrCorrupt = zerr.New("package database is corrupt")

// Options configures a Database.
type Options struct {
	// Path of the JSON store.
	Path string

	// BackupDir receives a copy of the store before each write.
	BackupDir string

	// MaxBackups defaults to DefaultMaxBackups.
	MaxBackups int

	Logger *log.Logger

	// Now defaults to time.Now. Used for backup names.
	Now func() time.Time
}

// Database is the in-memory view of the package store.
type Database struct {
	path       string
	backupDir  string
	maxBackups int
	logger     *log.Logger
	now        func() time.Time

	records map[string]Record
	dirty   bool
	loadErr error
}

// New creates an empty database without touching the filesystem.
func New(opts Options) *Database {
	d := &Database{
		path:       opts.Path,
		backupDir:  opts.BackupDir,
		maxBackups: opts.MaxBackups,
		logger:     logging.Ensure(opts.Logger),
		now:        opts.Now,
		records:    make(map[string]Record),
	}
	if d.maxBackups <= 0 {
		d.maxBackups = DefaultMaxBackups
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Open creates a database and loads the store from disk.
func Open(opts Options) *Database {
	d := New(opts)
	d.Load()
	return d
}

// Path returns the location of the store.
func (d *Database) Path() string { return d.path }

// Load replaces the in-memory records with the store's content.
// A missing store yields an empty database. An undecodable store is copied to the
// backup directory and replaced by an empty database.
func (d *Database) Load() {
	d.records = make(map[string]Record)
	d.dirty = false
	d.loadErr = nil

	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		d.loadErr = zerr.With(zerr.Wrap(err, "failed to read package database"), "path", d.path)
		d.logger.Warn("cannot read package database, starting empty", "path", d.path, "err", err)
		return
	}

	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		d.loadErr = zerr.With(fmt.Errorf("%w: %w", ErrCorrupt, err), "path", d.path)
		d.recoverCorrupt()
		return
	}

	for name, rec := range records {
		if rec.Name == "" {
			rec.Name = name
		}
		if rec.Pending() {
			d.logger.Warn("package has an interrupted installation", "package", name, "version", rec.Version)
		}
		d.records[name] = rec
	}
}

func (d *Database) recoverCorrupt() {
	backup, err := d.backupCorrupt()
	if err != nil {
		d.logger.Warn("package database is corrupt and could not be backed up", "path", d.path, "err", err)
		return
	}
	d.logger.Warn("package database is corrupt, starting empty", "path", d.path, "backup", backup, "err", d.loadErr)
}

// LoadErr returns the problem the last Load recovered from, if any.
func (d *Database) LoadErr() error { return d.loadErr }

// Get returns a copy of the named record.
func (d *Database) Get(name string) (Record, bool) {
	rec, ok := d.records[name]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Names returns the sorted package names.
func (d *Database) Names() []string {
	names := make([]string, 0, len(d.records))
	for name := range d.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns copies of all records sorted by name.
func (d *Database) Records() []Record {
	out := make([]Record, 0, len(d.records))
	for _, name := range d.Names() {
		out = append(out, d.records[name].Clone())
	}
	return out
}

// Len returns the number of records.
func (d *Database) Len() int { return len(d.records) }

// Put stores a copy of rec under name, replacing any previous record.
func (d *Database) Put(name string, rec Record) {
	rec = rec.Clone()
	rec.Name = name
	d.records[name] = rec
	d.dirty = true
}

// Delete removes a record. It reports whether the record existed.
func (d *Database) Delete(name string) bool {
	if _, ok := d.records[name]; !ok {
		return false
	}
	delete(d.records, name)
	d.dirty = true
	return true
}

// Dirty reports whether there are unpersisted changes.
func (d *Database) Dirty() bool { return d.dirty }

// Persist writes the records to disk if anything changed since the last Load or Persist.
func (d *Database) Persist() error {
	if !d.dirty {
		return nil
	}

	if _, err := d.backup(); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to back up package database"), "path", d.path)
	}

	data, err := json.MarshalIndent(d.records, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to encode package database")
	}
	data = append(data, '\n')

	if err := writeFileAtomic(d.path, data, 0o644); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write package database"), "path", d.path)
	}

	if err := d.prune(); err != nil {
		// The store itself is durable at this point.
		d.logger.Warn("failed to prune database backups", "dir", d.backupDir, "err", err)
	}

	d.dirty = false
	d.logger.Debug("persisted package database", "path", d.path, "packages", len(d.records))
	return nil
}
