package database

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a record.
type Status string

const (
	// StatusInstalled marks a committed installation.
	StatusInstalled Status = "installed"

	// StatusPending marks files being placed by a transaction that has not committed.
	StatusPending Status = "pending"
)

// Record describes one installed package.
type Record struct {
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Files         []string          `json:"files"`
	Maintainer    string            `json:"maintainer,omitempty"`
	Description   string            `json:"description,omitempty"`
	Depends       map[string]string `json:"depends"`
	Provides      []string          `json:"provides"`
	Replaces      []string          `json:"replaces"`
	InstallDate   time.Time         `json:"install_date"`
	Architecture  string            `json:"architecture,omitempty"`
	InstalledSize int64             `json:"installed_size,omitempty"`

	// Hashes maps regular files to their xxhash64 digest in hex.
	Hashes map[string]string `json:"hashes,omitempty"`

	// Status is empty in stores written before statuses existed; that reads as installed.
	Status Status `json:"status,omitempty"`
}

// Pending reports whether the record belongs to an uncommitted transaction.
func (r Record) Pending() bool {
	return r.Status == StatusPending
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := r
	c.Files = slices.Clone(r.Files)
	c.Provides = slices.Clone(r.Provides)
	c.Replaces = slices.Clone(r.Replaces)
	c.Depends = cloneMap(r.Depends)
	c.Hashes = cloneMap(r.Hashes)
	return c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
