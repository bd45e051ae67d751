// Package history provides operation history tracking with BoltDB.
package history

import (
	"fmt"
	"time"
)

// Operation represents the type of package operation.
type Operation string

const (
	OpInstall   Operation = "install"
	OpUpgrade   Operation = "upgrade"   // a different version was installed before
	OpReinstall Operation = "reinstall" // the same version was installed before
)

// OperationFor classifies an install given the previously installed version.
func OperationFor(previous, next string) Operation {
	switch previous {
	case "":
		return OpInstall
	case next:
		return OpReinstall
	}
	return OpUpgrade
}

// Entry represents a single operation in the history.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation Operation `json:"operation"`
	Archive   string    `json:"archive"` // .deb path as given by the user

	// Filled in once the control metadata has been decoded.
	Package         string `json:"package,omitempty"`
	Version         string `json:"version,omitempty"`
	PreviousVersion string `json:"previous_version,omitempty"`

	Files   int    `json:"files"`
	Forced  bool   `json:"forced,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewEntry creates a new history entry.
func NewEntry(op Operation, archive string) *Entry {
	now := time.Now()
	return &Entry{
		ID:        generateID(now),
		Timestamp: now,
		Operation: op,
		Archive:   archive,
		Success:   false, // Will be updated after operation completes
	}
}

// MarkSuccess marks the entry as successful.
func (e *Entry) MarkSuccess() {
	e.Success = true
	e.Error = ""
}

// MarkFailed marks the entry as failed with an error message.
func (e *Entry) MarkFailed(err error) {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
}

// generateID generates a unique ID for the entry.
func generateID(t time.Time) string {
	return t.Format("20060102150405.000000")
}

// FormatTime returns a human-readable timestamp.
func (e *Entry) FormatTime() string {
	return e.Timestamp.Format("2006-01-02 15:04:05")
}

// Subject names what the operation acted on.
func (e *Entry) Subject() string {
	if e.Package == "" {
		return e.Archive
	}
	if e.Version == "" {
		return e.Package
	}
	return e.Package + " " + e.Version
}

// Summary returns a brief summary of the operation.
func (e *Entry) Summary() string {
	status := "success"
	if !e.Success {
		status = "failed"
	}

	s := fmt.Sprintf("%s %s %s", e.FormatTime(), e.Operation, e.Subject())
	if e.Operation == OpUpgrade && e.PreviousVersion != "" {
		s += " (from " + e.PreviousVersion + ")"
	}
	return s + " [" + status + "]"
}
