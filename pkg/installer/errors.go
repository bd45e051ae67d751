package installer

import (
	"fmt"
	"strings"

	"upkgt/pkg/verify"
)

// maxListedConflicts caps how many paths ConflictError prints.
const maxListedConflicts = 5

// ConflictError is returned when payload files already exist on the target.
type ConflictError struct {
	Package string
	Paths   []string
}

func (e *ConflictError) Error() string {
	shown := e.Paths
	more := ""
	if len(shown) > maxListedConflicts {
		more = fmt.Sprintf(" and %d more", len(shown)-maxListedConflicts)
		shown = shown[:maxListedConflicts]
	}
	return fmt.Sprintf("%s conflicts with %d existing file(s): %s%s",
		e.Package, len(e.Paths), strings.Join(shown, ", "), more)
}

// MissingCapabilityError is returned when required external tools are absent.
type MissingCapabilityError struct {
	Missing []string
}

func (e *MissingCapabilityError) Error() string {
	return "missing required tools: " + strings.Join(e.Missing, ", ")
}

// PersistError is returned when the package database cannot be written.
// Displaced lists the moved-aside copies of replaced files left on the target
// when the failure happened after placement.
type PersistError struct {
	Package   string
	Err       error
	Displaced []string
}

func (e *PersistError) Error() string {
	msg := fmt.Sprintf("failed to record %s in the package database: %v", e.Package, e.Err)
	if n := len(e.Displaced); n > 0 {
		msg += fmt.Sprintf(" (%d replaced file(s) kept as *%s)", n, verify.DisplacedSuffix)
	}
	return msg
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
