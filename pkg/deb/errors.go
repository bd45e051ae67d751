package deb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when the package file does not exist.
	ErrNotFound = errors.New("package file not found")

	// ErrInvalidFormat is returned when the path is not a .deb file.
	ErrInvalidFormat = errors.New("invalid package format")
)

// MissingArchiveError is returned when no sub-archive with the prefix exists.
type MissingArchiveError struct {
	Prefix string
}

func (e *MissingArchiveError) Error() string {
	return fmt.Sprintf("%s archive not found in package", e.Prefix)
}

// MissingFieldError is returned when required control fields are absent.
type MissingFieldError struct {
	Name    bool
	Version bool
}

func (e *MissingFieldError) Error() string {
	var missing []string
	if e.Name {
		missing = append(missing, "package")
	}
	if e.Version {
		missing = append(missing, "version")
	}
	return "control file is missing required field(s): " + strings.Join(missing, ", ")
}
