// Package archive provides the extraction capability used to unpack .deb packages.
//
// Two backends are available: System shells out to ar(1) and tar(1), Native does
// everything in-process. Both satisfy Extractor.
package archive

import (
	"context"
	"fmt"
	"strings"
)

// Extractor unpacks an ar container and the tar sub-archives inside it.
type Extractor interface {
	// Name identifies the backend in logs and diagnostics.
	Name() string

	// Requires lists external tools that must be on PATH.
	Requires() []string

	// Extract unpacks every member of the ar container into destDir.
	Extract(ctx context.Context, containerPath, destDir string) error

	// List returns the raw entry names of a tar archive without extracting it.
	List(ctx context.Context, archivePath string) ([]string, error)

	// ExtractTo unpacks a tar archive into destDir.
	ExtractTo(ctx context.Context, archivePath, destDir string) error
}

// ExtractionError reports a failed extraction step.
type ExtractionError struct {
	Op      string // "extract", "list" or "extract-to"
	Archive string
	Stderr  string
	Err     error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Op, e.Archive)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Compression identifies a tar stream compression by file suffix.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gz"
	CompressionXZ   Compression = "xz"
	CompressionZstd Compression = "zst"
)

// CompressionFor returns the compression implied by a sub-archive file name.
func CompressionFor(name string) (Compression, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		return CompressionGzip, nil
	case strings.HasSuffix(name, ".tar.xz"):
		return CompressionXZ, nil
	case strings.HasSuffix(name, ".tar.zst"):
		return CompressionZstd, nil
	case strings.HasSuffix(name, ".tar"):
		return CompressionNone, nil
	}
	return CompressionNone, fmt.Errorf("unsupported archive type: %s", name)
}

// New returns the extractor backend with the given name.
func New(name string, exec Runner) (Extractor, error) {
	switch name {
	case "system":
		return NewSystem(exec), nil
	case "native":
		return NewNative(), nil
	}
	return nil, fmt.Errorf("unknown extraction backend: %s", name)
}
