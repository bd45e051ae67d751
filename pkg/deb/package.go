// Package deb opens .deb archives and decodes their control metadata.
package deb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"upkgt/internal/logging"
	"upkgt/pkg/archive"
)

// subArchiveSuffixes are tried in order by LocateSubArchive.
var subArchiveSuffixes = []string{".tar.xz", ".tar.gz", ".tar.zst", ".tar"}

// Options configures Open.
type Options struct {
	// CacheDir is where the workspace is created. Empty means the system temp dir.
	CacheDir string
	Logger   *log.Logger
}

// Package is an opened .deb file with a private workspace.
// Callers must Close it.
type Package struct {
	path      string
	workspace string
	extractor archive.Extractor
	logger    *log.Logger
	extracted bool
}

// Open validates path and creates the package workspace.
func Open(path string, ex archive.Extractor, opts Options) (*Package, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidFormat)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !strings.HasSuffix(abs, ".deb") {
		return nil, fmt.Errorf("%w: %s is not a .deb file", ErrInvalidFormat, path)
	}

	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	workspace, err := os.MkdirTemp(opts.CacheDir, "upkgt-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Package{
		path:      abs,
		workspace: workspace,
		extractor: ex,
		logger:    logging.Ensure(opts.Logger),
	}, nil
}

// Path returns the absolute path of the .deb file.
func (p *Package) Path() string { return p.path }

// Workspace returns the private working directory.
func (p *Package) Workspace() string { return p.workspace }

func (p *Package) memberDir() string { return filepath.Join(p.workspace, "pkg") }

// Extract unpacks the ar container into the workspace. Repeated calls are no-ops.
func (p *Package) Extract(ctx context.Context) error {
	if p.extracted {
		return nil
	}

	if err := os.MkdirAll(p.memberDir(), 0o755); err != nil {
		return &archive.ExtractionError{Op: "extract", Archive: p.path, Err: err}
	}
	if err := p.extractor.Extract(ctx, p.path, p.memberDir()); err != nil {
		return err
	}

	p.extracted = true
	p.logger.Debug("extracted package", "path", p.path, "workspace", p.workspace)
	return nil
}

// LocateSubArchive finds "<prefix>.tar.*" among the extracted members.
func (p *Package) LocateSubArchive(prefix string) (string, error) {
	for _, suffix := range subArchiveSuffixes {
		candidate := filepath.Join(p.memberDir(), prefix+suffix)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &MissingArchiveError{Prefix: prefix}
}

// Metadata decodes the control sub-archive.
func (p *Package) Metadata(ctx context.Context) (*Metadata, error) {
	control, err := p.LocateSubArchive("control")
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(ctx, p.extractor, control)
}

// ListPayloadEntries lists the data sub-archive without extracting it.
// Entries are absolute; directories keep their trailing slash.
func (p *Package) ListPayloadEntries(ctx context.Context) ([]string, error) {
	data, err := p.LocateSubArchive("data")
	if err != nil {
		return nil, err
	}

	raw, err := p.extractor.List(ctx, data)
	if err != nil {
		return nil, err
	}

	entries := make([]string, 0, len(raw))
	for _, name := range raw {
		if entry, ok := NormalizeEntry(name); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// StagePayload extracts the data sub-archive into the workspace and returns the
// staging directory.
func (p *Package) StagePayload(ctx context.Context) (string, error) {
	data, err := p.LocateSubArchive("data")
	if err != nil {
		return "", err
	}

	staging := filepath.Join(p.workspace, "staging")
	if err := os.RemoveAll(staging); err != nil {
		return "", &archive.ExtractionError{Op: "extract-to", Archive: data, Err: err}
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", &archive.ExtractionError{Op: "extract-to", Archive: data, Err: err}
	}

	if err := p.extractor.ExtractTo(ctx, data, staging); err != nil {
		return "", err
	}
	return staging, nil
}

// MaterializePayload extracts the data sub-archive directly onto root and returns
// the installed entries. An empty root means "/".
func (p *Package) MaterializePayload(ctx context.Context, root string) ([]string, error) {
	if root == "" {
		root = "/"
	}

	data, err := p.LocateSubArchive("data")
	if err != nil {
		return nil, err
	}
	if err := p.extractor.ExtractTo(ctx, data, root); err != nil {
		return nil, err
	}
	return p.ListPayloadEntries(ctx)
}

// Close removes the workspace.
func (p *Package) Close() error {
	if p.workspace == "" {
		return nil
	}
	err := os.RemoveAll(p.workspace)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove workspace", "path", p.workspace, "err", err)
		return err
	}
	p.workspace = ""
	return nil
}

// NormalizeEntry converts a raw tar name into an absolute path.
// One leading "./" or "/" is stripped. The archive root itself reports false.
func NormalizeEntry(name string) (string, bool) {
	rel := name
	if strings.HasPrefix(rel, "./") {
		rel = rel[2:]
	} else if strings.HasPrefix(rel, "/") {
		rel = rel[1:]
	}
	if rel == "" || rel == "." {
		return "", false
	}
	return "/" + rel, true
}
