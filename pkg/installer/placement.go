package installer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"

	"upkgt/internal/logging"
	"upkgt/pkg/verify"
)

// placement moves a staged payload onto the target root and remembers enough to
// undo it.
type placement struct {
	root    string
	staging string
	logger  *log.Logger

	placed      []string          // targets written, in order
	displaced   map[string]string // target -> moved-aside copy
	createdDirs []string          // directories that did not exist before
}

func newPlacement(root, staging string, logger *log.Logger) *placement {
	return &placement{
		root:      root,
		staging:   staging,
		logger:    logging.Ensure(logger),
		displaced: make(map[string]string),
	}
}

// apply places every entry. On error the partial placement is left for rollback.
func (p *placement) apply(entries []string) error {
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if seen[entry] {
			continue
		}
		seen[entry] = true
		if err := p.place(entry); err != nil {
			return fmt.Errorf("failed to place %s: %w", entry, err)
		}
	}
	return nil
}

func (p *placement) place(entry string) error {
	rel := strings.TrimSuffix(entry, "/")
	src := filepath.Join(p.staging, rel)
	dst := filepath.Join(p.root, rel)

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if err := p.ensureDir(filepath.Dir(dst)); err != nil {
		return err
	}

	existing, err := os.Lstat(dst)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	case existing.IsDir() && info.IsDir():
		return nil
	case info.IsDir() && existing.Mode()&os.ModeSymlink != 0 && isDir(dst):
		// Merged-/usr links such as /bin -> usr/bin stay as they are.
		return nil
	case existing.IsDir():
		return fmt.Errorf("%s is a directory", dst)
	default:
		if err := p.displace(dst); err != nil {
			return err
		}
	}

	if info.IsDir() {
		if err := os.Mkdir(dst, info.Mode().Perm()); err != nil {
			return err
		}
		p.createdDirs = append(p.createdDirs, dst)
		return nil
	}

	if err := moveEntry(src, dst, info); err != nil {
		return err
	}
	p.placed = append(p.placed, dst)
	return nil
}

// ensureDir creates dir and its missing parents, recording each one created.
func (p *placement) ensureDir(dir string) error {
	info, err := os.Lstat(dir)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		// A symlink to a directory (e.g. /lib -> usr/lib) is fine.
		if isDir(dir) {
			return nil
		}
		return fmt.Errorf("%s is not a directory", dir)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := p.ensureDir(filepath.Dir(dir)); err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	p.createdDirs = append(p.createdDirs, dir)
	return nil
}

// isDir reports whether path resolves to a directory, following symlinks.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (p *placement) displace(dst string) error {
	aside := dst + verify.DisplacedSuffix
	if err := os.Rename(dst, aside); err != nil {
		return err
	}
	p.displaced[dst] = aside
	return nil
}

// moveEntry renames src onto dst, copying when they are on different filesystems.
func moveEntry(src, dst string, info os.FileInfo) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: unsupported file type %s", src, info.Mode().Type())
	}

	tmp := dst + ".upkgt-new"
	if err := copyFile(src, tmp, info.Mode().Perm()); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}

// rollback removes placed files, restores displaced ones and removes directories
// it created when they are empty again.
func (p *placement) rollback() error {
	var errs []error

	for i := len(p.placed) - 1; i >= 0; i-- {
		if err := os.Remove(p.placed[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	// Directories placed over displaced files must go before the files come back.
	for i := len(p.createdDirs) - 1; i >= 0; i-- {
		if err := os.Remove(p.createdDirs[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Debug("left directory in place", "path", p.createdDirs[i], "err", err)
		}
	}

	for dst, aside := range p.displaced {
		if err := os.Rename(aside, dst); err != nil {
			errs = append(errs, err)
		}
	}

	p.placed = nil
	p.createdDirs = nil
	p.displaced = make(map[string]string)
	return errors.Join(errs...)
}

// asides returns the displaced copies as sorted paths relative to the root.
func (p *placement) asides() []string {
	out := make([]string, 0, len(p.displaced))
	for _, aside := range p.displaced {
		rel, err := filepath.Rel(p.root, aside)
		if err != nil {
			rel = aside
		}
		out = append(out, "/"+filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

// commit drops the displaced copies.
func (p *placement) commit() {
	for _, aside := range p.displaced {
		if err := os.Remove(aside); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("failed to remove displaced file", "path", aside, "err", err)
		}
	}
	p.displaced = make(map[string]string)
}
