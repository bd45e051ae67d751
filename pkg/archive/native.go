package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Native extracts archives in-process without external tools.
type Native struct{}

// NewNative creates a Native extractor.
func NewNative() *Native { return &Native{} }

// Name returns "native".
func (n *Native) Name() string { return "native" }

// Requires returns nothing; the native backend is self-contained.
func (n *Native) Requires() []string { return nil }

// Extract unpacks every ar member into destDir.
func (n *Native) Extract(ctx context.Context, containerPath, destDir string) error {
	if err := n.extract(ctx, containerPath, destDir); err != nil {
		return &ExtractionError{Op: "extract", Archive: containerPath, Err: err}
	}
	return nil
}

func (n *Native) extract(ctx context.Context, containerPath, destDir string) error {
	f, err := os.Open(containerPath)
	if err != nil {
		return err
	}
	defer f.Close()

	ar := NewArReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := ar.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if hdr.Name == "" || strings.ContainsAny(hdr.Name, `/\`) || hdr.Name == "." || hdr.Name == ".." {
			return fmt.Errorf("%w: unsafe member name %q", ErrBadArchive, hdr.Name)
		}

		if err := writeFile(filepath.Join(destDir, hdr.Name), os.FileMode(hdr.Mode&0o777)|0o600, ar); err != nil {
			return err
		}
	}
}

// List returns the raw entry names of a tar archive.
func (n *Native) List(ctx context.Context, archivePath string) ([]string, error) {
	var names []string
	err := n.walk(ctx, archivePath, func(hdr *tar.Header, _ io.Reader) error {
		names = append(names, hdr.Name)
		return nil
	})
	if err != nil {
		return nil, &ExtractionError{Op: "list", Archive: archivePath, Err: err}
	}
	return names, nil
}

// ExtractTo unpacks a tar archive into destDir, refusing entries that escape it.
func (n *Native) ExtractTo(ctx context.Context, archivePath, destDir string) error {
	root, err := filepath.Abs(destDir)
	if err != nil {
		return &ExtractionError{Op: "extract-to", Archive: archivePath, Err: err}
	}

	links := make(map[string]bool)
	err = n.walk(ctx, archivePath, func(hdr *tar.Header, r io.Reader) error {
		return extractEntry(root, hdr, r, links)
	})
	if err != nil {
		return &ExtractionError{Op: "extract-to", Archive: archivePath, Err: err}
	}
	return nil
}

func (n *Native) walk(ctx context.Context, archivePath string, fn func(*tar.Header, io.Reader) error) error {
	comp, err := CompressionFor(archivePath)
	if err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closer, err := Decompress(f, comp)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	defer closer.Close()

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// ErrUnsafePath is returned for tar entries that would land outside the destination.
var ErrUnsafePath = errors.New("entry escapes destination")

// extractEntry writes one tar entry below root. links holds the symlinks created
// by earlier entries of the same archive; no later entry may pass through one.
func extractEntry(root string, hdr *tar.Header, r io.Reader, links map[string]bool) error {
	target, err := securePath(root, hdr.Name)
	if err != nil {
		return err
	}
	if err := checkParents(root, target, links); err != nil {
		return err
	}
	mode := os.FileMode(hdr.Mode) & os.ModePerm

	switch hdr.Typeflag {
	case tar.TypeDir:
		if links[target] {
			return fmt.Errorf("%w: %s is a symlink", ErrUnsafePath, hdr.Name)
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return err
		}
		return os.Chmod(target, mode|0o700)

	case tar.TypeReg:
		delete(links, target)
		return writeFile(target, mode, r)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := removeNonDir(target); err != nil {
			return err
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return err
		}
		links[target] = true
		return nil

	case tar.TypeLink:
		source, err := securePath(root, hdr.Linkname)
		if err != nil {
			return err
		}
		if err := checkParents(root, source, links); err != nil {
			return err
		}
		if err := removeNonDir(target); err != nil {
			return err
		}
		delete(links, target)
		return os.Link(source, target)
	}

	// Device nodes and fifos are not shipped by regular packages.
	return nil
}

func writeFile(target string, mode os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := removeNonDir(target); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// OpenFile is subject to umask.
	return os.Chmod(target, mode)
}

func removeNonDir(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory", path)
	}
	return os.Remove(path)
}

func securePath(root, name string) (string, error) {
	rel := strings.TrimPrefix(name, "./")
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}
	}
	return filepath.Join(root, filepath.Clean("/"+rel)), nil
}

// checkParents refuses targets whose parent directories below root include a
// symlink from links. Symlinks already present under root are followed.
func checkParents(root, target string, links map[string]bool) error {
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil {
		return err
	}
	if rel == "." || len(links) == 0 {
		return nil
	}

	dir := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)
		if links[dir] {
			return fmt.Errorf("%w: %s passes through symlink %s", ErrUnsafePath, target, dir)
		}
	}
	return nil
}
