// Package verify compares installed files against the package database.
package verify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"upkgt/pkg/database"
)

// Issue classifies a discrepancy.
type Issue string

const (
	IssueMissing   Issue = "missing"
	IssueModified  Issue = "modified"
	IssuePending   Issue = "pending"
	IssueDisplaced Issue = "displaced"
)

// DisplacedSuffix marks a file moved aside by an installation that has not
// committed. A pending record may leave such copies behind.
const DisplacedSuffix = ".upkgt-displaced"

// Discrepancy is one finding.
type Discrepancy struct {
	Package string
	Path    string
	Issue   Issue
}

func (d Discrepancy) String() string {
	if d.Path == "" {
		return fmt.Sprintf("%s: %s", d.Package, d.Issue)
	}
	return fmt.Sprintf("%s: %s %s", d.Package, d.Issue, d.Path)
}

// HashFile returns the xxhash64 digest of a file as 16 hex digits.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashFiles hashes the regular files among paths, resolved under root.
// Directories, symlinks and missing paths are skipped.
func HashFiles(root string, paths []string) (map[string]string, error) {
	hashes := make(map[string]string)
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			continue
		}
		full := filepath.Join(root, p)
		info, err := os.Lstat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		sum, err := HashFile(full)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", p, err)
		}
		hashes[p] = sum
	}
	return hashes, nil
}

// Verify checks every file of every record under root.
// Results follow record order, then file order.
func Verify(root string, records []database.Record) []Discrepancy {
	var out []Discrepancy
	for _, rec := range records {
		if rec.Pending() {
			out = append(out, Discrepancy{Package: rec.Name, Issue: IssuePending})
		}
		for _, p := range rec.Files {
			if issue, bad := checkFile(root, p, rec.Hashes[p]); bad {
				out = append(out, Discrepancy{Package: rec.Name, Path: p, Issue: issue})
			}
		}
		if rec.Pending() {
			out = append(out, displaced(root, rec)...)
		}
	}
	return out
}

func checkFile(root, p, want string) (Issue, bool) {
	full := filepath.Join(root, p)
	info, err := os.Lstat(full)
	if errors.Is(err, os.ErrNotExist) {
		return IssueMissing, true
	}
	if err != nil {
		return IssueMissing, true
	}

	if strings.HasSuffix(p, "/") || want == "" || !info.Mode().IsRegular() {
		return "", false
	}

	got, err := HashFile(full)
	if err != nil || got != want {
		return IssueModified, true
	}
	return "", false
}

// displaced lists moved-aside copies left next to the files of rec.
func displaced(root string, rec database.Record) []Discrepancy {
	var out []Discrepancy
	for _, p := range rec.Files {
		if strings.HasSuffix(p, "/") {
			continue
		}
		aside := p + DisplacedSuffix
		if _, err := os.Lstat(filepath.Join(root, aside)); err == nil {
			out = append(out, Discrepancy{Package: rec.Name, Path: aside, Issue: IssueDisplaced})
		}
	}
	return out
}
