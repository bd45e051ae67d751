package installer

import (
	"os"
	"path/filepath"
	"strings"

	"upkgt/internal/executor"
	"upkgt/pkg/archive"
)

// DetectConflicts returns the payload paths that already exist under root, in
// payload order. Directory entries never conflict. Dangling symlinks do.
func DetectConflicts(root string, paths []string) []string {
	var conflicts []string
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			continue
		}
		if _, err := os.Lstat(filepath.Join(root, p)); err == nil {
			conflicts = append(conflicts, p)
		}
	}
	return conflicts
}

// CheckCapabilities verifies that the tools the extractor shells out to are on PATH.
func CheckCapabilities(ex archive.Extractor) error {
	if missing := executor.LookPath(ex.Requires()...); len(missing) > 0 {
		return &MissingCapabilityError{Missing: missing}
	}
	return nil
}
