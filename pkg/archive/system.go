package archive

import (
	"context"
	"path/filepath"

	"upkgt/internal/executor"
)

// Runner executes an external command. *executor.Executor satisfies it.
type Runner interface {
	Capture(ctx context.Context, cmd executor.Command) (*executor.Result, error)
}

// System extracts archives with the host's ar(1) and tar(1).
type System struct {
	exec Runner
}

// NewSystem creates a System extractor. A nil runner uses a silent executor.
func NewSystem(exec Runner) *System {
	if exec == nil {
		exec = executor.New(nil)
	}
	return &System{exec: exec}
}

// Name returns "system".
func (s *System) Name() string { return "system" }

// Requires returns the tools this backend shells out to.
// xz is needed by tar for .tar.xz members, which most packages use.
func (s *System) Requires() []string {
	return []string{"ar", "tar", "xz"}
}

// Extract runs `ar x` inside destDir.
func (s *System) Extract(ctx context.Context, containerPath, destDir string) error {
	abs, err := filepath.Abs(containerPath)
	if err != nil {
		return &ExtractionError{Op: "extract", Archive: containerPath, Err: err}
	}

	res, err := s.exec.Capture(ctx, executor.Command{
		Name: "ar",
		Args: []string{"x", abs},
		Dir:  destDir,
	})
	if err != nil {
		return &ExtractionError{Op: "extract", Archive: containerPath, Stderr: stderrOf(res), Err: err}
	}
	return nil
}

// List runs `tar tf` and returns one name per output line.
func (s *System) List(ctx context.Context, archivePath string) ([]string, error) {
	res, err := s.exec.Capture(ctx, executor.Command{
		Name: "tar",
		Args: []string{"tf", archivePath},
	})
	if err != nil {
		return nil, &ExtractionError{Op: "list", Archive: archivePath, Stderr: stderrOf(res), Err: err}
	}
	return res.Lines(), nil
}

// ExtractTo runs `tar xf <archive> -C <destDir>`.
func (s *System) ExtractTo(ctx context.Context, archivePath, destDir string) error {
	res, err := s.exec.Capture(ctx, executor.Command{
		Name: "tar",
		Args: []string{"xf", archivePath, "-C", destDir},
	})
	if err != nil {
		return &ExtractionError{Op: "extract-to", Archive: archivePath, Stderr: stderrOf(res), Err: err}
	}
	return nil
}

func stderrOf(res *executor.Result) string {
	if res == nil {
		return ""
	}
	return res.Stderr
}
