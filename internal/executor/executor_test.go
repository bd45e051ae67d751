package executor

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	exec := New(nil)
	if exec == nil {
		t.Fatal("New() returned nil")
	}
}

func TestCaptureLines(t *testing.T) {
	exec := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := exec.Capture(ctx, Command{Name: "printf", Args: []string{"a\\n\\nb\\r\\n"}})
	if err != nil {
		t.Fatalf("Capture() error: %v", err)
	}

	lines := res.Lines()
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Errorf("Lines() = %q, want [a b]", lines)
	}
}

func TestCaptureFailing(t *testing.T) {
	exec := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := exec.Capture(ctx, Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
	if err == nil {
		t.Fatal("Capture() should return error for failing command")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Stderr != "broken" {
		t.Errorf("Stderr = %q, want 'broken'", res.Stderr)
	}
}

func TestCaptureDir(t *testing.T) {
	exec := New(nil)
	dir := t.TempDir()

	res, err := exec.Capture(context.Background(), Command{Name: "pwd", Dir: dir})
	if err != nil {
		t.Fatalf("Capture() error: %v", err)
	}

	if !strings.Contains(res.Stdout, dir) {
		t.Errorf("pwd = %q, want %q", res.Stdout, dir)
	}
}

func TestContextCancellation(t *testing.T) {
	exec := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	// Should fail due to cancelled context
	_, err := exec.Capture(ctx, Command{Name: "sleep", Args: []string{"10"}})
	if err == nil {
		t.Error("Capture() should error with cancelled context")
	}
}

func TestCaptureTimeout(t *testing.T) {
	exec := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := exec.Capture(ctx, Command{Name: "sleep", Args: []string{"10"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Capture() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process was not killed at the deadline")
	}
}

func TestLookPath(t *testing.T) {
	missing := LookPath("sh", "definitely-not-a-real-tool-upkgt")

	if len(missing) != 1 || missing[0] != "definitely-not-a-real-tool-upkgt" {
		t.Errorf("LookPath() missing = %v", missing)
	}
}

func TestIsRoot(t *testing.T) {
	result := IsRoot()

	if os.Geteuid() != 0 && result {
		t.Error("IsRoot() should return false when not running as root")
	}

	if os.Geteuid() == 0 && !result {
		t.Error("IsRoot() should return true when running as root")
	}

	if err := RequireRoot(); (err == nil) != result {
		t.Errorf("RequireRoot() = %v, inconsistent with IsRoot() = %v", err, result)
	}
}
