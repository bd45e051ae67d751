// Package executor runs external commands and captures their results.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"upkgt/internal/logging"

	"github.com/charmbracelet/log"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the process is killed.
const waitDelay = 5 * time.Second

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Env replaces the environment when non-nil.
	Env []string
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Lines returns the non-empty lines of stdout.
func (r *Result) Lines() []string {
	var lines []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Executor runs commands and logs what it runs.
type Executor struct {
	logger *log.Logger
}

// New creates a new Executor. A nil logger discards output.
func New(logger *log.Logger) *Executor {
	return &Executor{logger: logging.Ensure(logger)}
}

// Capture runs cmd to completion and returns its output.
// A non-zero exit yields both a Result (with ExitCode set) and an *exec.ExitError.
// When ctx expires the process is killed and ctx.Err() is wrapped into the error.
func (e *Executor) Capture(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	c.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	e.logger.Debug("executing", "cmd", cmd.String(), "dir", cmd.Dir)

	err := c.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", cmd.Name, ctxErr)
		}
		return res, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	return res, nil
}

// LookPath reports whether each tool is on PATH and returns the missing ones.
func LookPath(tools ...string) []string {
	var missing []string
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}

// IsRoot returns true if the current process is running as root.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// ErrNotRoot is returned when an operation requires root privileges.
var ErrNotRoot = errors.New("this operation requires root privileges")

// RequireRoot returns ErrNotRoot unless running as root.
func RequireRoot() error {
	if !IsRoot() {
		return ErrNotRoot
	}
	return nil
}
