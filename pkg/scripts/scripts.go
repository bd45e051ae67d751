// Package scripts runs package maintainer scripts.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"upkgt/internal/executor"
	"upkgt/internal/logging"
	"upkgt/pkg/deb"
	"upkgt/pkg/sandbox"
)

// DefaultTimeout bounds a single script run.
const DefaultTimeout = 60 * time.Second

// Runner executes one maintainer script of a package.
type Runner interface {
	Run(ctx context.Context, name deb.ScriptName, meta *deb.Metadata, workdir string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name deb.ScriptName, meta *deb.Metadata, workdir string) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name deb.ScriptName, meta *deb.Metadata, workdir string) error {
	return f(ctx, name, meta, workdir)
}

// ScriptError reports a failed or timed-out script.
type ScriptError struct {
	Script   deb.ScriptName
	Package  string
	ExitCode int
	TimedOut bool
	Output   string
	Err      error
}

func (e *ScriptError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s of %s timed out", e.Script, e.Package)
	}
	msg := fmt.Sprintf("%s of %s failed with exit code %d", e.Script, e.Package, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// CommandRunner runs a command. *executor.Executor satisfies it.
type CommandRunner interface {
	Capture(ctx context.Context, cmd executor.Command) (*executor.Result, error)
}

// ExecOptions configures an Exec runner.
type ExecOptions struct {
	Executor CommandRunner
	Logger   *log.Logger

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// Action is passed as the script's only argument. Defaults to "install".
	Action string

	// Root is the install root exposed to scripts. Defaults to "/".
	Root string

	// Sandbox runs scripts under bubblewrap when it is available.
	Sandbox bool

	// SandboxProfile names the bubblewrap profile. Defaults to "maintainer".
	SandboxProfile string
}

// Exec runs scripts as real processes.
type Exec struct {
	exec    CommandRunner
	logger  *log.Logger
	timeout time.Duration
	action  string
	root    string
	sandbox bool
	profile string
}

// NewExec creates an Exec runner.
func NewExec(opts ExecOptions) *Exec {
	e := &Exec{
		exec:    opts.Executor,
		logger:  logging.Ensure(opts.Logger),
		timeout: opts.Timeout,
		action:  opts.Action,
		root:    opts.Root,
		sandbox: opts.Sandbox,
		profile: opts.SandboxProfile,
	}
	if e.exec == nil {
		e.exec = executor.New(e.logger)
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.action == "" {
		e.action = "install"
	}
	if e.root == "" {
		e.root = "/"
	}
	if e.profile == "" {
		e.profile = sandbox.ProfileMaintainer.Name
	}
	return e
}

// Run writes the script to workdir, executes it and removes it again.
// Packages that do not ship the script are a no-op.
func (e *Exec) Run(ctx context.Context, name deb.ScriptName, meta *deb.Metadata, workdir string) error {
	body, ok := meta.Script(name)
	if !ok {
		return nil
	}

	path := filepath.Join(workdir, string(name)+".sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		return &ScriptError{Script: name, Package: meta.Name, ExitCode: -1, Err: err}
	}
	defer os.Remove(path)
	if err := os.Chmod(path, 0o755); err != nil {
		return &ScriptError{Script: name, Package: meta.Name, ExitCode: -1, Err: err}
	}

	cmd, err := e.command(name, meta, path, workdir)
	if err != nil {
		return &ScriptError{Script: name, Package: meta.Name, ExitCode: -1, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Info("running maintainer script", "package", meta.Name, "script", name)
	res, err := e.exec.Capture(ctx, cmd)
	if res != nil {
		for _, line := range strings.Split(strings.TrimSpace(res.Combined()), "\n") {
			if line != "" {
				e.logger.Debug(line, "script", name)
			}
		}
	}

	if err != nil {
		serr := &ScriptError{
			Script:   name,
			Package:  meta.Name,
			ExitCode: -1,
			TimedOut: errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
		if res != nil {
			serr.ExitCode = res.ExitCode
			serr.Output = strings.TrimSpace(res.Combined())
		}
		return serr
	}
	return nil
}

func (e *Exec) command(name deb.ScriptName, meta *deb.Metadata, path, workdir string) (executor.Command, error) {
	env := map[string]string{
		"DPKG_MAINTSCRIPT_NAME":    string(name),
		"DPKG_MAINTSCRIPT_PACKAGE": meta.Name,
		"DPKG_MAINTSCRIPT_ARCH":    meta.Architecture,
	}
	if e.root != "/" {
		env["DPKG_ROOT"] = e.root
	}

	cmd := executor.Command{Name: path, Args: []string{e.action}, Dir: workdir}

	if e.sandbox {
		sb, err := sandbox.MaintainerSandbox(e.profile, e.root, workdir)
		switch {
		case errors.Is(err, sandbox.ErrBubblewrapNotFound):
			e.logger.Warn("bubblewrap not found, running script unsandboxed", "script", name)
		case err != nil:
			return cmd, err
		default:
			// Inside the sandbox the root is "/".
			delete(env, "DPKG_ROOT")
			for k, v := range env {
				sb.Profile().SetEnv(k, v)
			}
			return sb.Wrap(cmd), nil
		}
	}

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd, nil
}

// DryRun logs scripts instead of running them.
type DryRun struct {
	logger *log.Logger
}

// NewDryRun creates a DryRun runner.
func NewDryRun(logger *log.Logger) *DryRun {
	return &DryRun{logger: logging.Ensure(logger)}
}

// Run logs what would be executed.
func (d *DryRun) Run(_ context.Context, name deb.ScriptName, meta *deb.Metadata, _ string) error {
	if body, ok := meta.Script(name); ok {
		d.logger.Info("would run maintainer script", "package", meta.Name, "script", name, "bytes", len(body))
	}
	return nil
}
