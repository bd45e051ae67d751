package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"upkgt/internal/executor"
)

// ErrBubblewrapNotFound is returned when bwrap is not installed
var ErrBubblewrapNotFound = errors.New("bubblewrap (bwrap) is not installed")

// Sandbox turns commands into bwrap invocations.
type Sandbox struct {
	bwrapPath string
	profile   *Profile
	workdir   string
}

// New creates a new sandbox with the given profile.
func New(profile *Profile) (*Sandbox, error) {
	bwrapPath, err := exec.LookPath("bwrap")
	if err != nil {
		return nil, ErrBubblewrapNotFound
	}

	return &Sandbox{
		bwrapPath: bwrapPath,
		profile:   profile,
	}, nil
}

// ProfileByName returns a modifiable copy of a built-in profile.
func ProfileByName(name string) (*Profile, error) {
	switch name {
	case "maintainer":
		return ProfileMaintainer.Clone(), nil
	case "isolated":
		return ProfileIsolated.Clone(), nil
	}
	return nil, fmt.Errorf("unknown profile: %s", name)
}

// IsAvailable checks if bubblewrap is available on the system.
func IsAvailable() bool {
	_, err := exec.LookPath("bwrap")
	return err == nil
}

// SetWorkdir sets the working directory for sandboxed commands.
// This directory will be bind-mounted read-write.
func (s *Sandbox) SetWorkdir(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	s.workdir = absDir
	return nil
}

// Profile returns the current profile.
func (s *Sandbox) Profile() *Profile {
	return s.profile
}

// Args constructs the bwrap command line arguments for cmd.
func (s *Sandbox) Args(cmd string, args []string) []string {
	p := s.profile
	var bwrapArgs []string

	// Unshare namespaces
	if p.UnsharePID {
		bwrapArgs = append(bwrapArgs, "--unshare-pid")
	}
	if p.UnshareNet {
		bwrapArgs = append(bwrapArgs, "--unshare-net")
	}
	if p.UnshareIPC {
		bwrapArgs = append(bwrapArgs, "--unshare-ipc")
	}

	// Process settings
	if p.DieWithParent {
		bwrapArgs = append(bwrapArgs, "--die-with-parent")
	}
	if p.NewSession {
		bwrapArgs = append(bwrapArgs, "--new-session")
	}

	// Root comes first so later mounts land on top of it.
	if p.Root != "" {
		bwrapArgs = append(bwrapArgs, "--bind", p.Root, "/")
	}

	// Read-only binds
	for _, bind := range p.BindReadOnly {
		if pathExists(bind) {
			bwrapArgs = append(bwrapArgs, "--ro-bind", bind, bind)
		}
	}

	// Read-write binds
	for _, bind := range p.BindReadWrite {
		if pathExists(bind) {
			bwrapArgs = append(bwrapArgs, "--bind", bind, bind)
		}
	}

	// Workdir (always read-write)
	if s.workdir != "" {
		bwrapArgs = append(bwrapArgs, "--bind", s.workdir, s.workdir)
		bwrapArgs = append(bwrapArgs, "--chdir", s.workdir)
	}

	bwrapArgs = append(bwrapArgs, "--proc", "/proc")
	if p.UseDev {
		bwrapArgs = append(bwrapArgs, "--dev", "/dev")
	}

	// Tmpfs mounts
	for _, tmp := range p.Tmpfs {
		bwrapArgs = append(bwrapArgs, "--tmpfs", tmp)
	}

	// Environment
	if p.ClearEnv {
		bwrapArgs = append(bwrapArgs, "--clearenv")
	}

	// Pass through environment variables
	for _, envVar := range p.EnvPass {
		if val, ok := os.LookupEnv(envVar); ok {
			bwrapArgs = append(bwrapArgs, "--setenv", envVar, val)
		}
	}

	keys := make([]string, 0, len(p.Env))
	for key := range p.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		bwrapArgs = append(bwrapArgs, "--setenv", key, p.Env[key])
	}

	// Add the command separator and command
	bwrapArgs = append(bwrapArgs, "--")
	bwrapArgs = append(bwrapArgs, cmd)
	bwrapArgs = append(bwrapArgs, args...)

	return bwrapArgs
}

// Wrap returns cmd rewritten to run inside the sandbox.
// The command's Env is ignored; the profile controls the environment.
func (s *Sandbox) Wrap(cmd executor.Command) executor.Command {
	return executor.Command{
		Name: s.bwrapPath,
		Args: s.Args(cmd.Name, cmd.Args),
		Dir:  cmd.Dir,
	}
}

// pathExists checks if a path exists.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MaintainerSandbox creates a sandbox from the named profile for running
// maintainer scripts from workdir against root.
func MaintainerSandbox(profileName, root, workdir string) (*Sandbox, error) {
	profile, err := ProfileByName(profileName)
	if err != nil {
		return nil, err
	}
	if root != "" {
		profile.Root = root
	}

	sandbox, err := New(profile)
	if err != nil {
		return nil, err
	}

	if err := sandbox.SetWorkdir(workdir); err != nil {
		return nil, err
	}

	return sandbox, nil
}
