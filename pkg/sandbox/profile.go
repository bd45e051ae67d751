// Package sandbox wraps commands in a bubblewrap sandbox.
package sandbox

// Profile defines a sandbox configuration for different use cases.
type Profile struct {
	// Name is the profile identifier
	Name string

	// Root is bind-mounted read-write as the sandbox's "/". Empty means no root bind.
	Root string

	// Filesystem bindings
	BindReadOnly  []string // Read-only bind mounts
	BindReadWrite []string // Read-write bind mounts
	Tmpfs         []string // Tmpfs mounts

	// UseDev mounts a fresh /dev with the standard device nodes.
	UseDev bool

	// Process isolation
	UnsharePID bool // Create new PID namespace
	UnshareNet bool // Create new network namespace (no network)
	UnshareIPC bool // Create new IPC namespace

	// Process settings
	DieWithParent bool // Kill sandbox if parent dies
	NewSession    bool // Create new session

	// Environment
	ClearEnv bool              // Clear environment before adding vars
	Env      map[string]string // Environment variables to set
	EnvPass  []string          // Environment variables to pass through
}

// ProfileMaintainer runs maintainer scripts against an install root.
// The root is writable, everything else is fresh.
var ProfileMaintainer = Profile{
	Name: "maintainer",
	Root: "/",

	Tmpfs: []string{
		"/tmp",
		"/run",
	},

	UseDev: true,

	UnsharePID: true,
	UnshareNet: false,
	UnshareIPC: true,

	DieWithParent: true,
	NewSession:    true,

	ClearEnv: true,
	EnvPass: []string{
		"TERM",
	},
	Env: map[string]string{
		"PATH": "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"LANG": "C.UTF-8",
		"HOME": "/root",
	},
}

// ProfileIsolated is ProfileMaintainer without network access.
var ProfileIsolated = func() Profile {
	p := ProfileMaintainer.Clone()
	p.Name = "isolated"
	p.DenyNetwork()
	return *p
}()

// Clone creates a copy of the profile that can be modified.
func (p Profile) Clone() *Profile {
	clone := p

	// Deep copy slices
	clone.BindReadOnly = append([]string{}, p.BindReadOnly...)
	clone.BindReadWrite = append([]string{}, p.BindReadWrite...)
	clone.Tmpfs = append([]string{}, p.Tmpfs...)
	clone.EnvPass = append([]string{}, p.EnvPass...)

	if p.Env != nil {
		clone.Env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			clone.Env[k] = v
		}
	}

	return &clone
}

// SetEnv sets an environment variable.
func (p *Profile) SetEnv(key, value string) {
	if p.Env == nil {
		p.Env = make(map[string]string)
	}
	p.Env[key] = value
}

// DenyNetwork disables network access.
func (p *Profile) DenyNetwork() {
	p.UnshareNet = true
}
