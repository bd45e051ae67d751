// Package host describes the system packages are installed onto.
package host

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Info describes a target root.
type Info struct {
	ID         string   // Distribution ID (e.g., "arch", "fedora")
	IDLike     []string // Related distributions
	VersionID  string   // Version number (e.g., "39")
	PrettyName string   // Human-readable name

	// Arch is the Debian architecture name of the running machine.
	Arch string
}

// Detect reads the distribution of the filesystem below root.
// An unrecognisable root reports ID "unknown".
func Detect(root string) *Info {
	info := &Info{Arch: DebianArch(runtime.GOARCH)}

	if f, err := os.Open(filepath.Join(root, "etc", "os-release")); err == nil {
		defer f.Close()
		if parseOSRelease(f, info) == nil && info.ID != "" {
			return info
		}
	}

	if parseReleaseFiles(root, info) == nil {
		return info
	}

	info.ID = "unknown"
	info.PrettyName = "Unknown Linux"
	return info
}

// parseOSRelease fills info from an os-release file.
func parseOSRelease(r io.Reader, info *Info) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		switch key {
		case "ID":
			info.ID = value
		case "ID_LIKE":
			info.IDLike = strings.Fields(value)
		case "VERSION_ID":
			info.VersionID = value
		case "PRETTY_NAME":
			info.PrettyName = value
		}
	}
	return scanner.Err()
}

// parseReleaseFiles checks distribution-specific release files.
func parseReleaseFiles(root string, info *Info) error {
	releaseFiles := []struct {
		path   string
		distro string
		pretty string
	}{
		{"etc/arch-release", "arch", "Arch Linux"},
		{"etc/debian_version", "debian", "Debian GNU/Linux"},
		{"etc/fedora-release", "fedora", "Fedora Linux"},
		{"etc/redhat-release", "rhel", "Red Hat Enterprise Linux"},
		{"etc/gentoo-release", "gentoo", "Gentoo Linux"},
		{"etc/alpine-release", "alpine", "Alpine Linux"},
	}

	for _, rf := range releaseFiles {
		if _, err := os.Stat(filepath.Join(root, rf.path)); err == nil {
			info.ID = rf.distro
			info.PrettyName = rf.pretty
			return nil
		}
	}
	return os.ErrNotExist
}

// distroManagerMap maps distribution IDs to their native package managers.
var distroManagerMap = map[string]string{
	"debian": "dpkg",
	"ubuntu": "dpkg",

	"fedora": "rpm",
	"rhel":   "rpm",
	"centos": "rpm",
	"suse":   "rpm",

	"arch":      "pacman",
	"void":      "xbps",
	"alpine":    "apk",
	"gentoo":    "portage",
	"solus":     "eopkg",
	"nixos":     "nix",
	"slackware": "pkgtools",
}

// NativeManager returns the package manager that owns the distribution, checking
// ID_LIKE when the ID itself is unknown.
func (i *Info) NativeManager() string {
	if mgr, ok := distroManagerMap[i.ID]; ok {
		return mgr
	}
	for _, like := range i.IDLike {
		if mgr, ok := distroManagerMap[like]; ok {
			return mgr
		}
	}
	return ""
}

// UsesDpkg reports whether the distribution already manages .deb packages.
func (i *Info) UsesDpkg() bool {
	return i.NativeManager() == "dpkg"
}

// Accepts reports whether a package built for arch can run here.
func (i *Info) Accepts(arch string) bool {
	return arch == "" || arch == "all" || arch == i.Arch
}

// goArchMap maps GOARCH values whose Debian name differs.
var goArchMap = map[string]string{
	"386":      "i386",
	"arm":      "armhf",
	"ppc64le":  "ppc64el",
	"mipsle":   "mipsel",
	"mips64le": "mips64el",
}

// DebianArch converts a GOARCH value to the matching Debian architecture name.
func DebianArch(goarch string) string {
	if arch, ok := goArchMap[goarch]; ok {
		return arch
	}
	return goarch
}
