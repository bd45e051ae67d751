// Package debtest builds real .deb files for tests.
package debtest

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"upkgt/pkg/archive"
)

// File is one payload entry. Paths are absolute ("/usr/bin/demo").
type File struct {
	Path string
	Body string
	Mode int64

	// Dir emits a directory entry; Path should end with "/".
	Dir bool

	// Link emits a symlink pointing at Link.
	Link string
}

// Package describes a fixture.
type Package struct {
	Name    string
	Version string

	// Fields are extra control fields, written in sorted order.
	Fields map[string]string

	// Control replaces the generated control file entirely when set.
	Control string

	// Scripts maps script names ("postinst") to bodies.
	Scripts map[string]string

	Files []File

	// ParentDirs emits "./" and every parent directory of Files, as dpkg-deb does.
	ParentDirs bool

	// Compression applies to both sub-archives. Zero value means gzip.
	Compression archive.Compression
	Raw         bool

	// Omit leaves the named ar members out ("control", "data").
	Omit []string
}

// Build writes the package to dir and returns its path.
func Build(t testing.TB, dir string, p Package) string {
	t.Helper()

	data, err := p.Bytes()
	if err != nil {
		t.Fatalf("debtest: build %s: %v", p.Name, err)
	}

	name := p.Name
	if name == "" {
		name = "fixture"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.deb", name, p.Version))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("debtest: write %s: %v", path, err)
	}
	return path
}

// Bytes renders the ar container.
func (p Package) Bytes() ([]byte, error) {
	comp := p.compression()
	ext := ".tar"
	if comp != archive.CompressionNone {
		ext += "." + string(comp)
	}

	control, err := p.controlTar(comp)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	payload, err := p.dataTar(comp)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}

	var buf bytes.Buffer
	aw := archive.NewArWriter(&buf)
	if err := aw.WriteFile("debian-binary", 0o644, []byte("2.0\n")); err != nil {
		return nil, err
	}
	if !p.omits("control") {
		if err := aw.WriteFile("control"+ext, 0o644, control); err != nil {
			return nil, err
		}
	}
	if !p.omits("data") {
		if err := aw.WriteFile("data"+ext, 0o644, payload); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Entries returns the raw tar names of the data sub-archive in write order.
func (p Package) Entries() []string {
	var names []string
	for _, e := range p.payloadEntries() {
		names = append(names, e.name)
	}
	return names
}

func (p Package) compression() archive.Compression {
	if p.Raw {
		return archive.CompressionNone
	}
	if p.Compression == archive.CompressionNone {
		return archive.CompressionGzip
	}
	return p.Compression
}

func (p Package) omits(member string) bool {
	for _, o := range p.Omit {
		if o == member {
			return true
		}
	}
	return false
}

func (p Package) controlText() string {
	if p.Control != "" {
		return p.Control
	}

	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "Package: %s\n", p.Name)
	}
	if p.Version != "" {
		fmt.Fprintf(&b, "Version: %s\n", p.Version)
	}

	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, p.Fields[k])
	}
	return b.String()
}

type tarEntry struct {
	name string
	body string
	mode int64
	typ  byte
	link string
}

func (p Package) controlTar(comp archive.Compression) ([]byte, error) {
	entries := []tarEntry{
		{name: "./", mode: 0o755, typ: tar.TypeDir},
		{name: "./control", body: p.controlText(), mode: 0o644, typ: tar.TypeReg},
	}

	names := make([]string, 0, len(p.Scripts))
	for name := range p.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entries = append(entries, tarEntry{name: "./" + name, body: p.Scripts[name], mode: 0o755, typ: tar.TypeReg})
	}

	return writeTar(entries, comp)
}

func (p Package) dataTar(comp archive.Compression) ([]byte, error) {
	return writeTar(p.payloadEntries(), comp)
}

func (p Package) payloadEntries() []tarEntry {
	var entries []tarEntry
	seen := map[string]bool{}

	addDir := func(name string) {
		if !seen[name] {
			seen[name] = true
			entries = append(entries, tarEntry{name: name, mode: 0o755, typ: tar.TypeDir})
		}
	}

	if p.ParentDirs {
		addDir("./")
	}

	for _, f := range p.Files {
		rel := "." + f.Path
		if p.ParentDirs {
			parts := strings.Split(strings.Trim(f.Path, "/"), "/")
			for i := 1; i < len(parts); i++ {
				addDir("./" + strings.Join(parts[:i], "/") + "/")
			}
		}

		switch {
		case f.Dir:
			addDir(rel)
		case f.Link != "":
			entries = append(entries, tarEntry{name: rel, mode: 0o777, typ: tar.TypeSymlink, link: f.Link})
		default:
			mode := f.Mode
			if mode == 0 {
				mode = 0o644
			}
			entries = append(entries, tarEntry{name: rel, body: f.Body, mode: mode, typ: tar.TypeReg})
		}
	}
	return entries
}

func writeTar(entries []tarEntry, comp archive.Compression) ([]byte, error) {
	var buf bytes.Buffer
	cw, err := archive.Compress(&buf, comp)
	if err != nil {
		return nil, err
	}

	tw := tar.NewWriter(cw)
	mtime := time.Unix(1700000000, 0)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     e.mode,
			Typeflag: e.typ,
			Linkname: e.link,
			ModTime:  mtime,
			Uname:    "root",
			Gname:    "root",
		}
		if e.typ == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if e.typ == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				return nil, err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := cw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
