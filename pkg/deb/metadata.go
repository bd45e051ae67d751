package deb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"upkgt/pkg/archive"
)

// ScriptName identifies a maintainer script.
type ScriptName string

const (
	PreInst  ScriptName = "preinst"
	PostInst ScriptName = "postinst"
	PreRm    ScriptName = "prerm"
	PostRm   ScriptName = "postrm"
)

// ScriptNames lists every maintainer script in lifecycle order.
var ScriptNames = []ScriptName{PreInst, PostInst, PreRm, PostRm}

// Metadata is the decoded control information of a package.
type Metadata struct {
	Name          string
	Version       string
	Maintainer    string
	Description   string
	Architecture  string
	InstalledSize int64 // KiB

	// Fields holds every control field, keys lower-cased.
	Fields map[string]string

	Depends  []Dependency
	Provides []string
	Replaces []string

	Scripts map[ScriptName]string
}

// Script returns the body of a maintainer script and whether the package ships it.
func (m *Metadata) Script(name ScriptName) (string, bool) {
	body, ok := m.Scripts[name]
	return body, ok
}

// Summary returns the first line of the description.
func (m *Metadata) Summary() string {
	first, _, _ := strings.Cut(m.Description, "\n")
	return first
}

// NewMetadata builds Metadata from parsed control fields.
func NewMetadata(fields map[string]string) (*Metadata, error) {
	name := fields["package"]
	version := fields["version"]
	if name == "" || version == "" {
		return nil, &MissingFieldError{Name: name == "", Version: version == ""}
	}

	m := &Metadata{
		Name:         name,
		Version:      version,
		Maintainer:   fields["maintainer"],
		Description:  fields["description"],
		Architecture: fields["architecture"],
		Fields:       fields,
		Scripts:      make(map[ScriptName]string),
	}

	if size, err := strconv.ParseInt(strings.TrimSpace(fields["installed-size"]), 10, 64); err == nil {
		m.InstalledSize = size
	}
	if v, ok := fields["depends"]; ok {
		m.Depends = ParseDepends(v)
	}
	if v, ok := fields["provides"]; ok {
		m.Provides = ParseSet(v)
	}
	if v, ok := fields["replaces"]; ok {
		m.Replaces = ParseSet(v)
	}
	return m, nil
}

// DecodeMetadata unpacks a control sub-archive into a scratch directory and decodes it.
// The scratch directory is created next to the archive and always removed.
func DecodeMetadata(ctx context.Context, ex archive.Extractor, controlArchive string) (*Metadata, error) {
	scratch, err := os.MkdirTemp(filepath.Dir(controlArchive), "control-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := ex.ExtractTo(ctx, controlArchive, scratch); err != nil {
		return nil, err
	}

	text, err := os.ReadFile(filepath.Join(scratch, "control"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &MissingFieldError{Name: true, Version: true}
		}
		return nil, fmt.Errorf("failed to read control file: %w", err)
	}

	m, err := NewMetadata(ParseControl(string(text)))
	if err != nil {
		return nil, err
	}

	for _, name := range ScriptNames {
		body, err := os.ReadFile(filepath.Join(scratch, string(name)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		m.Scripts[name] = string(body)
	}

	return m, nil
}
