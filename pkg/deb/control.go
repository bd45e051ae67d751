package deb

import (
	"regexp"
	"sort"
	"strings"
)

// Dependency is one entry of a Depends field.
type Dependency struct {
	Name string

	// Constraint is the text inside the parentheses, e.g. ">= 1.2". Empty when unconstrained.
	Constraint string
}

// ParseControl decodes an RFC-822 style control block.
//
// Keys are lower-cased. A line starting with a space or tab continues the current
// field and is appended after a newline. Lines that neither continue a field nor
// contain a colon are ignored.
func ParseControl(text string) map[string]string {
	fields := make(map[string]string)

	var (
		key   string
		value []string
	)
	flush := func() {
		if key != "" {
			fields[key] = strings.Join(value, "\n")
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")

		switch {
		case line != "" && (line[0] == ' ' || line[0] == '\t'):
			if key != "" {
				value = append(value, strings.TrimSpace(line))
			}

		case strings.Contains(line, ":"):
			flush()
			k, v, _ := strings.Cut(line, ":")
			key = strings.ToLower(strings.TrimSpace(k))
			value = []string{strings.TrimSpace(v)}
		}
	}
	flush()

	return fields
}

var dependencyPattern = regexp.MustCompile(`^([^\s(]+)(?:\s*\((.*?)\))?`)

// ParseDepends splits a Depends-style field into ordered entries.
// For alternatives ("a | b") only the first name is captured.
func ParseDepends(s string) []Dependency {
	var deps []Dependency
	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		m := dependencyPattern.FindStringSubmatch(token)
		if m == nil || m[1] == "" {
			continue
		}
		deps = append(deps, Dependency{Name: m[1], Constraint: m[2]})
	}
	return deps
}

// DependencyMap collapses deps into name -> constraint. Later duplicates win.
func DependencyMap(deps []Dependency) map[string]string {
	m := make(map[string]string, len(deps))
	for _, d := range deps {
		m[d.Name] = d.Constraint
	}
	return m
}

// ParseSet splits a comma separated field into a sorted set without empties.
func ParseSet(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
