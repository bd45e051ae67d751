package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"upkgt/internal/history"
	"upkgt/pkg/database"
	"upkgt/pkg/verify"
)

func init() {
	color.NoColor = true
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		kib  int64
		want string
	}{
		{0, "-"},
		{1, "1.0 KiB"},
		{2048, "2.0 MiB"},
	}
	for _, tt := range tests {
		if got := HumanSize(tt.kib); got != tt.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tt.kib, got, tt.want)
		}
	}
}

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	PrintRecords(&buf, nil, false)
	if !strings.Contains(buf.String(), "No packages installed") {
		t.Errorf("empty list output = %q", buf.String())
	}

	buf.Reset()
	PrintRecords(&buf, []database.Record{
		{Name: "demo", Version: "1.0", Files: []string{"/usr/bin/demo"}, InstallDate: time.Now().Add(-time.Hour)},
		{Name: "half", Version: "0.1", Status: database.StatusPending, Depends: map[string]string{"libc6": ">= 2.31"}},
	}, true)

	out := buf.String()
	for _, want := range []string{"NAME", "DEPENDS", "demo", "1.0", "1 hour ago", "[pending]", "libc6 (>= 2.31)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDiscrepancies(t *testing.T) {
	var buf bytes.Buffer
	PrintDiscrepancies(&buf, nil)
	if !strings.Contains(buf.String(), "verified") {
		t.Errorf("clean output = %q", buf.String())
	}

	buf.Reset()
	PrintDiscrepancies(&buf, []verify.Discrepancy{
		{Package: "demo", Path: "/usr/bin/demo", Issue: verify.IssueModified},
		{Package: "demo", Issue: verify.IssuePending},
	})
	out := buf.String()
	for _, want := range []string{"modified", "/usr/bin/demo", "pending", "2 problems"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	PrintHistory(&buf, []history.Entry{{
		ID:              "abc",
		Timestamp:       time.Date(2026, 1, 15, 10, 30, 45, 0, time.UTC),
		Operation:       history.OpUpgrade,
		Package:         "demo",
		Version:         "2.0",
		PreviousVersion: "1.0",
		Forced:          true,
	}})

	out := buf.String()
	for _, want := range []string{"abc", "upgrade", "demo 2.0", "(from 1.0)", "[forced]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRecordPanel(t *testing.T) {
	files := make([]string, 12)
	for i := range files {
		files[i] = "/usr/share/demo/f" + string(rune('a'+i))
	}

	out := RecordPanel(database.Record{
		Name:       "demo",
		Version:    "1.0",
		Maintainer: "Demo Team",
		Files:      files,
		Provides:   []string{"demo-tool"},
	})
	for _, want := range []string{"demo 1.0", "Demo Team", "demo-tool", "Files (12)", "and 2 more"} {
		if !strings.Contains(out, want) {
			t.Errorf("panel missing %q:\n%s", want, out)
		}
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in         string
		defaultYes bool
		want       bool
	}{
		{"", true, true},
		{"", false, false},
		{"Y", false, true},
		{" yes ", false, true},
		{"n", true, false},
	}
	for _, tt := range tests {
		if got := parseAnswer(tt.in, tt.defaultYes); got != tt.want {
			t.Errorf("parseAnswer(%q, %v) = %v", tt.in, tt.defaultYes, got)
		}
	}
}

func TestConfirmAssumeYes(t *testing.T) {
	AssumeYes = true
	defer func() { AssumeYes = false }()

	var buf bytes.Buffer
	saved := Output
	Output = &buf
	defer func() { Output = saved }()

	if !ConfirmOverwrite("demo", []string{"/usr/bin/demo"}) {
		t.Error("AssumeYes should confirm")
	}
	if !strings.Contains(buf.String(), "/usr/bin/demo") {
		t.Errorf("conflicts not listed: %q", buf.String())
	}
}

func TestPlural(t *testing.T) {
	tests := []struct {
		n    int
		word string
		want string
	}{
		{1, "file", "file"},
		{2, "file", "files"},
		{0, "entry", "entries"},
		{3, "day", "days"},
	}
	for _, tt := range tests {
		if got := Plural(tt.n, tt.word); got != tt.want {
			t.Errorf("Plural(%d, %q) = %q, want %q", tt.n, tt.word, got, tt.want)
		}
	}
}
