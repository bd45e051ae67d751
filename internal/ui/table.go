package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"upkgt/internal/history"
	"upkgt/pkg/database"
	"upkgt/pkg/verify"
)

// Table wraps tabwriter for consistent styling.
type Table struct {
	writer  *tabwriter.Writer
	headers []string
}

// NewTable creates a table writing to Output.
func NewTable(header []string) *Table {
	return NewTableWriter(Output, header)
}

// NewTableWriter creates a new table that writes to a specific writer.
func NewTableWriter(w io.Writer, header []string) *Table {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	t := &Table{
		writer:  tw,
		headers: header,
	}
	if len(header) > 0 {
		row := make([]string, len(header))
		for i, h := range header {
			row[i] = Bold(strings.ToUpper(h))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return t
}

// AddRow adds a row to the table.
func (t *Table) AddRow(row ...string) {
	fmt.Fprintln(t.writer, strings.Join(row, "\t"))
}

// Render flushes the table.
func (t *Table) Render() {
	t.writer.Flush()
}

// HumanSize formats an Installed-Size value, which is in KiB.
func HumanSize(kib int64) string {
	if kib <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(kib) * 1024)
}

// Age formats a timestamp relative to now.
func Age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// PrintRecords prints installed packages, sorted as given.
func PrintRecords(w io.Writer, records []database.Record, verbose bool) {
	if len(records) == 0 {
		Muted.Fprintln(w, "No packages installed")
		return
	}

	header := []string{"name", "version", "files", "installed"}
	if verbose {
		header = append(header, "arch", "size", "depends")
	}
	t := NewTableWriter(w, header)

	for _, rec := range records {
		version := PackageVersion.Sprint(rec.Version)
		if rec.Pending() {
			version += " " + Pending.Sprint("[pending]")
		}
		row := []string{
			PackageName.Sprint(rec.Name),
			version,
			fmt.Sprint(len(rec.Files)),
			Age(rec.InstallDate),
		}
		if verbose {
			row = append(row, orDash(rec.Architecture), HumanSize(rec.InstalledSize), dependsList(rec.Depends))
		}
		t.AddRow(row...)
	}
	t.Render()
}

// PrintDiscrepancies prints verification findings grouped by package.
func PrintDiscrepancies(w io.Writer, found []verify.Discrepancy) {
	if len(found) == 0 {
		Success.Fprintf(w, "%s All installed files verified\n", SymbolSuccess)
		return
	}

	t := NewTableWriter(w, []string{"package", "issue", "path"})
	for _, d := range found {
		issue := Warning.Sprint(string(d.Issue))
		if d.Issue == verify.IssueMissing {
			issue = Error.Sprint(string(d.Issue))
		}
		t.AddRow(PackageName.Sprint(d.Package), issue, orDash(d.Path))
	}
	t.Render()
	Warning.Fprintf(w, "%s %d %s found\n", SymbolWarning, len(found), Plural(len(found), "problem"))
}

// PrintHistory prints history entries, newest first.
func PrintHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		Muted.Fprintln(w, "No history recorded")
		return
	}

	t := NewTableWriter(w, []string{"id", "time", "operation", "package", "status"})
	for _, e := range entries {
		status := Success.Sprint(SymbolSuccess)
		if !e.Success {
			status = Error.Sprint(SymbolError)
		}
		subject := e.Subject()
		if e.PreviousVersion != "" && e.PreviousVersion != e.Version {
			subject += Muted.Sprintf(" (from %s)", e.PreviousVersion)
		}
		if e.Forced {
			subject += Warning.Sprint(" [forced]")
		}
		t.AddRow(Muted.Sprint(e.ID), e.FormatTime(), string(e.Operation), subject, status)
	}
	t.Render()
}

func dependsList(deps map[string]string) string {
	if len(deps) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(deps))
	for _, name := range sortedKeys(deps) {
		if c := deps[name]; c != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, c))
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
