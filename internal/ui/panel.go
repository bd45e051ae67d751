package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"upkgt/pkg/database"
)

// Panel palette.
var (
	ColorPrimary = lipgloss.Color("#7C3AED") // Purple
	ColorMuted   = lipgloss.Color("#6B7280") // Gray
	ColorWarning = lipgloss.Color("#F59E0B") // Yellow
)

// maxPanelFiles caps the file list shown in a panel.
const maxPanelFiles = 10

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1)

	panelTitle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	panelLabel = lipgloss.NewStyle().Foreground(ColorMuted).Width(14)
	panelWarn  = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
)

// RecordPanel renders the details of one installed package in a bordered box.
func RecordPanel(rec database.Record) string {
	var b strings.Builder

	b.WriteString(panelTitle.Render(rec.Name + " " + rec.Version))
	if rec.Pending() {
		b.WriteString(" " + panelWarn.Render("(installation not committed)"))
	}
	b.WriteString("\n\n")

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panelLabel.Render(label), value))
		b.WriteString("\n")
	}

	field("Maintainer", rec.Maintainer)
	field("Architecture", rec.Architecture)
	if rec.InstalledSize > 0 {
		field("Size", HumanSize(rec.InstalledSize))
	}
	if !rec.InstallDate.IsZero() {
		field("Installed", fmt.Sprintf("%s (%s)", rec.InstallDate.Local().Format("2006-01-02 15:04:05"), Age(rec.InstallDate)))
	}
	if len(rec.Depends) > 0 {
		field("Depends", dependsList(rec.Depends))
	}
	field("Provides", strings.Join(rec.Provides, ", "))
	field("Replaces", strings.Join(rec.Replaces, ", "))
	field("Description", rec.Description)

	files := rec.Files
	more := 0
	if len(files) > maxPanelFiles {
		more = len(files) - maxPanelFiles
		files = files[:maxPanelFiles]
	}
	b.WriteString("\n" + panelLabel.Render(fmt.Sprintf("Files (%d)", len(rec.Files))) + "\n")
	for _, f := range files {
		b.WriteString("  " + f + "\n")
	}
	if more > 0 {
		b.WriteString(fmt.Sprintf("  ... and %d more\n", more))
	}

	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
