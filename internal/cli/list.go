package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"upkgt/internal/ui"
	"upkgt/pkg/database"
)

var (
	listLimit   int
	listPattern string
	listDetails bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Long: `List the packages recorded in the package database, sorted by name.

Examples:
  upkgt list                    # List all installed packages
  upkgt list -d                 # Include architecture, size and dependencies
  upkgt list -l 20              # List first 20 packages
  upkgt list -p 'lib*'          # List packages matching a glob`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 0, "limit number of results")
	listCmd.Flags().StringVarP(&listPattern, "pattern", "p", "", "filter by name glob")
	listCmd.Flags().BoolVarP(&listDetails, "details", "d", false, "show more columns")
}

func runList(cmd *cobra.Command, args []string) error {
	db := openDatabase()

	records, err := filterRecords(db.Records(), listPattern, listLimit)
	if err != nil {
		return err
	}

	ui.PrintRecords(cmd.OutOrStdout(), records, listDetails)
	if len(records) > 0 {
		ui.MutedMsg("\nTotal: %d of %d %s", len(records), db.Len(), ui.Plural(db.Len(), "package"))
	}
	return nil
}

// filterRecords keeps records whose name matches the glob pattern, up to limit.
func filterRecords(records []database.Record, pattern string, limit int) ([]database.Record, error) {
	if pattern != "" {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, err
		}
	}

	var out []database.Record
	for _, rec := range records {
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, rec.Name); !ok {
				continue
			}
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
