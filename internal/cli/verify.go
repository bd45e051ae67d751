package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"upkgt/internal/ui"
	"upkgt/pkg/database"
	"upkgt/pkg/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [packages...]",
	Short: "Check installed files against the package database",
	Long: `Report files that are missing or whose content changed since they were
installed, and installations that never committed. Without arguments
every installed package is checked.

The exit status is 1 when anything is reported.

Examples:
  upkgt verify              # Check everything
  upkgt verify demo         # Check one package`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	db := openDatabase()

	var records []database.Record
	if len(args) == 0 {
		records = db.Records()
	} else {
		for _, name := range args {
			rec, ok := db.Get(name)
			if !ok {
				return fmt.Errorf("%w: %s", ErrPackageNotInstalled, name)
			}
			records = append(records, rec)
		}
	}

	found := verify.Verify(cfg.Paths.Root, records)
	ui.PrintDiscrepancies(cmd.OutOrStdout(), found)
	if len(found) > 0 {
		return ErrDiscrepancies
	}
	return nil
}
