package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"upkgt/internal/ui"
)

var infoCmd = &cobra.Command{
	Use:   "info [package]",
	Short: "Show an installed package",
	Long: `Display the recorded details of an installed package.

Examples:
  upkgt info demo`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	rec, ok := openDatabase().Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", ErrPackageNotInstalled, args[0])
	}

	fmt.Fprintln(cmd.OutOrStdout(), ui.RecordPanel(rec))
	return nil
}
