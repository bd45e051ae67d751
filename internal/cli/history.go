package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"upkgt/internal/history"
	"upkgt/internal/ui"
)

var (
	historyLimit     int
	historyPackage   string
	historyFailed    bool
	historyOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show installation history",
	Long: `Display the installations attempted by upkgt, newest first.

Examples:
  upkgt history              # Show recent history
  upkgt history -l 20        # Show last 20 operations
  upkgt history -p demo      # Show operations on one package
  upkgt history show <id>    # Show one entry in full
  upkgt history prune        # Drop entries older than 90 days
  upkgt -y history clear     # Drop every entry`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one history entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history entries",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old history entries",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 10, "number of entries to show")
	historyCmd.Flags().StringVarP(&historyPackage, "package", "p", "", "only show this package")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "only show failed operations")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 90*24*time.Hour, "delete entries older than this")
	historyCmd.AddCommand(historyShowCmd, historyClearCmd, historyPruneCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, ok, err := openHistory()
	if err != nil {
		return err
	}
	if !ok {
		ui.PrintHistory(cmd.OutOrStdout(), nil)
		return nil
	}
	defer store.Close()

	var entries []history.Entry
	switch {
	case historyPackage != "":
		entries, err = store.ListPackage(historyPackage, 0)
	default:
		entries, err = store.List(0)
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if historyFailed {
		failed := entries[:0]
		for _, e := range entries {
			if !e.Success {
				failed = append(failed, e)
			}
		}
		entries = failed
	}
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}

	ui.PrintHistory(cmd.OutOrStdout(), entries)

	total, _ := store.Count()
	if len(entries) > 0 {
		ui.MutedMsg("\nShowing %d of %d total entries", len(entries), total)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, ok, err := openHistory()
	if err != nil {
		return err
	}
	if !ok {
		return history.ErrNotFound
	}
	defer store.Close()

	entry, err := store.Get(args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, entry.Summary())
	fmt.Fprintf(w, "  %s %s\n", ui.Cyan("Archive:"), entry.Archive)
	fmt.Fprintf(w, "  %s %d\n", ui.Cyan("Paths:"), entry.Files)
	if entry.Forced {
		fmt.Fprintf(w, "  %s yes\n", ui.Cyan("Forced:"))
	}
	if entry.Error != "" {
		fmt.Fprintf(w, "  %s %s\n", ui.Cyan("Error:"), entry.Error)
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	store, ok, err := openHistoryWritable()
	if err != nil || !ok {
		return err
	}
	defer store.Close()

	n, err := store.Count()
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if n == 0 {
		ui.MutedMsg("No history recorded")
		return nil
	}

	if !ui.AssumeYes && !ui.Interactive() {
		return errors.New("refusing to clear history without a terminal; pass --yes")
	}
	confirmed, err := ui.Confirm(fmt.Sprintf("Delete %d history %s", n, ui.Plural(n, "entry")), false)
	if err != nil {
		return err
	}
	if !confirmed {
		return ErrAborted
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	ui.SuccessMsg("Deleted %d history %s", n, ui.Plural(n, "entry"))
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	if historyOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", historyOlderThan)
	}

	store, ok, err := openHistoryWritable()
	if err != nil || !ok {
		return err
	}
	defer store.Close()

	n, err := store.Prune(historyOlderThan)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	ui.SuccessMsg("Deleted %d history %s older than %s", n, ui.Plural(n, "entry"), historyOlderThan)
	return nil
}
