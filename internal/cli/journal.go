package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlbridge/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Limit int
	Tx    string
}

// JournalResult is the JSON payload of journal.
type JournalResult struct {
	Transactions []journal.Transaction `json:"transactions,omitempty"`
	Changes      []journal.Change      `json:"changes,omitempty"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal <file>",
		Short: "Show recorded transactions",
		Long: `List the transactions recorded in a journal database, newest first, or
the row changes of one transaction with --tx.

Examples:
  sqlbridge journal changes.db
  sqlbridge journal changes.db --limit 5
  sqlbridge journal changes.db --tx 0192f3e0-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum transactions to list (0 for all)")
	cmd.Flags().StringVar(&opts.Tx, "tx", "", "show the changes of one transaction")

	return cmd
}

func runJournal(opts *JournalOptions, path string, cmd *cobra.Command) error {
	// Opening creates a missing file, so check first.
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	j, err := journal.Open(path, journal.WithLogger(opts.logger(cfg)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	w := cmd.OutOrStdout()

	if opts.Tx != "" {
		changes, err := j.Changes(ctx, opts.Tx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read changes", err)
		}
		if opts.Format == "json" {
			return out.Success(JournalResult{Changes: changes})
		}
		if len(changes) == 0 {
			fmt.Fprintf(w, "No changes recorded for %s\n", opts.Tx)
			return nil
		}
		for _, c := range changes {
			fmt.Fprintf(w, "%6d  %-6s  %s.%s  rowid=%d\n", c.Seq, c.Op, c.Database, c.Table, c.RowID)
		}
		return nil
	}

	txs, err := j.Transactions(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read transactions", err)
	}
	if opts.Format == "json" {
		return out.Success(JournalResult{Transactions: txs})
	}
	if len(txs) == 0 {
		fmt.Fprintln(w, "No transactions recorded.")
		return nil
	}
	for _, tx := range txs {
		at := time.UnixMilli(tx.RecordedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%6d  %-11s  %3d changes  %s  %s\n", tx.Seq, tx.Outcome, tx.Changes, at, tx.Token)
	}
	return nil
}
