package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlbridge/internal/stress"
)

// StressOptions holds flags for the stress command.
type StressOptions struct {
	*RootOptions
	Connections  int
	Workers      int
	Transactions int
	Rows         int
	VetoEvery    int
	Dir          string
}

// StressResult is the JSON payload of stress.
type StressResult struct {
	Report  *stress.Report     `json:"report"`
	Metrics map[string]float64 `json:"metrics"`
}

// NewStressCommand creates the stress command.
func NewStressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StressOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Drive many connections concurrently",
		Long: `Open many connections at once, run write transactions on each from a
worker pool, and check that every hook event reached the listener of the
connection that produced it. Prints the run report and the dispatch
counters.

Examples:
  sqlbridge stress
  sqlbridge stress --connections 64 --workers 8 --transactions 200
  sqlbridge stress --veto-every 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Connections, "connections", "c", 8, "number of connections")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker pool size (0 for one per connection)")
	cmd.Flags().IntVarP(&opts.Transactions, "transactions", "t", 50, "transactions per connection")
	cmd.Flags().IntVar(&opts.Rows, "rows", 3, "inserts per transaction")
	cmd.Flags().IntVar(&opts.VetoEvery, "veto-every", 0, "veto every nth commit (0 disables)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "put databases in this directory instead of memory")

	return cmd
}

func runStress(opts *StressOptions, cmd *cobra.Command) error {
	if opts.Connections < 1 {
		return NewExitError(ExitCommandError, "--connections must be at least 1")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	d := stress.New(opts.engine(),
		stress.WithConnections(opts.Connections),
		stress.WithWorkers(opts.Workers),
		stress.WithTransactions(opts.Transactions),
		stress.WithRowsPerTx(opts.Rows),
		stress.WithVetoEvery(opts.VetoEvery),
		stress.WithDir(opts.Dir),
		stress.WithLogger(opts.logger(cfg)),
	)
	report, err := d.Run(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "stress run failed", err)
	}
	metrics, err := stress.Metrics()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to gather metrics", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		if err := out.Success(StressResult{Report: report, Metrics: metrics}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "connections:  %d\n", report.Connections)
		fmt.Fprintf(w, "committed:    %d\n", report.Committed)
		fmt.Fprintf(w, "vetoed:       %d\n", report.Vetoed)
		fmt.Fprintf(w, "row changes:  %d\n", report.RowChanges)
		fmt.Fprintf(w, "rollbacks:    %d\n", report.Rollbacks)
		fmt.Fprintf(w, "misrouted:    %d\n", report.Misrouted)
		fmt.Fprintf(w, "failures:     %d\n", report.Failures)
		fmt.Fprintf(w, "duration:     %s\n", report.Duration)
		fmt.Fprintln(w)
		for _, name := range stress.MetricNames(metrics) {
			fmt.Fprintf(w, "%s %g\n", name, metrics[name])
		}
	}
	if report.Misrouted > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d events reached the wrong listener", report.Misrouted))
	}
	return nil
}
