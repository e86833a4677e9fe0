package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/config"
	"github.com/roach88/sqlbridge/internal/native"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Engine overrides the native engine (for testing).
	Engine native.Engine
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sqlbridge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sqlbridge",
		Short: "SQLite with change hooks",
		Long:  "Run SQL against SQLite databases and watch row-change, commit, and rollback hooks as they fire.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewShellCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewStressCommand(opts))

	return cmd
}

// loadConfig reads --config, or returns defaults when it is unset.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// logger logs to stderr at the configured level. --verbose forces debug.
func (o *RootOptions) logger(cfg *config.Config) *slog.Logger {
	level := cfg.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) engine() native.Engine {
	if o.Engine != nil {
		return o.Engine
	}
	return native.NewLib()
}

// openConn opens db (or the config's database when db is empty) with the
// configured bridge options.
func (o *RootOptions) openConn(cfg *config.Config, db string, logger *slog.Logger) (*bridge.Conn, error) {
	if db == "" {
		db = cfg.Database
	}
	if db == "" {
		return nil, NewExitError(ExitCommandError, "no database given and none configured")
	}
	bopts, err := cfg.BridgeOptions(logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	conn, err := bridge.New(o.engine(), bopts...).Open(db, cfg.OpenFlags())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return conn, nil
}
