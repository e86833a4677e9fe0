package cli

import (
	"fmt"
	"os"
	"unicode/utf16"

	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	File     string
	Encoding string // "utf8" | "utf16"
	Watch    bool
	Journal  string
}

// ExecResult is the JSON payload of exec.
type ExecResult struct {
	Results      []QueryResult `json:"results"`
	Changes      int64         `json:"changes"`
	LastInsertID int64         `json:"last_insert_rowid"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec [db] [sql]",
		Short: "Run SQL against a database",
		Long: `Run one or more SQL statements against a database and print the rows
they return.

The database defaults to the configured one. The SQL is taken from the
second argument or from --file. UTF-16 files (with or without a BOM) are
prepared as UTF-16 without re-encoding.

With --watch, hook events and the tables each statement changed are
printed to stderr. With --journal, committed and rolled back transactions
are recorded in a journal database.

Examples:
  sqlbridge exec app.db "SELECT * FROM users"
  sqlbridge exec app.db --file migrate.sql --watch
  sqlbridge exec app.db --file script16.sql --encoding utf16
  sqlbridge exec app.db "UPDATE users SET active = 0" --journal changes.db`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read SQL from file")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", "utf8", "encoding of --file (utf8|utf16)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "print hook events to stderr")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record transactions in this journal database")

	return cmd
}

func runExec(opts *ExecOptions, args []string, cmd *cobra.Command) error {
	var db, sql string
	if len(args) > 0 {
		db = args[0]
	}
	if len(args) > 1 {
		sql = args[1]
	}
	if opts.Encoding != "utf8" && opts.Encoding != "utf16" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid encoding %q: must be utf8 or utf16", opts.Encoding))
	}
	if (sql == "") == (opts.File == "") {
		return NewExitError(ExitCommandError, "give SQL either as an argument or with --file")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cfg)

	var script16 []uint16
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read SQL file", err)
		}
		if opts.Encoding == "utf16" {
			if script16, err = decodeUTF16(data); err != nil {
				return WrapExitError(ExitCommandError, "failed to decode UTF-16 file", err)
			}
		} else {
			sql = string(data)
		}
	}

	s, err := openSession(cmd.Context(), opts.RootOptions, cfg, db, sessionOptions{Watch: opts.Watch, Journal: opts.Journal}, cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}

	var results []QueryResult
	if script16 != nil {
		results, err = s.run16(script16)
	} else {
		results, err = s.run(sql)
	}
	summary := ExecResult{Results: results, Changes: s.conn.Changes(), LastInsertID: s.conn.LastInsertRowID()}
	if results == nil {
		summary.Results = []QueryResult{}
	}
	if cerr := s.close(); err == nil && cerr != nil {
		err = cerr
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err != nil {
		_ = out.Error(err)
		return WrapExitError(ExitFailure, "statement failed", err)
	}
	if opts.Format == "json" {
		return out.Success(summary)
	}
	for _, r := range results {
		if err := out.Rows(r); err != nil {
			return err
		}
	}
	return nil
}

// decodeUTF16 honors a BOM and assumes little endian without one.
func decodeUTF16(data []byte) ([]uint16, error) {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	text, _, err := transform.Bytes(dec, data)
	if err != nil {
		return nil, err
	}
	return utf16.Encode([]rune(string(text))), nil
}
