package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const (
	promptPrimary      = "sqlbridge> "
	promptContinuation = "      ...> "
)

// ShellOptions holds flags for the shell command.
type ShellOptions struct {
	*RootOptions
	Watch   bool
	Journal string
	History string
}

// NewShellCommand creates the shell command.
func NewShellCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShellOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shell [db]",
		Short: "Interactive SQL shell",
		Long: `Start an interactive SQL shell on a database.

Statements end with a semicolon and may span several lines. Lines
starting with a dot are shell commands:

  .tables   list tables
  .help     show this help
  .quit     leave the shell (also .exit or Ctrl-D)

Examples:
  sqlbridge shell app.db
  sqlbridge shell app.db --watch`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db := ""
			if len(args) > 0 {
				db = args[0]
			}
			return runShell(opts, db, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "print hook events to stderr")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record transactions in this journal database")
	cmd.Flags().StringVar(&opts.History, "history", defaultHistoryPath(), "history file")

	return cmd
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sqlbridge_history")
}

func runShell(opts *ShellOptions, db string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.logger(cfg)

	s, err := openSession(cmd.Context(), opts.RootOptions, cfg, db, sessionOptions{Watch: opts.Watch, Journal: opts.Journal}, cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			logger.Error("error closing database", "error", cerr)
		}
	}()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(true)

	if opts.History != "" {
		if f, err := os.Open(opts.History); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(opts.History); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	r := &repl{session: s, out: &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}}
	for {
		text, err := line.Prompt(r.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			r.buf.Reset()
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read input", err)
		}
		if strings.TrimSpace(text) != "" {
			line.AppendHistory(text)
		}
		if r.handle(text) {
			return nil
		}
	}
}

// repl buffers input lines into statements and runs them.
type repl struct {
	session *session
	out     *OutputFormatter
	buf     strings.Builder
}

func (r *repl) prompt() string {
	if r.buf.Len() > 0 {
		return promptContinuation
	}
	return promptPrimary
}

// handle processes one input line and reports whether the shell should
// exit. Errors are printed and do not end the shell.
func (r *repl) handle(line string) bool {
	trimmed := strings.TrimSpace(line)
	if r.buf.Len() == 0 && strings.HasPrefix(trimmed, ".") {
		return r.command(trimmed)
	}
	if trimmed == "" {
		return false
	}

	r.buf.WriteString(line)
	r.buf.WriteByte('\n')
	if !strings.HasSuffix(trimmed, ";") {
		return false
	}

	script := r.buf.String()
	r.buf.Reset()
	results, err := r.session.run(script)
	for _, res := range results {
		_ = r.out.Rows(res)
	}
	if err != nil {
		_ = r.out.Error(err)
	}
	return false
}

func (r *repl) command(cmd string) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ".quit", ".exit":
		return true
	case ".tables":
		_, rows, err := r.session.conn.Query("SELECT name FROM sqlite_schema WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
		if err != nil {
			_ = r.out.Error(err)
			return false
		}
		names := make([]string, len(rows))
		for i, row := range rows {
			names[i] = row[0].Text()
		}
		if r.out.Format == "json" {
			_ = r.out.Success(names)
		} else if len(names) > 0 {
			fmt.Fprintln(r.out.Writer, strings.Join(names, "  "))
		}
	case ".help":
		fmt.Fprintln(r.out.Writer, ".tables   list tables")
		fmt.Fprintln(r.out.Writer, ".help     show this help")
		fmt.Fprintln(r.out.Writer, ".quit     leave the shell")
	default:
		fmt.Fprintf(r.out.Writer, "Error: unknown command %s (try .help)\n", fields[0])
	}
	return false
}
