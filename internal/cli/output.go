package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/sqlbridge/internal/bridge"
	"github.com/roach88/sqlbridge/internal/sqlerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // SQL error, failed scenario, or vetoed commit
	ExitCommandError = 2 // Command error (bad flags, missing files, unreadable config)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError carries an engine error in JSON output.
type CLIError struct {
	Failure string `json:"failure,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs err in the configured format. Engine errors keep their
// code and message.
func (f *OutputFormatter) Error(err error) error {
	ce := &CLIError{Message: err.Error()}
	var se *sqlerr.Error
	if errors.As(err, &se) {
		ce.Failure = string(se.Failure)
		ce.Kind = string(se.Kind)
		ce.Code = int(se.Code)
		ce.Message = se.Message
	}
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: ce})
	}
	fmt.Fprintf(f.Writer, "Error: %v\n", err)
	return nil
}

// QueryResult is the output of one statement that returned rows.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewQueryResult converts bridge values for output.
func NewQueryResult(columns []string, rows [][]bridge.Value) QueryResult {
	out := QueryResult{Columns: columns, Rows: make([][]any, len(rows))}
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v.Any()
		}
		out.Rows[i] = cells
	}
	return out
}

// Rows prints a query result: a JSON response, or a pipe-separated table
// with a header line.
func (f *OutputFormatter) Rows(r QueryResult) error {
	if f.Format == "json" {
		return f.Success(r)
	}
	if len(r.Columns) == 0 {
		return nil
	}
	fmt.Fprintln(f.Writer, strings.Join(r.Columns, "|"))
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = formatCell(c)
		}
		fmt.Fprintln(f.Writer, strings.Join(cells, "|"))
	}
	return nil
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("x'%X'", t)
	}
	return fmt.Sprint(v)
}
