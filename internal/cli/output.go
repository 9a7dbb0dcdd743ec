package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Adriangar333/Traceops-sub000/internal/app"
	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // remote unreachable, capture rejected, scenarios failed
	ExitCommandError = 2 // bad flags, no remote configured, database unavailable
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain, or
// ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode names err in JSON output. Sync errors keep their own code.
func ErrorCode(err error) string {
	if code := syncerr.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, app.ErrNoRemote):
		return "NO_REMOTE"
	case errors.Is(err, app.ErrOtherIdentity):
		return "OTHER_IDENTITY"
	case GetExitCode(err) == ExitCommandError:
		return "COMMAND_ERROR"
	}
	return "FAILURE"
}

// Response is the JSON envelope written for every command.
type Response struct {
	Status string         `json:"status"` // ok | error
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

// Success writes data. In text mode data is printed with fmt, so a
// fmt.Stringer renders itself.
func (f *OutputFormatter) Success(data any) error {
	if f.json() {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Report writes an error with code. Text mode shows details only when
// verbose.
func (f *OutputFormatter) Report(code, message string, details any) error {
	if f.json() {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}

// Fail reports err and returns it, so RunE keeps its exit code.
func (f *OutputFormatter) Fail(err error, details any) error {
	if werr := f.Report(ErrorCode(err), err.Error(), details); werr != nil {
		return werr
	}
	return err
}

// VerboseLog writes a diagnostic line when verbose. It goes to ErrWriter so
// JSON on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
