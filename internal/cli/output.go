package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes follow the duplicate-check contract: 0 means the command's
// question was answered favorably, 1 is a domain verdict, 2 is an
// operational problem.
const (
	ExitSuccess      = 0 // ran and the answer was favorable
	ExitFailure      = 1 // domain verdict: duplicate found, run failed, config invalid
	ExitCommandError = 2 // bad input, missing config directory or database
)

// Error codes attached to structured error output so scripted callers can
// branch without parsing messages.
const (
	ErrCodeConfig    = "E001" // config missing or invalid
	ErrCodeDuplicate = "E101" // near-duplicate content detected
	ErrCodeRunFailed = "E102" // pipeline run did not succeed
)

// ExitError couples an error with the process exit code it should produce.
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

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, defaulting to
// ExitFailure for plain errors.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as human-readable text or as one
// CLIResponse JSON document.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; keeps JSON on Writer parseable
	Verbose   bool
}

// CLIResponse is the JSON envelope every command emits in json format.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error half of a CLIResponse.
type CLIError struct {
	Code    string      `json:"code"` // ErrCodeConfig, ErrCodeDuplicate, ...
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Success renders a result payload.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error renders a domain failure: a duplicate verdict, a failed run, an
// invalid config. Operational errors skip the formatter and surface as
// ExitError through cobra instead.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose mode is on, preferring
// ErrWriter so json output on Writer stays clean.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
