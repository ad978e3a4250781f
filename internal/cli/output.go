package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The vault refused the operation (fault code printed)
	ExitCommandError = 2 // Command error (bad flags, ledger unavailable, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written to the output.
	Reported bool
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.  Errors that are not
// an ExitError come from cobra itself (bad flags or arguments).
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.  Code is the vault's
// numeric fault code, or 0 for command errors.
type CLIError struct {
	Code    uint32 `json:"code,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Success outputs data as JSON, or text verbatim in text mode.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := io.WriteString(f.Writer, text)
	return err
}

// Fault outputs a domain error.
func (f *OutputFormatter) Fault(fe *fault.Error) error {
	return f.Error(CLIError{Code: uint32(fe.Code), Kind: fe.Kind, Message: fe.Message})
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(e CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: &e})
	}
	if e.Code != 0 {
		_, err := fmt.Fprintf(f.Writer, "Error [%d %s]: %s\n", e.Code, e.Kind, e.Message)
		return err
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Kind, e.Message)
	return err
}
