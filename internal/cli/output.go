package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/durable-go/durable/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Pass completed
	ExitFailure      = 1 // Step failure, store failure or other error
	ExitCommandError = 2 // Bad flags or configuration
	ExitInterrupted  = 3 // Pass interrupted; resume later
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
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// passReport is what run and resume print.
type passReport struct {
	ExecutionID string `json:"execution_id"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
	Result      any    `json:"result,omitempty"`
}

func writeReport(w io.Writer, format string, r passReport) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(r)
	}

	fmt.Fprintf(w, "execution %s: %s\n", r.ExecutionID, r.Outcome)
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}
	if r.Result != nil {
		data, err := json.MarshalIndent(r.Result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", data)
	}
	return nil
}

// recordView is the JSON shape of one step record.
type recordView struct {
	Sequence    int             `json:"sequence"`
	Label       string          `json:"label"`
	Status      store.Status    `json:"status"`
	Attempt     int             `json:"attempt"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Codec       string          `json:"codec,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ResultBytes int             `json:"result_bytes,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func viewOf(rec store.Record) recordView {
	v := recordView{
		Sequence:  rec.Key.Sequence,
		Label:     rec.Key.Label,
		Status:    rec.Status,
		Attempt:   rec.Attempt,
		UpdatedAt: rec.UpdatedAt,
		Error:     rec.Error,
	}
	if rec.Result != nil {
		v.Codec = rec.Result.Codec
		if rec.Result.Codec == "json" && json.Valid(rec.Result.Data) {
			v.Result = json.RawMessage(rec.Result.Data)
		} else {
			v.ResultBytes = len(rec.Result.Data)
		}
	}
	return v
}

const maxDetail = 60

func writeRecords(w io.Writer, format, executionID string, records []store.Record) error {
	if format == "json" {
		views := make([]recordView, 0, len(records))
		for _, rec := range records {
			views = append(views, viewOf(rec))
		}
		return json.NewEncoder(w).Encode(struct {
			ExecutionID string       `json:"execution_id"`
			Records     []recordView `json:"records"`
		}{executionID, views})
	}

	fmt.Fprintf(w, "execution %s: %d steps\n", executionID, len(records))
	if len(records) == 0 {
		return nil
	}
	fmt.Fprintln(w, row("SEQ", "LABEL", "STATUS", "ATTEMPT", "DETAIL"))
	for _, rec := range records {
		fmt.Fprintln(w, row(fmt.Sprint(rec.Key.Sequence), rec.Key.Label, string(rec.Status), fmt.Sprint(rec.Attempt), detail(rec)))
	}
	return nil
}

func row(seq, label, status, attempt, detail string) string {
	line := fmt.Sprintf("%-4s %-18s %-10s %-8s %s", seq, label, status, attempt, detail)
	return strings.TrimRight(line, " ")
}

// detail summarizes a record's outcome for the text table.
func detail(rec store.Record) string {
	var s string
	switch {
	case rec.Error != "":
		s = rec.Error
	case rec.Result == nil:
		return ""
	case rec.Result.Codec == "json":
		s = string(rec.Result.Data)
	default:
		s = fmt.Sprintf("<%s %d bytes>", rec.Result.Codec, len(rec.Result.Data))
	}
	if len(s) > maxDetail {
		s = s[:maxDetail-3] + "..."
	}
	return s
}
