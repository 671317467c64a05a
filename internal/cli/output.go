package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"relstore/internal/event"
	"relstore/internal/storeerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // storage or database failure
	ExitCommandError = 2 // invalid input: bad JSON, unknown record, schema errors
)

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var se *storeerr.Error
	if errors.As(err, &se) {
		return ExitCommandError
	}
	var inputErr *inputError
	if errors.As(err, &inputErr) {
		return ExitCommandError
	}
	return ExitFailure
}

// inputError wraps malformed command arguments.
type inputError struct {
	what string
	err  error
}

func (e *inputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.what, e.err)
}

func (e *inputError) Unwrap() error { return e.err }

// CLIResponse is the JSON response format for --format json.
type CLIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Events []eventView `json:"events,omitempty"`
}

type eventView struct {
	ID        string       `json:"id"`
	Type      event.Type   `json:"type"`
	Record    string       `json:"record"`
	Data      event.Record `json:"data,omitempty"`
	OldRecord event.Record `json:"oldRecord,omitempty"`
}

// OutputFormatter writes command results in the configured format.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Result writes data and the events that produced it.
func (f *OutputFormatter) Result(data interface{}, events []event.MutationEvent) error {
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{ID: e.ID, Type: e.Type, Record: e.RecordName, Data: e.Record, OldRecord: e.OldRecord})
	}

	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
			Events: views,
		})
	}

	if data != nil {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(data); err != nil {
			return err
		}
	}
	for _, v := range views {
		if _, err := fmt.Fprintf(f.Writer, "%s %s %v\n", v.Type, v.Record, v.Data["id"]); err != nil {
			return err
		}
	}
	return nil
}

// decodeJSON decodes an optional JSON argument. Empty input leaves out
// untouched.
func decodeJSON(what, raw string, out any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &inputError{what: what, err: err}
	}
	return nil
}
