package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

type ErrorKind string

const (
	KindGeometry  ErrorKind = "geometry"
	KindRuntime   ErrorKind = "runtime"
	KindTimeout   ErrorKind = "timeout"
	KindCancelled ErrorKind = "cancelled"
	KindRejected  ErrorKind = "rejected"
	KindCrashed   ErrorKind = "crashed"
	KindProtocol  ErrorKind = "protocol"
)

type ExecutionError struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	Operation    string    `json:"operation,omitempty"`
	FeatureIndex *int      `json:"featureIndex,omitempty"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

type LogLevel string

const (
	LevelLog   LogLevel = "log"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

type LogEntry struct {
	Level LogLevel          `json:"level"`
	Args  []json.RawMessage `json:"args"`
}

// ExecutionResult holds either Output (success) or Error (failure), never both.
type ExecutionResult struct {
	Status        Status
	Output        json.RawMessage
	Error         *ExecutionError
	Logs          []LogEntry
	LogsTruncated bool
	Duration      time.Duration
}

func Success(output json.RawMessage, logs []LogEntry, d time.Duration) ExecutionResult {
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	return ExecutionResult{Status: StatusSuccess, Output: output, Logs: nonNilLogs(logs), Duration: d}
}

func Failure(err *ExecutionError, logs []LogEntry, d time.Duration) ExecutionResult {
	if err == nil {
		err = &ExecutionError{Kind: KindRuntime, Message: "unknown error"}
	}
	return ExecutionResult{Status: StatusFailure, Error: err, Logs: nonNilLogs(logs), Duration: d}
}

// Failed is shorthand for a failure with no logs.
func Failed(kind ErrorKind, msg string, d time.Duration) ExecutionResult {
	return Failure(&ExecutionError{Kind: kind, Message: msg}, nil, d)
}

func nonNilLogs(l []LogEntry) []LogEntry {
	if l == nil {
		return []LogEntry{}
	}
	return l
}

func (r ExecutionResult) OK() bool { return r.Status == StatusSuccess }

// Kind returns the failure kind, or "" on success.
func (r ExecutionResult) Kind() ErrorKind {
	if r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

// Validate checks the exactly-one-of invariant.
func (r ExecutionResult) Validate() error {
	switch r.Status {
	case StatusSuccess:
		if r.Error != nil || len(r.Output) == 0 {
			return fmt.Errorf("success result must carry output and no error")
		}
	case StatusFailure:
		if r.Error == nil || len(r.Output) != 0 {
			return fmt.Errorf("failure result must carry an error and no output")
		}
	default:
		return fmt.Errorf("unknown result status %q", r.Status)
	}
	return nil
}

type resultDoc struct {
	Status        Status          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         *ExecutionError `json:"error,omitempty"`
	Logs          []LogEntry      `json:"logs"`
	LogsTruncated bool            `json:"logsTruncated,omitempty"`
	DurationMS    float64         `json:"durationMs"`
}

func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultDoc{
		Status:        r.Status,
		Output:        r.Output,
		Error:         r.Error,
		Logs:          nonNilLogs(r.Logs),
		LogsTruncated: r.LogsTruncated,
		DurationMS:    float64(r.Duration) / float64(time.Millisecond),
	})
}

func (r *ExecutionResult) UnmarshalJSON(b []byte) error {
	var doc resultDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse execution result: %w", err)
	}
	*r = ExecutionResult{
		Status:        doc.Status,
		Output:        doc.Output,
		Error:         doc.Error,
		Logs:          nonNilLogs(doc.Logs),
		LogsTruncated: doc.LogsTruncated,
		Duration:      time.Duration(doc.DurationMS * float64(time.Millisecond)),
	}
	if r.Status == StatusSuccess && len(r.Output) == 0 {
		r.Output = json.RawMessage("null")
	}
	return nil
}
