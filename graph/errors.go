// Package graph provides the resumable, human-in-the-loop workflow engine.
package graph

import (
	"errors"

	"github.com/aikogroup/aiko-gpt-sub001/graph/store"
)

// ErrConfiguration indicates a malformed graph: dangling edge target, missing
// entry point, incomplete router label map. It is returned by Validate and New
// before any run starts, and by the executor if a router returns a label it
// did not declare.
var ErrConfiguration = errors.New("invalid graph configuration")

// ErrNotPaused is returned by Resume when the thread has no pending nodes.
var ErrNotPaused = errors.New("thread is not paused")

// ErrNotRunning is returned by Recover when the thread is paused, done or
// failed rather than interrupted mid-run.
var ErrNotRunning = errors.New("thread is not running")

// ErrRunFailed is returned by Resume when the thread was aborted by an
// unrecoverable error. The persisted failure is reported, never retried.
var ErrRunFailed = errors.New("run failed")

// ErrInvalidPayload is returned by Resume when the decision payload writes a
// field that is not registered as Transient.
var ErrInvalidPayload = errors.New("invalid decision payload")

// ErrThreadExists is returned by StartThread when the thread ID is taken.
var ErrThreadExists = errors.New("thread already exists")

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum
// allowed step count without pausing or completing. This prevents infinite
// loops between a generation node and its gate.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrConcurrencyViolation indicates two writers raced on the same thread.
// It aliases the store-level conflict so errors.Is works across layers.
var ErrConcurrencyViolation = store.ErrRevisionConflict

// ErrThreadNotFound indicates no checkpoint exists for the thread.
var ErrThreadNotFound = store.ErrNotFound

// Error codes carried by EngineError and persisted in store.Failure.
const (
	CodeConfiguration       = "CONFIGURATION"
	CodeNodeFailed          = "NODE_FAILED"
	CodeNodePanic           = "NODE_PANIC"
	CodeNodeTimeout         = "NODE_TIMEOUT"
	CodeMergeFailed         = "MERGE_FAILED"
	CodeUnknownRoute        = "UNKNOWN_ROUTE"
	CodeMaxSteps            = "MAX_STEPS_EXCEEDED"
	CodeStore               = "STORE_ERROR"
	CodeConcurrency         = "CONCURRENCY_VIOLATION"
	CodeNotPaused           = "NOT_PAUSED"
	CodeNotRunning          = "NOT_RUNNING"
	CodeRunFailed           = "RUN_FAILED"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeThreadNotFound      = "THREAD_NOT_FOUND"
	CodeThreadExists        = "THREAD_EXISTS"
	CodeRecoverable         = "RECOVERABLE"
	CodeMissingRequiredData = "MISSING_REQUIRED_FIELD"
)

// EngineError represents an error returned by the engine itself.
//
// Code is machine-readable; Err is the sentinel (or underlying cause) so
// callers can use errors.Is:
//
//	snap, err := engine.Resume(ctx, threadID, payload)
//	if errors.Is(err, graph.ErrRunFailed) {
//	    // report the persisted failure
//	}
type EngineError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// Err is the wrapped sentinel or cause.
	Err error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func engineError(code string, err error, message string) *EngineError {
	return &EngineError{Message: message, Code: code, Err: err}
}
