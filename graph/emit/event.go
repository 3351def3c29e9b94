package emit

// Event messages emitted by the engine.
const (
	MsgRunStart     = "run_start"
	MsgResume       = "resume"
	MsgNodeStart    = "node_start"
	MsgNodeEnd      = "node_end"
	MsgNodeError    = "node_error"
	MsgCheckpoint   = "checkpoint"
	MsgInterrupt    = "interrupt"
	MsgRunComplete  = "run_complete"
	MsgRunFailed    = "run_failed"
	MsgLockConflict = "lock_conflict"
)

// Event represents an observability event emitted during thread execution.
//
// Events are emitted to an Emitter which can:
//   - Log through zap or a plain writer
//   - Send spans to OpenTelemetry
//   - Keep history in memory for tests and inspection
type Event struct {
	// ThreadID identifies the workflow thread that emitted this event.
	ThreadID string

	// Graph is the name of the graph definition the thread runs.
	Graph string

	// Step is the superstep counter of the thread. Zero for thread-level
	// events emitted before any node ran.
	Step int

	// NodeID identifies which node emitted this event.
	// Empty string for thread-level events.
	NodeID string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": node execution duration in milliseconds
	//   - "error": error details
	//   - "code": machine-readable error code
	//   - "revision": checkpoint revision
	//   - "pending": nodes a paused thread waits before
	//   - "recoverable": count of recoverable errors recorded by a node
	Meta map[string]interface{}
}
