package graph

import (
	"context"
	"strconv"
	"time"
)

// Node represents a processing unit in the workflow graph.
//
// A node receives the current state and the immutable run configuration and
// returns a partial update. Nodes must not fail for recoverable conditions
// (missing optional inputs, external-service errors): they record the problem
// with Update.RecordError and return a fallback value for their output field.
// Only unrecoverable conditions, such as a missing required identity field,
// should be returned in NodeResult.Err; those abort the run.
//
// Nodes may call external services. Those calls must tolerate being retried,
// because a crash between the call and the checkpoint write re-runs the node.
type Node interface {
	// Run executes the node's logic.
	Run(ctx context.Context, state State, cfg Config) NodeResult
}

// NodeResult is the outcome of a node execution.
type NodeResult struct {
	// Delta is the partial state update, folded via the reducer registry.
	Delta Update

	// Err aborts the run. The executor persists the failure and stops.
	Err error
}

// NodeFunc is a function adapter for Node.
//
// Example:
//
//	normalize := graph.NodeFunc(func(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
//	    var u graph.Update
//	    u.Set("stage", "need_analysis")
//	    return graph.NodeResult{Delta: u}
//	})
type NodeFunc func(ctx context.Context, state State, cfg Config) NodeResult

// Run implements Node.
func (f NodeFunc) Run(ctx context.Context, state State, cfg Config) NodeResult {
	return f(ctx, state, cfg)
}

// Fail returns a NodeResult carrying an unrecoverable error.
func Fail(node, code, message string) NodeResult {
	return NodeResult{Err: &NodeError{Node: node, Code: code, Message: message}}
}

// NodeError describes an error raised by a node.
//
// Recorded with Update.RecordError it is a recoverable entry in the errors
// accumulator; returned in NodeResult.Err it is unrecoverable.
type NodeError struct {
	// Node identifies which node produced this error.
	Node string `json:"node"`

	// Code is a machine-readable error code for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error description.
	Message string `json:"message"`

	// Cause is the underlying error. It is not persisted.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.Node != "" {
		return "node " + e.Node + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Config is the immutable run configuration passed to every node.
//
// The engine does not interpret it. It is persisted with the thread so that
// a resumed run sees exactly the configuration it was started with.
type Config map[string]string

// String returns the value for key, or def if unset.
func (c Config) String(key, def string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key, or def if unset or malformed.
func (c Config) Int(key string, def int) int {
	if v, ok := c[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean value for key, or def if unset or malformed.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration returns the duration value for key, or def if unset or malformed.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	if v, ok := c[key]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (c Config) clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
