// Package store provides persistence implementations for workflow checkpoints.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for a thread.
var ErrNotFound = errors.New("not found")

// ErrRevisionConflict is returned by Put when the checkpoint's revision is not
// exactly one past the stored revision. It signals two writers racing on the
// same thread; the later writer must not overwrite the earlier one.
var ErrRevisionConflict = errors.New("checkpoint revision conflict")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// Status is the executor state recorded in a checkpoint.
type Status string

const (
	// StatusRunning means the executor is (or was, before a crash) walking the graph.
	StatusRunning Status = "running"

	// StatusPaused means the run stopped before an interrupt node and awaits resume.
	StatusPaused Status = "paused"

	// StatusDone means the run reached the terminal marker.
	StatusDone Status = "done"

	// StatusFailed means an unrecoverable error aborted the run.
	StatusFailed Status = "failed"
)

// Failure captures the unrecoverable error that aborted a run.
type Failure struct {
	Node    string `json:"node,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Checkpoint is the durable snapshot of one thread, written after every node.
//
// The latest revision for a thread is authoritative. PendingNodes is non-empty
// exactly when Status is StatusPaused.
type Checkpoint struct {
	// ThreadID identifies the run. Immutable once created.
	ThreadID string `json:"thread_id"`

	// Revision increases by one on every write.
	Revision int64 `json:"revision"`

	// Status is the executor state at the time of the write.
	Status Status `json:"status"`

	// Values is the full working memory, one JSON document per field.
	Values map[string]json.RawMessage `json:"values"`

	// PendingNodes lists the nodes the executor stopped before, in order.
	PendingNodes []string `json:"pending_nodes"`

	// Frontier is the superstep in progress while Status is StatusRunning.
	Frontier []string `json:"frontier,omitempty"`

	// Completed lists the Frontier nodes whose updates are already folded.
	Completed []string `json:"completed,omitempty"`

	// Arrivals records which predecessors of a barrier node have completed.
	Arrivals map[string][]string `json:"arrivals,omitempty"`

	// Config is the immutable run configuration the thread was started with.
	Config map[string]string `json:"config,omitempty"`

	// Failure is set when Status is StatusFailed.
	Failure *Failure `json:"failure,omitempty"`

	// Step counts supersteps executed across the lifetime of the thread.
	Step int `json:"step"`

	// UpdatedAt is the wall-clock time of the write.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c Checkpoint) Clone() Checkpoint {
	out := c
	if c.Values != nil {
		out.Values = make(map[string]json.RawMessage, len(c.Values))
		for k, v := range c.Values {
			out.Values[k] = append(json.RawMessage(nil), v...)
		}
	}
	if c.PendingNodes != nil {
		out.PendingNodes = append([]string(nil), c.PendingNodes...)
	}
	if c.Frontier != nil {
		out.Frontier = append([]string(nil), c.Frontier...)
	}
	if c.Completed != nil {
		out.Completed = append([]string(nil), c.Completed...)
	}
	if c.Arrivals != nil {
		out.Arrivals = make(map[string][]string, len(c.Arrivals))
		for k, v := range c.Arrivals {
			out.Arrivals[k] = append([]string(nil), v...)
		}
	}
	if c.Config != nil {
		out.Config = make(map[string]string, len(c.Config))
		for k, v := range c.Config {
			out.Config[k] = v
		}
	}
	if c.Failure != nil {
		f := *c.Failure
		out.Failure = &f
	}
	return out
}

// Store persists checkpoints keyed by thread ID.
//
// Implementations must be durable across process restarts (except MemStore,
// which exists for tests) and must enforce revision ordering on Put:
//
//   - a new thread is accepted only at revision 1
//   - an existing thread is accepted only at stored revision + 1
//
// Anything else returns ErrRevisionConflict. The engine relies on this to
// detect concurrent writers; it never retries a conflicting write.
type Store interface {
	// Get returns the latest checkpoint for threadID, or ErrNotFound.
	Get(ctx context.Context, threadID string) (Checkpoint, error)

	// Put writes cp as the latest checkpoint for cp.ThreadID.
	Put(ctx context.Context, cp Checkpoint) error

	// Delete removes every trace of threadID. Deleting an unknown thread is not an error.
	Delete(ctx context.Context, threadID string) error

	// List returns known thread IDs, most recently updated first.
	List(ctx context.Context) ([]string, error)
}

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker serializes writers for a key across processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// checkRevision validates the revision ordering contract shared by all backends.
// stored is the current revision, or 0 when the thread does not exist.
func checkRevision(threadID string, stored, next int64) error {
	if next != stored+1 {
		return fmt.Errorf("%w: thread %s at revision %d, write carries %d",
			ErrRevisionConflict, threadID, stored, next)
	}
	return nil
}

func validateCheckpoint(cp Checkpoint) error {
	if cp.ThreadID == "" {
		return errors.New("checkpoint thread ID cannot be empty")
	}
	if cp.Revision < 1 {
		return fmt.Errorf("checkpoint revision must be positive, got %d", cp.Revision)
	}
	return nil
}

func encodeCheckpoint(cp Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

func decodeCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}
