package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aikogroup/aiko-gpt-sub001/graph/emit"
	"github.com/aikogroup/aiko-gpt-sub001/graph/store"
)

// Engine executes threads of one Graph, checkpointing after every node.
//
// The executor is a small state machine per thread:
//
//	RUNNING(frontier) -> PAUSED(pending) -> RUNNING ... -> DONE
//	                  \-> FAILED
//
// Each superstep runs every node of the frontier against the same state
// snapshot, folds their updates in completion order through the graph's
// reducers and writes a new checkpoint revision after every fold. Before a
// superstep starts, the interrupt guard pauses the thread if any frontier
// node is interrupt-before and no decision payload is present.
//
// Calls for one thread are serialized in-process; WithLocker extends that
// across processes. A second writer that still races through is detected by
// the store's revision check and reported as ErrConcurrencyViolation.
//
// Example:
//
//	engine, err := graph.New(g, store.NewMemStore(), emit.NewNullEmitter())
//	snap, err := engine.Start(ctx, graph.Update{}, graph.Config{"company_name": "Acme"})
//	// snap.PendingNodes == []string{"human_validation"}
//
//	var payload graph.Update
//	payload.Set("validation_result", decision)
//	snap, err = engine.Resume(ctx, snap.ThreadID, payload)
type Engine struct {
	graph   *Graph
	store   store.Store
	emitter emit.Emitter
	opts    Options
	locks   *threadLocks
}

// New validates g and builds an Engine over st. A nil emitter discards events.
func New(g *Graph, st store.Store, emitter emit.Emitter, options ...Option) (*Engine, error) {
	if g == nil {
		return nil, engineError(CodeConfiguration, ErrConfiguration, "graph is required")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, engineError(CodeConfiguration, ErrConfiguration, "store is required")
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	cfg := engineConfig{opts: defaultOptions()}
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{
		graph:   g,
		store:   st,
		emitter: emitter,
		opts:    cfg.opts,
		locks:   newThreadLocks(),
	}, nil
}

// Graph returns the graph definition the engine runs.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Snapshot is the caller-facing view of a thread after Start, Resume,
// Recover or Inspect.
type Snapshot struct {
	ThreadID     string         `json:"thread_id"`
	Graph        string         `json:"graph"`
	Revision     int64          `json:"revision"`
	Status       store.Status   `json:"status"`
	PendingNodes []string       `json:"pending_nodes"`
	Values       State          `json:"values"`
	Config       Config         `json:"config,omitempty"`
	Failure      *store.Failure `json:"failure,omitempty"`
	Step         int            `json:"step"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Paused reports whether the thread awaits a Resume.
func (s Snapshot) Paused() bool { return s.Status == store.StatusPaused }

// Done reports whether the thread reached the terminal marker.
func (s Snapshot) Done() bool { return s.Status == store.StatusDone }

func (e *Engine) snapshot(cp *store.Checkpoint) Snapshot {
	pending := append([]string{}, cp.PendingNodes...)
	var failure *store.Failure
	if cp.Failure != nil {
		f := *cp.Failure
		failure = &f
	}
	return Snapshot{
		ThreadID:     cp.ThreadID,
		Graph:        e.graph.name,
		Revision:     cp.Revision,
		Status:       cp.Status,
		PendingNodes: pending,
		Values:       NewState(cp.Values),
		Config:       Config(cp.Config).clone(),
		Failure:      failure,
		Step:         cp.Step,
		UpdatedAt:    cp.UpdatedAt,
	}
}

// Start creates a thread with a generated ID and runs it until it pauses,
// completes or fails.
func (e *Engine) Start(ctx context.Context, initial Update, cfg Config) (Snapshot, error) {
	return e.StartThread(ctx, e.opts.NewThreadID(), initial, cfg)
}

// StartThread is Start with a caller-chosen thread ID. It returns
// ErrThreadExists if the ID is taken.
//
// initial is folded into an empty state through the reducers. It may not
// carry decision payload fields; those are only accepted by Resume.
func (e *Engine) StartThread(ctx context.Context, threadID string, initial Update, cfg Config) (Snapshot, error) {
	if threadID == "" {
		return Snapshot{}, engineError(CodeConfiguration, ErrConfiguration, "thread ID cannot be empty")
	}
	for _, field := range initial.Fields() {
		if e.graph.reducers.Policy(field) == Transient {
			return Snapshot{}, engineError(CodeInvalidPayload, ErrInvalidPayload,
				fmt.Sprintf("initial state sets decision field %q", field))
		}
	}

	var snap Snapshot
	err := e.withThreadLock(ctx, threadID, func(ctx context.Context) error {
		_, err := e.store.Get(ctx, threadID)
		switch {
		case err == nil:
			return engineError(CodeThreadExists, ErrThreadExists, "thread "+threadID+" already exists")
		case !errors.Is(err, store.ErrNotFound):
			return engineError(CodeStore, err, "failed to load thread "+threadID)
		}

		values, err := e.graph.reducers.Apply(nil, initial)
		if err != nil {
			return engineError(CodeInvalidPayload, fmt.Errorf("%w: %w", ErrInvalidPayload, err), "invalid initial state")
		}

		cp := &store.Checkpoint{
			ThreadID: threadID,
			Status:   store.StatusRunning,
			Values:   values,
			Frontier: []string{e.graph.entry},
			Config:   cfg.clone(),
		}
		e.emit(threadID, 0, "", emit.MsgRunStart, map[string]interface{}{"entry": e.graph.entry})

		snap, err = e.drive(ctx, cp)
		return err
	})
	return snap, err
}

// Resume injects a decision payload into a paused thread and continues from
// the nodes it paused before.
//
// Errors, checked in order: ErrThreadNotFound; ErrRunFailed when the thread
// was aborted (the persisted failure is reported, never retried);
// ErrNotPaused when nothing is pending; ErrInvalidPayload when the payload
// writes anything other than registered transient fields.
func (e *Engine) Resume(ctx context.Context, threadID string, payload Update) (Snapshot, error) {
	var snap Snapshot
	err := e.withThreadLock(ctx, threadID, func(ctx context.Context) error {
		cp, err := e.load(ctx, threadID)
		if err != nil {
			return err
		}
		snap = e.snapshot(&cp)

		switch {
		case cp.Status == store.StatusFailed:
			return failedError(&cp)
		case cp.Status != store.StatusPaused || len(cp.PendingNodes) == 0:
			return engineError(CodeNotPaused, ErrNotPaused,
				fmt.Sprintf("thread %s is %s, not paused", threadID, cp.Status))
		}

		if err := e.checkPayload(payload, cp.PendingNodes); err != nil {
			return err
		}
		values, err := e.graph.reducers.Apply(cp.Values, payload)
		if err != nil {
			return engineError(CodeInvalidPayload, fmt.Errorf("%w: %w", ErrInvalidPayload, err), "invalid decision payload")
		}

		e.opts.Metrics.IncrementResumes(e.graph.name)
		e.emit(threadID, cp.Step, "", emit.MsgResume, map[string]interface{}{
			"pending": append([]string(nil), cp.PendingNodes...),
			"fields":  payload.Fields(),
		})

		cp.Values = values
		cp.Status = store.StatusRunning
		cp.Frontier = cp.PendingNodes
		cp.Completed = nil
		cp.PendingNodes = nil

		snap, err = e.drive(ctx, &cp)
		return err
	})
	return snap, err
}

// Recover continues a thread whose process stopped mid-run, e.g. after a
// crash or a cancelled context. Nodes of the interrupted superstep that were
// not yet folded run again, so node side effects must tolerate a retry.
func (e *Engine) Recover(ctx context.Context, threadID string) (Snapshot, error) {
	var snap Snapshot
	err := e.withThreadLock(ctx, threadID, func(ctx context.Context) error {
		cp, err := e.load(ctx, threadID)
		if err != nil {
			return err
		}
		snap = e.snapshot(&cp)

		switch cp.Status {
		case store.StatusRunning:
		case store.StatusFailed:
			return failedError(&cp)
		default:
			return engineError(CodeNotRunning, ErrNotRunning,
				fmt.Sprintf("thread %s is %s, not running", threadID, cp.Status))
		}

		e.emit(threadID, cp.Step, "", emit.MsgResume, map[string]interface{}{
			"frontier":  append([]string(nil), cp.Frontier...),
			"recovered": true,
		})
		snap, err = e.drive(ctx, &cp)
		return err
	})
	return snap, err
}

// Inspect returns the latest snapshot of a thread without running anything.
func (e *Engine) Inspect(ctx context.Context, threadID string) (Snapshot, error) {
	cp, err := e.load(ctx, threadID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshot(&cp), nil
}

// List returns known thread IDs, most recently updated first.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	ids, err := e.store.List(ctx)
	if err != nil {
		return nil, engineError(CodeStore, err, "failed to list threads")
	}
	return ids, nil
}

// Delete removes a thread's checkpoint. The engine itself never deletes
// threads; this is for callers garbage-collecting finished runs.
func (e *Engine) Delete(ctx context.Context, threadID string) error {
	return e.withThreadLock(ctx, threadID, func(ctx context.Context) error {
		if err := e.store.Delete(ctx, threadID); err != nil {
			return engineError(CodeStore, err, "failed to delete thread "+threadID)
		}
		return nil
	})
}

func (e *Engine) load(ctx context.Context, threadID string) (store.Checkpoint, error) {
	cp, err := e.store.Get(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint{}, engineError(CodeThreadNotFound, ErrThreadNotFound, "thread "+threadID+" not found")
	}
	if err != nil {
		return store.Checkpoint{}, engineError(CodeStore, err, "failed to load thread "+threadID)
	}
	return cp, nil
}

// checkPayload accepts only registered transient fields, each consumed by a
// pending node, and requires a decision for every pending interrupt node so
// the thread cannot pause again holding a payload.
func (e *Engine) checkPayload(payload Update, pending []string) error {
	if err := payload.Err(); err != nil {
		return engineError(CodeInvalidPayload, fmt.Errorf("%w: %w", ErrInvalidPayload, err), "invalid decision payload")
	}
	if len(payload.clear) > 0 || len(payload.reset) > 0 || len(payload.errs) > 0 {
		return engineError(CodeInvalidPayload, ErrInvalidPayload, "decision payload may only set fields")
	}
	fields := payload.Fields()
	if len(fields) == 0 {
		return engineError(CodeInvalidPayload, ErrInvalidPayload, "decision payload is empty")
	}

	consumers := make(map[string]bool)
	unbound := false
	for _, n := range pending {
		if !e.graph.IsInterrupt(n) {
			continue
		}
		if f, ok := e.graph.DecisionField(n); ok {
			consumers[f] = true
		} else {
			unbound = true
		}
	}

	for _, field := range fields {
		if e.graph.reducers.Policy(field) != Transient {
			return engineError(CodeInvalidPayload, ErrInvalidPayload,
				fmt.Sprintf("field %q is not a decision field", field))
		}
		if !consumers[field] && !unbound {
			return engineError(CodeInvalidPayload, ErrInvalidPayload,
				fmt.Sprintf("no pending node consumes decision field %q (pending: %s)", field, strings.Join(pending, ", ")))
		}
	}
	for field := range consumers {
		if _, ok := payload.Get(field); !ok {
			return engineError(CodeInvalidPayload, ErrInvalidPayload,
				fmt.Sprintf("decision field %q is required by a pending node", field))
		}
	}
	return nil
}

// runFailure describes an unrecoverable error about to be persisted.
type runFailure struct {
	node    string
	code    string
	message string
	err     error
}

// drive runs supersteps until the thread pauses, completes or fails.
func (e *Engine) drive(ctx context.Context, cp *store.Checkpoint) (Snapshot, error) {
	steps := 0
	for {
		if len(cp.Frontier) == 0 {
			return e.finish(ctx, cp)
		}
		if err := ctx.Err(); err != nil {
			return e.snapshot(cp), err
		}

		state := NewState(cp.Values)
		fresh := len(cp.Completed) == 0
		if fresh && e.mustPause(cp.Frontier, state) {
			return e.pause(ctx, cp)
		}

		if e.opts.MaxSteps > 0 && steps >= e.opts.MaxSteps {
			return e.fail(ctx, cp, runFailure{
				code:    CodeMaxSteps,
				message: fmt.Sprintf("exceeded %d supersteps without pausing or completing", e.opts.MaxSteps),
				err:     ErrMaxStepsExceeded,
			})
		}
		steps++
		if fresh {
			cp.Step++
		}

		failure, err := e.superstep(ctx, cp, state)
		if err != nil {
			return e.snapshot(cp), err
		}
		if failure != nil {
			return e.fail(ctx, cp, *failure)
		}

		if err := e.advance(cp, NewState(cp.Values)); err != nil {
			return e.fail(ctx, cp, runFailure{
				code:    CodeUnknownRoute,
				message: err.Error(),
				err:     fmt.Errorf("%w: %w", ErrConfiguration, err),
			})
		}
	}
}

// mustPause is the interrupt guard: it holds the frontier while any
// interrupt node in it lacks its decision. A bound node needs its own field;
// an unbound one accepts any transient field.
func (e *Engine) mustPause(frontier []string, state State) bool {
	for _, n := range frontier {
		if !e.graph.IsInterrupt(n) {
			continue
		}
		if f, ok := e.graph.DecisionField(n); ok {
			if !state.Has(f) {
				return true
			}
			continue
		}
		if !e.anyTransient(state) {
			return true
		}
	}
	return false
}

func (e *Engine) anyTransient(state State) bool {
	for _, field := range e.graph.reducers.TransientFields() {
		if state.Has(field) {
			return true
		}
	}
	return false
}

// keepDecisions carries the decision fields of frontier nodes not yet folded
// into merged, so a checkpoint written between folds still holds them and a
// recovered run hands each gate its payload.
func (e *Engine) keepDecisions(merged, prev map[string]json.RawMessage, unfolded []string) {
	for _, n := range unfolded {
		f, ok := e.graph.DecisionField(n)
		if !ok {
			continue
		}
		if _, present := merged[f]; present {
			continue
		}
		if v, ok := prev[f]; ok {
			merged[f] = v
		}
	}
}

// superstep runs the unfolded frontier nodes and folds each result as it
// arrives, writing a checkpoint per fold. A node or merge failure cancels
// the remaining branches and is returned for persistence; a store error is
// returned as err and nothing further is written.
func (e *Engine) superstep(ctx context.Context, cp *store.Checkpoint, state State) (*runFailure, error) {
	done := make(map[string]bool, len(cp.Completed))
	for _, n := range cp.Completed {
		done[n] = true
	}
	var pending []string
	for _, n := range cp.Frontier {
		if !done[n] {
			pending = append(pending, n)
		}
	}

	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	folded := make(map[string]bool, len(pending))
	var failure *runFailure
	var storeErr error
	for r := range e.runSuperstep(stepCtx, cp.ThreadID, cp.Step, pending, state, Config(cp.Config)) {
		if failure != nil || storeErr != nil {
			continue
		}

		if r.result.Err != nil {
			cancel()
			failure = nodeFailure(r.node, r.result.Err)
			continue
		}

		merged, err := e.graph.reducers.Apply(cp.Values, r.result.Delta)
		if err != nil {
			cancel()
			failure = &runFailure{
				node:    r.node,
				code:    CodeMergeFailed,
				message: err.Error(),
				err:     err,
			}
			continue
		}

		folded[r.node] = true
		var unfolded []string
		for _, n := range pending {
			if !folded[n] {
				unfolded = append(unfolded, n)
			}
		}
		e.keepDecisions(merged, cp.Values, unfolded)

		prevValues, prevCompleted := cp.Values, cp.Completed
		cp.Values = merged
		cp.Completed = append(append([]string(nil), cp.Completed...), r.node)
		if err := e.checkpoint(ctx, cp); err != nil {
			cp.Values, cp.Completed = prevValues, prevCompleted
			cancel()
			storeErr = err
		}
	}

	if storeErr != nil {
		return nil, storeErr
	}
	if failure != nil && ctx.Err() != nil {
		// The caller gave up; the thread stays running and can be recovered.
		return nil, ctx.Err()
	}
	return failure, nil
}

func nodeFailure(node string, err error) *runFailure {
	f := &runFailure{node: node, code: CodeNodeFailed, message: err.Error(), err: err}
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		if nodeErr.Code != "" {
			f.code = nodeErr.Code
		}
		f.message = nodeErr.Message
	}
	return f
}

// advance computes the next frontier from the completed superstep, in
// frontier order: static targets first, then each conditional router,
// evaluated exactly once. A static target with two or more static
// predecessors is a barrier and is scheduled only when all of them have
// arrived; a conditional edge schedules its target directly.
func (e *Engine) advance(cp *store.Checkpoint, state State) error {
	var next []string
	scheduled := make(map[string]bool)
	schedule := func(n string) {
		if n != End && !scheduled[n] {
			scheduled[n] = true
			next = append(next, n)
		}
	}

	for _, n := range cp.Frontier {
		for _, target := range e.graph.staticTargets(n) {
			preds := e.graph.barrierPredecessors(target)
			if preds == nil {
				schedule(target)
				continue
			}
			if cp.Arrivals == nil {
				cp.Arrivals = make(map[string][]string)
			}
			cp.Arrivals[target] = addUnique(cp.Arrivals[target], n)
			if containsAll(cp.Arrivals[target], preds) {
				delete(cp.Arrivals, target)
				schedule(target)
			}
		}

		for _, c := range e.graph.conditionalEdges(n) {
			target, err := c.resolve(state)
			if err != nil {
				return err
			}
			schedule(target)
		}
	}

	if len(cp.Arrivals) == 0 {
		cp.Arrivals = nil
	}
	cp.Frontier = next
	cp.Completed = nil
	return nil
}

// checkpoint writes cp as the next revision.
func (e *Engine) checkpoint(ctx context.Context, cp *store.Checkpoint) error {
	cp.Revision++
	cp.UpdatedAt = e.opts.Now()

	err := e.store.Put(ctx, cp.Clone())
	if err == nil {
		e.opts.Metrics.IncrementCheckpointWrites(e.graph.name, "ok")
		e.emit(cp.ThreadID, cp.Step, "", emit.MsgCheckpoint, map[string]interface{}{
			"revision": cp.Revision,
			"status":   string(cp.Status),
		})
		return nil
	}

	cp.Revision--
	if errors.Is(err, store.ErrRevisionConflict) {
		e.opts.Metrics.IncrementCheckpointWrites(e.graph.name, "conflict")
		return engineError(CodeConcurrency, err,
			fmt.Sprintf("concurrent writer detected on thread %s", cp.ThreadID))
	}
	e.opts.Metrics.IncrementCheckpointWrites(e.graph.name, "error")
	return engineError(CodeStore, err, "failed to write checkpoint for thread "+cp.ThreadID)
}

func (e *Engine) pause(ctx context.Context, cp *store.Checkpoint) (Snapshot, error) {
	cp.Status = store.StatusPaused
	cp.PendingNodes = append([]string(nil), cp.Frontier...)
	cp.Frontier = nil
	cp.Completed = nil
	if err := e.checkpoint(ctx, cp); err != nil {
		return e.snapshot(cp), err
	}

	for _, n := range cp.PendingNodes {
		if e.graph.IsInterrupt(n) {
			e.opts.Metrics.IncrementInterrupts(e.graph.name, n)
		}
	}
	e.opts.Metrics.IncrementRuns(e.graph.name, string(store.StatusPaused))
	e.emit(cp.ThreadID, cp.Step, "", emit.MsgInterrupt, map[string]interface{}{
		"pending": append([]string(nil), cp.PendingNodes...),
	})
	return e.snapshot(cp), nil
}

func (e *Engine) finish(ctx context.Context, cp *store.Checkpoint) (Snapshot, error) {
	if cp.Values == nil {
		cp.Values = make(map[string]json.RawMessage)
	}
	cp.Values[EndField] = json.RawMessage("true")
	cp.Status = store.StatusDone
	cp.PendingNodes = nil
	cp.Frontier = nil
	cp.Completed = nil
	cp.Arrivals = nil
	if err := e.checkpoint(ctx, cp); err != nil {
		return e.snapshot(cp), err
	}

	e.opts.Metrics.IncrementRuns(e.graph.name, string(store.StatusDone))
	e.emit(cp.ThreadID, cp.Step, "", emit.MsgRunComplete, map[string]interface{}{"revision": cp.Revision})
	return e.snapshot(cp), nil
}

// fail persists the failure and reports it. The thread does not advance.
func (e *Engine) fail(ctx context.Context, cp *store.Checkpoint, f runFailure) (Snapshot, error) {
	cp.Status = store.StatusFailed
	cp.PendingNodes = nil
	cp.Completed = nil
	cp.Failure = &store.Failure{Node: f.node, Code: f.code, Message: f.message}
	cp.Values = copyValues(cp.Values)
	for _, field := range e.graph.reducers.TransientFields() {
		delete(cp.Values, field)
	}

	runErr := &EngineError{Code: f.code, Message: failureMessage(cp.Failure), Err: f.err}
	if err := e.checkpoint(ctx, cp); err != nil {
		runErr.Err = errors.Join(f.err, err)
		return e.snapshot(cp), runErr
	}

	e.opts.Metrics.IncrementNodeErrors(e.graph.name, f.node, "unrecoverable", 1)
	e.opts.Metrics.IncrementRuns(e.graph.name, string(store.StatusFailed))
	e.emit(cp.ThreadID, cp.Step, f.node, emit.MsgRunFailed, map[string]interface{}{
		"code":  f.code,
		"error": f.message,
	})
	return e.snapshot(cp), runErr
}

func failedError(cp *store.Checkpoint) error {
	msg := "thread " + cp.ThreadID + " failed"
	if cp.Failure != nil {
		msg += ": " + failureMessage(cp.Failure)
	}
	return engineError(CodeRunFailed, ErrRunFailed, msg)
}

func failureMessage(f *store.Failure) string {
	if f.Node != "" {
		return fmt.Sprintf("node %s: %s (%s)", f.Node, f.Message, f.Code)
	}
	return fmt.Sprintf("%s (%s)", f.Message, f.Code)
}

func (e *Engine) emit(threadID string, step int, node, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		ThreadID: threadID,
		Graph:    e.graph.name,
		Step:     step,
		NodeID:   node,
		Msg:      msg,
		Meta:     meta,
	})
}

func addUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
