package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aikogroup/aiko-gpt-sub001/graph/emit"
	"github.com/aikogroup/aiko-gpt-sub001/graph/store"
)

// decision is the payload injected at the review gate.
type decision struct {
	Action    string   `json:"action"`
	Validated []string `json:"validated"`
}

// reviewFlow is a generate -> gate -> summarize loop with counters for every
// node so tests can assert which side effects happened.
type reviewFlow struct {
	generated  atomic.Int32
	gated      atomic.Int32
	summarized atomic.Int32
}

func (f *reviewFlow) graph() *Graph {
	g := NewGraph("review")
	g.Register("validated", Append)
	g.Register("decision", Transient)
	g.Register("review_note", Transient)

	g.AddNode("generate", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		n := f.generated.Add(1)
		var u Update
		u.Set("proposed", fmt.Sprintf("batch-%d", n))
		return NodeResult{Delta: u}
	}))
	g.AddNode("gate", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		f.gated.Add(1)
		d, err := Field[decision](s, "decision")
		if err != nil {
			return NodeResult{Err: err}
		}
		var u Update
		u.Set("validated", append([]string{}, d.Validated...))
		u.Set("action", d.Action)
		return NodeResult{Delta: u}
	}))
	g.AddNode("summarize", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		f.summarized.Add(1)
		var u Update
		u.Set("summary", "company "+cfg.String("company_name", "unknown"))
		return NodeResult{Delta: u}
	}))

	g.SetEntryPoint("generate")
	g.AddEdge("generate", "gate")
	g.AddConditionalEdge("gate", FieldRouter("action", "continue", "advance", "continue"), map[string]string{
		"advance":  "summarize",
		"continue": "generate",
	})
	g.AddEdge("summarize", End)
	g.InterruptFor("gate", "decision")
	return g
}

func newEngine(t *testing.T, g *Graph, st store.Store, opts ...Option) (*Engine, *emit.BufferedEmitter) {
	t.Helper()
	if st == nil {
		st = store.NewMemStore()
	}
	emitter := emit.NewBufferedEmitter()
	opts = append([]Option{WithThreadIDGenerator(func() string { return "thread-1" })}, opts...)
	e, err := New(g, st, emitter, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, emitter
}

func decide(action string, validated ...string) Update {
	var u Update
	u.Set("decision", decision{Action: action, Validated: validated})
	return u
}

func validatedOf(t *testing.T, s State) []string {
	t.Helper()
	v, err := Field[[]string](s, "validated")
	if err != nil {
		t.Fatalf("decode validated: %v", err)
	}
	return v
}

func TestEngine_PausesBeforeInterrupt(t *testing.T) {
	flow := &reviewFlow{}
	e, emitter := newEngine(t, flow.graph(), nil)

	snap, err := e.Start(context.Background(), Update{}, Config{"company_name": "Acme"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !snap.Paused() {
		t.Fatalf("status = %s, want paused", snap.Status)
	}
	if len(snap.PendingNodes) != 1 || snap.PendingNodes[0] != "gate" {
		t.Errorf("PendingNodes = %v, want [gate]", snap.PendingNodes)
	}
	if snap.ThreadID != "thread-1" {
		t.Errorf("ThreadID = %q", snap.ThreadID)
	}
	if flow.generated.Load() != 1 || flow.gated.Load() != 0 || flow.summarized.Load() != 0 {
		t.Errorf("side effects: generated=%d gated=%d summarized=%d",
			flow.generated.Load(), flow.gated.Load(), flow.summarized.Load())
	}
	if proposed, _ := Field[string](snap.Values, "proposed"); proposed != "batch-1" {
		t.Errorf("proposed = %q", proposed)
	}
	if snap.Revision != 2 {
		t.Errorf("Revision = %d, want 2 (one fold, one pause)", snap.Revision)
	}

	interrupts := emitter.GetHistoryWithFilter("thread-1", emit.HistoryFilter{Msg: emit.MsgInterrupt})
	if len(interrupts) != 1 {
		t.Errorf("interrupt events = %d", len(interrupts))
	}

	stored, err := e.Inspect(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !stored.Values.Equal(snap.Values) || stored.Revision != snap.Revision {
		t.Error("Inspect disagrees with the returned snapshot")
	}
}

func TestEngine_ResumeContinueThenAdvance(t *testing.T) {
	flow := &reviewFlow{}
	e, _ := newEngine(t, flow.graph(), nil)
	ctx := context.Background()

	snap, err := e.Start(ctx, Update{}, Config{"company_name": "Acme"})
	if err != nil {
		t.Fatal(err)
	}

	snap, err = e.Resume(ctx, snap.ThreadID, decide("continue", "N-1", "N-2"))
	if err != nil {
		t.Fatalf("Resume(continue): %v", err)
	}
	if !snap.Paused() || snap.PendingNodes[0] != "gate" {
		t.Fatalf("continue should loop back to the gate, got %s %v", snap.Status, snap.PendingNodes)
	}
	if flow.generated.Load() != 2 || flow.gated.Load() != 1 {
		t.Errorf("generated=%d gated=%d", flow.generated.Load(), flow.gated.Load())
	}
	if snap.Values.Has("decision") {
		t.Error("decision payload must not be persisted")
	}

	snap, err = e.Resume(ctx, snap.ThreadID, decide("advance", "N-3"))
	if err != nil {
		t.Fatalf("Resume(advance): %v", err)
	}
	if !snap.Done() {
		t.Fatalf("status = %s, want done", snap.Status)
	}
	if end, _ := Field[bool](snap.Values, EndField); !end {
		t.Error("terminal marker not set")
	}
	if got := validatedOf(t, snap.Values); len(got) != 3 || got[0] != "N-1" || got[2] != "N-3" {
		t.Errorf("validated = %v, want accumulated across rounds", got)
	}
	if summary, _ := Field[string](snap.Values, "summary"); summary != "company Acme" {
		t.Errorf("summary = %q, config not carried across resumes", summary)
	}
	if flow.summarized.Load() != 1 {
		t.Errorf("summarized = %d", flow.summarized.Load())
	}
}

func TestEngine_ResumeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown thread", func(t *testing.T) {
		e, _ := newEngine(t, (&reviewFlow{}).graph(), nil)
		_, err := e.Resume(ctx, "nope", decide("advance"))
		if !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("expected ErrThreadNotFound, got %v", err)
		}
	})

	t.Run("not paused", func(t *testing.T) {
		e, _ := newEngine(t, (&reviewFlow{}).graph(), nil)
		snap, _ := e.Start(ctx, Update{}, nil)
		if _, err := e.Resume(ctx, snap.ThreadID, decide("advance")); err != nil {
			t.Fatal(err)
		}
		_, err := e.Resume(ctx, snap.ThreadID, decide("advance"))
		if !errors.Is(err, ErrNotPaused) {
			t.Errorf("expected ErrNotPaused, got %v", err)
		}
	})

	payloads := map[string]func() Update{
		"empty payload": func() Update { return Update{} },
		"non-transient field": func() Update {
			u := decide("advance")
			u.Set("validated", []string{"forged"})
			return u
		},
		"clear": func() Update {
			var u Update
			u.Clear("decision")
			return u
		},
		"recorded error": func() Update {
			u := decide("advance")
			u.RecordError(NodeError{Message: "x"})
			return u
		},
		"decision in another gate's field": func() Update {
			var u Update
			u.Set("review_note", decision{Action: "advance"})
			return u
		},
		"unconsumed field alongside decision": func() Update {
			u := decide("advance")
			u.Set("review_note", "looks fine")
			return u
		},
	}
	for name, build := range payloads {
		t.Run(name, func(t *testing.T) {
			flow := &reviewFlow{}
			e, _ := newEngine(t, flow.graph(), nil)
			snap, _ := e.Start(ctx, Update{}, nil)

			_, err := e.Resume(ctx, snap.ThreadID, build())
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
			after, _ := e.Inspect(ctx, snap.ThreadID)
			if !after.Paused() || after.Revision != snap.Revision || flow.gated.Load() != 0 {
				t.Error("rejected payload must leave the thread untouched")
			}
		})
	}
}

func TestEngine_StartValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, (&reviewFlow{}).graph(), nil)

	if _, err := e.StartThread(ctx, "t", decide("advance"), nil); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("initial decision field: expected ErrInvalidPayload, got %v", err)
	}
	if _, err := e.StartThread(ctx, "", Update{}, nil); !errors.Is(err, ErrConfiguration) {
		t.Errorf("empty thread ID: expected ErrConfiguration, got %v", err)
	}

	if _, err := e.StartThread(ctx, "t", Update{}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartThread(ctx, "t", Update{}, nil); !errors.Is(err, ErrThreadExists) {
		t.Errorf("duplicate thread: expected ErrThreadExists, got %v", err)
	}

	var initial Update
	initial.Set("validated", []string{"seed"})
	snap, err := e.StartThread(ctx, "seeded", initial, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := validatedOf(t, snap.Values); len(got) != 1 || got[0] != "seed" {
		t.Errorf("initial state not folded: %v", got)
	}
}

func TestEngine_FailurePersisted(t *testing.T) {
	ctx := context.Background()
	g := NewGraph("failing")
	g.Register("decision", Transient)
	g.AddNode("load", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		return Fail("load", CodeMissingRequiredData, "company_name is required")
	}))
	g.AddNode("gate", noop())
	g.SetEntryPoint("load")
	g.AddEdge("load", "gate").AddEdge("gate", End)
	g.InterruptBefore("gate")

	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	e, emitter := newEngine(t, g, nil, WithMetrics(metrics))

	snap, err := e.Start(ctx, Update{}, nil)
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != CodeMissingRequiredData {
		t.Fatalf("expected EngineError %s, got %v", CodeMissingRequiredData, err)
	}
	if snap.Status != store.StatusFailed || snap.Failure == nil || snap.Failure.Node != "load" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.PendingNodes) != 0 {
		t.Errorf("failed thread has pending nodes %v", snap.PendingNodes)
	}

	_, err = e.Resume(ctx, snap.ThreadID, decide("advance"))
	if !errors.Is(err, ErrRunFailed) {
		t.Errorf("expected ErrRunFailed, got %v", err)
	}
	if _, err := e.Recover(ctx, snap.ThreadID); !errors.Is(err, ErrRunFailed) {
		t.Errorf("Recover: expected ErrRunFailed, got %v", err)
	}

	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("failing", "failed")); got != 1 {
		t.Errorf("runs_total{failed} = %v", got)
	}
	if got := testutil.ToFloat64(metrics.nodeErrors.WithLabelValues("failing", "load", "unrecoverable")); got != 1 {
		t.Errorf("node_errors_total{unrecoverable} = %v", got)
	}
	if n := len(emitter.GetHistoryWithFilter(snap.ThreadID, emit.HistoryFilter{Msg: emit.MsgRunFailed})); n != 1 {
		t.Errorf("run_failed events = %d", n)
	}
}

func TestEngine_RecoverableErrorsAccumulate(t *testing.T) {
	g := NewGraph("recoverable")
	g.AddNode("gen", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		var u Update
		u.Set("proposed", []string{})
		u.RecordError(NodeError{Node: "gen", Code: "LLM_UNAVAILABLE", Message: "timeout"})
		return NodeResult{Delta: u}
	}))
	g.SetEntryPoint("gen").AddEdge("gen", End)

	e, _ := newEngine(t, g, nil)
	snap, err := e.Start(context.Background(), Update{}, nil)
	if err != nil {
		t.Fatalf("recoverable errors must not abort: %v", err)
	}
	errs, _ := Field[[]NodeError](snap.Values, ErrorsField)
	if !snap.Done() || len(errs) != 1 || errs[0].Code != "LLM_UNAVAILABLE" {
		t.Errorf("status=%s errors=%+v", snap.Status, errs)
	}
}

func TestEngine_FanOutAndBarrier(t *testing.T) {
	var joined atomic.Int32
	branch := func(name string) Node {
		return NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
			var u Update
			u.Set("items", []string{name})
			return NodeResult{Delta: u}
		})
	}

	g := NewGraph("fan")
	g.Register("items", Append)
	g.AddNode("split", noop())
	g.AddNode("a", branch("a")).AddNode("b", branch("b")).AddNode("c", branch("c"))
	g.AddNode("join", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		joined.Add(1)
		items, _ := Field[[]string](s, "items")
		var u Update
		u.Set("count", len(items))
		return NodeResult{Delta: u}
	}))
	g.SetEntryPoint("split")
	g.AddEdge("split", "a").AddEdge("split", "b").AddEdge("split", "c")
	g.AddEdge("a", "join").AddEdge("b", "join").AddEdge("c", "join")
	g.AddEdge("join", End)

	e, emitter := newEngine(t, g, nil, WithMaxConcurrent(2))
	snap, err := e.Start(context.Background(), Update{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !snap.Done() || joined.Load() != 1 {
		t.Fatalf("status=%s joined=%d", snap.Status, joined.Load())
	}
	if count, _ := Field[int](snap.Values, "count"); count != 3 {
		t.Errorf("join saw %d items, want all three branches", count)
	}
	items, _ := Field[[]string](snap.Values, "items")
	seen := map[string]bool{}
	for _, it := range items {
		seen[it] = true
	}
	if len(items) != 3 || !seen["a"] || !seen["b"] || !seen["c"] {
		t.Errorf("items = %v", items)
	}

	checkpoints := emitter.GetHistoryWithFilter(snap.ThreadID, emit.HistoryFilter{Msg: emit.MsgCheckpoint})
	// split, a, b, c, join, done
	if len(checkpoints) != 6 {
		t.Errorf("checkpoint writes = %d, want one per node plus completion", len(checkpoints))
	}
}

func TestEngine_MixedFrontierPausesWhole(t *testing.T) {
	var ranOther atomic.Int32
	g := NewGraph("mixed")
	g.Register("decision", Transient)
	g.AddNode("split", noop())
	g.AddNode("gate", noop())
	g.AddNode("other", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		ranOther.Add(1)
		return NodeResult{}
	}))
	g.SetEntryPoint("split")
	g.AddEdge("split", "gate").AddEdge("split", "other")
	g.AddEdge("gate", End).AddEdge("other", End)
	g.InterruptBefore("gate")

	e, _ := newEngine(t, g, nil)
	snap, err := e.Start(context.Background(), Update{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.PendingNodes) != 2 || ranOther.Load() != 0 {
		t.Errorf("pending=%v other ran %d times", snap.PendingNodes, ranOther.Load())
	}

	snap, err = e.Resume(context.Background(), snap.ThreadID, decide("advance"))
	if err != nil || !snap.Done() || ranOther.Load() != 1 {
		t.Errorf("after resume: err=%v status=%s other=%d", err, snap.Status, ranOther.Load())
	}
}

// twoGates fans out to two gates bound to their own decision fields.
func twoGates(gated *atomic.Int32) *Graph {
	g := NewGraph("two-gates")
	g.Register("left_decision", Transient).Register("right_decision", Transient)
	gate := func(field string) Node {
		return NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
			if !s.Has(field) {
				return NodeResult{Err: fmt.Errorf("%s missing", field)}
			}
			gated.Add(1)
			return NodeResult{}
		})
	}
	g.AddNode("split", noop())
	g.AddNode("left", gate("left_decision"))
	g.AddNode("right", gate("right_decision"))
	g.SetEntryPoint("split")
	g.AddEdge("split", "left").AddEdge("split", "right")
	g.AddEdge("left", End).AddEdge("right", End)
	g.InterruptFor("left", "left_decision").InterruptFor("right", "right_decision")
	return g
}

func TestEngine_BoundGatesNeedTheirOwnDecision(t *testing.T) {
	ctx := context.Background()
	var gated atomic.Int32
	e, _ := newEngine(t, twoGates(&gated), nil)

	snap, err := e.Start(ctx, Update{}, nil)
	if err != nil || len(snap.PendingNodes) != 2 {
		t.Fatalf("start: pending=%v err=%v", snap.PendingNodes, err)
	}

	var partial Update
	partial.Set("left_decision", "ok")
	_, err = e.Resume(ctx, snap.ThreadID, partial)
	if !errors.Is(err, ErrInvalidPayload) || !strings.Contains(err.Error(), "right_decision") {
		t.Errorf("a payload missing one gate's field should be rejected, got %v", err)
	}
	after, _ := e.Inspect(ctx, snap.ThreadID)
	if !after.Paused() || after.Revision != snap.Revision || gated.Load() != 0 {
		t.Errorf("rejected payload touched the thread: status=%s gated=%d", after.Status, gated.Load())
	}

	var full Update
	full.Set("left_decision", "ok").Set("right_decision", "ok")
	snap, err = e.Resume(ctx, snap.ThreadID, full)
	if err != nil || !snap.Done() || gated.Load() != 2 {
		t.Errorf("after resume: err=%v status=%s gated=%d", err, snap.Status, gated.Load())
	}
}

func TestEngine_BoundGateIgnoresOtherTransients(t *testing.T) {
	g := NewGraph("bound")
	g.Register("decision", Transient).Register("note", Transient)
	g.AddNode("gate", noop()).SetEntryPoint("gate").AddEdge("gate", End)
	g.InterruptFor("gate", "decision")
	e, _ := newEngine(t, g, nil)

	var note Update
	note.Set("note", "not a decision")
	if !e.mustPause([]string{"gate"}, NewState(mustApply(t, g, note))) {
		t.Error("a bound gate must not run on another transient field")
	}
	var d Update
	d.Set("decision", "ok")
	if e.mustPause([]string{"gate"}, NewState(mustApply(t, g, d))) {
		t.Error("a bound gate should run once its own field is present")
	}
}

func mustApply(t *testing.T, g *Graph, u Update) map[string]json.RawMessage {
	t.Helper()
	values, err := g.reducers.Apply(nil, u)
	if err != nil {
		t.Fatal(err)
	}
	return values
}

// hookStore calls onPut after every successful write.
type hookStore struct {
	store.Store
	onPut func(store.Checkpoint)
}

func (h *hookStore) Put(ctx context.Context, cp store.Checkpoint) error {
	if err := h.Store.Put(ctx, cp); err != nil {
		return err
	}
	if h.onPut != nil {
		h.onPut(cp)
	}
	return nil
}

// A sibling folding ahead of a gate must not drop the gate's decision from
// the checkpoint a recovered run starts from.
func TestEngine_RecoverKeepsUnfoldedDecision(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var gateRuns atomic.Int32
	var seen atomic.Value

	g := NewGraph("mixed-recover")
	g.Register("decision", Transient)
	g.AddNode("split", noop())
	g.AddNode("gate", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		if gateRuns.Add(1) == 1 {
			<-ctx.Done()
			return NodeResult{Err: ctx.Err()}
		}
		d, err := Field[decision](s, "decision")
		if err != nil {
			return NodeResult{Err: err}
		}
		seen.Store(d.Action)
		return NodeResult{}
	}))
	g.AddNode("other", noop())
	g.SetEntryPoint("split")
	g.AddEdge("split", "gate").AddEdge("split", "other")
	g.AddEdge("gate", End).AddEdge("other", End)
	g.InterruptFor("gate", "decision")

	st := &hookStore{Store: store.NewMemStore()}
	e, _ := newEngine(t, g, st)

	snap, err := e.Start(context.Background(), Update{}, nil)
	if err != nil || !snap.Paused() {
		t.Fatalf("start: status=%s err=%v", snap.Status, err)
	}

	var stored store.Checkpoint
	st.onPut = func(cp store.Checkpoint) {
		if len(cp.Completed) == 1 && cp.Completed[0] == "other" {
			stored = cp
			cancel()
		}
	}
	if _, err := e.Resume(ctx, snap.ThreadID, decide("advance")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	st.onPut = nil
	if _, ok := stored.Values["decision"]; !ok {
		t.Fatalf("checkpoint after the sibling fold lost the decision: %v", stored.Values)
	}

	snap, err = e.Recover(context.Background(), snap.ThreadID)
	if err != nil || !snap.Done() {
		t.Fatalf("Recover: status=%s err=%v", snap.Status, err)
	}
	if gateRuns.Load() != 2 || seen.Load() != "advance" {
		t.Errorf("gate runs=%d saw %v", gateRuns.Load(), seen.Load())
	}
	if snap.Values.Has("decision") {
		t.Error("decision payload must not outlive the gate")
	}
}

func TestEngine_FailedCheckpointDropsDecision(t *testing.T) {
	g := NewGraph("failing-gate")
	g.Register("decision", Transient)
	g.AddNode("split", noop())
	g.AddNode("gate", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		time.Sleep(10 * time.Millisecond)
		return NodeResult{Err: errors.New("gate broke")}
	}))
	g.AddNode("other", noop())
	g.SetEntryPoint("split")
	g.AddEdge("split", "gate").AddEdge("split", "other")
	g.AddEdge("gate", End).AddEdge("other", End)
	g.InterruptFor("gate", "decision")

	e, _ := newEngine(t, g, nil)
	ctx := context.Background()
	snap, _ := e.Start(ctx, Update{}, nil)

	snap, err := e.Resume(ctx, snap.ThreadID, decide("advance"))
	if err == nil || snap.Status != store.StatusFailed {
		t.Fatalf("status=%s err=%v", snap.Status, err)
	}
	stored, _ := e.Inspect(ctx, snap.ThreadID)
	if stored.Values.Has("decision") {
		t.Error("a failed thread must not persist the decision payload")
	}
}

func TestEngine_UnknownRouteFails(t *testing.T) {
	g := NewGraph("routes")
	g.AddNode("a", noop()).SetEntryPoint("a")
	g.AddConditionalEdge("a", Router{
		Name:   "liar",
		Labels: []string{"ok"},
		Route:  func(State) string { return "surprise" },
	}, map[string]string{"ok": End})

	e, _ := newEngine(t, g, nil)
	snap, err := e.Start(context.Background(), Update{}, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	if snap.Failure == nil || snap.Failure.Code != CodeUnknownRoute {
		t.Errorf("failure = %+v", snap.Failure)
	}
}

func TestEngine_MaxSteps(t *testing.T) {
	g := NewGraph("loop")
	g.AddNode("spin", noop()).SetEntryPoint("spin").AddEdge("spin", "spin")

	e, _ := newEngine(t, g, nil, WithMaxSteps(3))
	snap, err := e.Start(context.Background(), Update{}, nil)
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
	}
	if snap.Status != store.StatusFailed || snap.Step != 3 {
		t.Errorf("status=%s step=%d", snap.Status, snap.Step)
	}
}

func TestEngine_PanicRecovered(t *testing.T) {
	g := NewGraph("panics")
	g.AddNode("boom", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		panic("kaboom")
	}))
	g.SetEntryPoint("boom").AddEdge("boom", End)

	e, _ := newEngine(t, g, nil)
	snap, err := e.Start(context.Background(), Update{}, nil)
	if err == nil || snap.Failure == nil || snap.Failure.Code != CodeNodePanic {
		t.Errorf("err=%v failure=%+v", err, snap.Failure)
	}
}

func TestEngine_NodeTimeout(t *testing.T) {
	g := NewGraph("slow")
	g.AddNode("slow", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		<-ctx.Done()
		return NodeResult{}
	}))
	g.SetEntryPoint("slow").AddEdge("slow", End)

	e, _ := newEngine(t, g, nil, WithNodeTimeout(time.Hour), WithNodeTimeoutFor("slow", 20*time.Millisecond))
	snap, err := e.Start(context.Background(), Update{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in error chain, got %v", err)
	}
	if snap.Failure == nil || snap.Failure.Code != CodeNodeTimeout {
		t.Errorf("failure = %+v", snap.Failure)
	}
}

// conflictStore accepts the first n writes, then reports every write as lost
// to a concurrent writer.
type conflictStore struct {
	store.Store
	allowed int
	puts    int
}

func (c *conflictStore) Put(ctx context.Context, cp store.Checkpoint) error {
	c.puts++
	if c.puts > c.allowed {
		return fmt.Errorf("%w: simulated", store.ErrRevisionConflict)
	}
	return c.Store.Put(ctx, cp)
}

func TestEngine_ConcurrencyViolation(t *testing.T) {
	ctx := context.Background()

	t.Run("store revision conflict", func(t *testing.T) {
		flow := &reviewFlow{}
		st := &conflictStore{Store: store.NewMemStore(), allowed: 1}
		e, _ := newEngine(t, flow.graph(), st)

		_, err := e.Start(ctx, Update{}, nil)
		if !errors.Is(err, ErrConcurrencyViolation) {
			t.Fatalf("expected ErrConcurrencyViolation, got %v", err)
		}
		stored, _ := st.Get(ctx, "thread-1")
		if stored.Revision != 1 || stored.Status == store.StatusFailed {
			t.Errorf("conflict must not overwrite the winner: %+v", stored)
		}
	})

	t.Run("distributed lock held", func(t *testing.T) {
		e, _ := newEngine(t, (&reviewFlow{}).graph(), nil, WithLocker(&stubLocker{err: errors.New("held")}, time.Second))
		_, err := e.Start(ctx, Update{}, nil)
		if !errors.Is(err, ErrConcurrencyViolation) {
			t.Errorf("expected ErrConcurrencyViolation, got %v", err)
		}
	})
}

func TestEngine_RestartFromDurableStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "threads.db")

	first, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	flow := &reviewFlow{}
	e1, _ := newEngine(t, flow.graph(), first)
	paused, err := e1.Start(ctx, Update{}, Config{"company_name": "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = second.Close() })

	flow2 := &reviewFlow{}
	e2, _ := newEngine(t, flow2.graph(), second)

	reloaded, err := e2.Inspect(ctx, paused.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Values.Equal(paused.Values) || reloaded.Revision != paused.Revision {
		t.Fatal("restarted engine sees different state")
	}
	if len(reloaded.PendingNodes) != 1 || reloaded.PendingNodes[0] != "gate" {
		t.Errorf("pending = %v", reloaded.PendingNodes)
	}

	done, err := e2.Resume(ctx, paused.ThreadID, decide("advance", "N-1"))
	if err != nil {
		t.Fatal(err)
	}
	if !done.Done() || flow2.generated.Load() != 0 {
		t.Errorf("status=%s, generate re-ran %d times after restart", done.Status, flow2.generated.Load())
	}
	if summary, _ := Field[string](done.Values, "summary"); summary != "company Acme" {
		t.Errorf("summary = %q", summary)
	}
}

func TestEngine_RecoverAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var firstRuns, secondRuns atomic.Int32

	g := NewGraph("cancel")
	g.AddNode("first", NodeFunc(func(_ context.Context, s State, cfg Config) NodeResult {
		firstRuns.Add(1)
		cancel()
		var u Update
		u.Set("first", true)
		return NodeResult{Delta: u}
	}))
	g.AddNode("second", NodeFunc(func(ctx context.Context, s State, cfg Config) NodeResult {
		secondRuns.Add(1)
		return NodeResult{}
	}))
	g.SetEntryPoint("first").AddEdge("first", "second").AddEdge("second", End)

	e, _ := newEngine(t, g, nil)
	_, err := e.Start(ctx, Update{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	stuck, _ := e.Inspect(context.Background(), "thread-1")
	if stuck.Status != store.StatusRunning {
		t.Fatalf("status = %s, want running", stuck.Status)
	}
	if _, err := e.Resume(context.Background(), "thread-1", decide("advance")); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume on a running thread: %v", err)
	}

	snap, err := e.Recover(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !snap.Done() || firstRuns.Load() != 1 || secondRuns.Load() != 1 {
		t.Errorf("status=%s first=%d second=%d", snap.Status, firstRuns.Load(), secondRuns.Load())
	}

	if _, err := e.Recover(context.Background(), "thread-1"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Recover on a done thread: %v", err)
	}
}

func TestEngine_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	ids := []string{"a", "b"}
	i := 0
	e, _ := newEngine(t, (&reviewFlow{}).graph(), nil, WithThreadIDGenerator(func() string {
		id := ids[i]
		i++
		return id
	}))

	for range ids {
		if _, err := e.Start(ctx, Update{}, nil); err != nil {
			t.Fatal(err)
		}
	}
	listed, err := e.List(ctx)
	if err != nil || len(listed) != 2 {
		t.Fatalf("List = %v, %v", listed, err)
	}

	if err := e.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Inspect(ctx, "a"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("deleted thread still visible: %v", err)
	}
}

func TestEngine_Metrics(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	e, _ := newEngine(t, (&reviewFlow{}).graph(), nil, WithMetrics(metrics))
	ctx := context.Background()

	snap, _ := e.Start(ctx, Update{}, nil)
	_, _ = e.Resume(ctx, snap.ThreadID, decide("advance"))

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"interrupts", metrics.interrupts.WithLabelValues("review", "gate"), 1},
		{"resumes", metrics.resumes.WithLabelValues("review"), 1},
		{"runs paused", metrics.runs.WithLabelValues("review", "paused"), 1},
		{"runs done", metrics.runs.WithLabelValues("review", "done"), 1},
		{"inflight", metrics.inflightNodes, 0},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
	if n := testutil.CollectAndCount(metrics.nodeLatency); n != 3 {
		t.Errorf("node latency series = %d, want one per node", n)
	}

	metrics.Disable()
	metrics.IncrementResumes("review")
	if got := testutil.ToFloat64(metrics.resumes.WithLabelValues("review")); got != 1 {
		t.Errorf("disabled metrics still recorded: %v", got)
	}
}

func TestEngine_Events(t *testing.T) {
	e, emitter := newEngine(t, (&reviewFlow{}).graph(), nil)
	snap, _ := e.Start(context.Background(), Update{}, nil)

	var msgs []string
	for _, ev := range emitter.GetHistory(snap.ThreadID) {
		msgs = append(msgs, ev.Msg)
		if ev.Graph != "review" {
			t.Errorf("event graph = %q", ev.Graph)
		}
	}
	want := []string{emit.MsgRunStart, emit.MsgNodeStart, emit.MsgNodeEnd, emit.MsgCheckpoint, emit.MsgCheckpoint, emit.MsgInterrupt}
	if fmt.Sprint(msgs) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", msgs, want)
	}
}
