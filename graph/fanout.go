package graph

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aikogroup/aiko-gpt-sub001/graph/emit"
)

// branchResult is the outcome of one node within a superstep.
type branchResult struct {
	node    string
	result  NodeResult
	elapsed time.Duration
}

// runSuperstep executes nodes concurrently against the same read-only state
// snapshot on a pool of min(len(nodes), MaxConcurrent) workers. Results are
// delivered in completion order; the channel closes after the last one.
func (e *Engine) runSuperstep(ctx context.Context, threadID string, step int, nodes []string, state State, cfg Config) <-chan branchResult {
	results := make(chan branchResult, len(nodes))

	var g errgroup.Group
	g.SetLimit(max(1, min(len(nodes), e.opts.MaxConcurrent)))

	go func() {
		defer close(results)
		for _, name := range nodes {
			g.Go(func() error {
				results <- e.executeNode(ctx, threadID, step, name, state, cfg.clone())
				return nil
			})
		}
		_ = g.Wait()
	}()

	return results
}

// executeNode runs one node, converting a panic into an unrecoverable
// NodeError so a single misbehaving node cannot take the process down.
func (e *Engine) executeNode(ctx context.Context, threadID string, step int, name string, state State, cfg Config) (br branchResult) {
	node := e.graph.nodes[name]
	metrics := e.opts.Metrics

	metrics.nodeStarted()
	e.emit(threadID, step, name, emit.MsgNodeStart, nil)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			br = branchResult{
				node: name,
				result: NodeResult{Err: &NodeError{
					Node:    name,
					Code:    CodeNodePanic,
					Message: fmt.Sprintf("panic: %v", r),
				}},
			}
		}
		br.elapsed = time.Since(start)
		metrics.nodeFinished()

		meta := map[string]interface{}{"duration_ms": br.elapsed.Milliseconds()}
		status := "ok"
		if br.result.Err != nil {
			status = "error"
			meta["error"] = br.result.Err.Error()
			e.emit(threadID, step, name, emit.MsgNodeError, meta)
		} else {
			if n := len(br.result.Delta.Errors()); n > 0 {
				meta["recoverable"] = n
				metrics.IncrementNodeErrors(e.graph.name, name, "recoverable", n)
			}
			e.emit(threadID, step, name, emit.MsgNodeEnd, meta)
		}
		metrics.RecordNodeLatency(e.graph.name, name, br.elapsed, status)
	}()

	return branchResult{node: name, result: e.runWithTimeout(ctx, node, name, state, cfg)}
}
