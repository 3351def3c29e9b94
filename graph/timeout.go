package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// nodeTimeout returns the deadline for a node: the per-node override, then
// the engine default, then 0 for unlimited.
func (o Options) nodeTimeout(name string) time.Duration {
	if d, ok := o.NodeTimeouts[name]; ok && d > 0 {
		return d
	}
	if o.NodeTimeout > 0 {
		return o.NodeTimeout
	}
	return 0
}

// runWithTimeout runs node under its configured deadline. A node still
// running when the deadline passes fails the run with CodeNodeTimeout,
// whatever it returned.
func (e *Engine) runWithTimeout(ctx context.Context, node Node, name string, state State, cfg Config) NodeResult {
	timeout := e.opts.nodeTimeout(name)
	if timeout == 0 {
		return node.Run(ctx, state, cfg)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(nodeCtx, state, cfg)
	if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return NodeResult{Err: &NodeError{
			Node:    name,
			Code:    CodeNodeTimeout,
			Message: fmt.Sprintf("exceeded timeout of %v", timeout),
			Cause:   context.DeadlineExceeded,
		}}
	}
	return result
}
