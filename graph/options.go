package graph

import (
	"time"

	"github.com/google/uuid"

	"github.com/aikogroup/aiko-gpt-sub001/graph/store"
)

// DefaultMaxConcurrent caps the fan-out worker pool when no option is given.
const DefaultMaxConcurrent = 10

// DefaultMaxSteps bounds supersteps per Start/Resume invocation.
const DefaultMaxSteps = 100

// Options configures Engine execution behavior.
//
// Zero values are valid; the Engine uses the defaults above.
type Options struct {
	// MaxSteps limits supersteps per Start or Resume call. A generation node
	// looping on its gate without pausing is stopped here.
	MaxSteps int

	// MaxConcurrent caps the fan-out worker pool. Actual pool size is
	// min(branches, MaxConcurrent).
	MaxConcurrent int

	// NodeTimeout bounds every node execution. Zero means unlimited.
	NodeTimeout time.Duration

	// NodeTimeouts overrides NodeTimeout per node.
	NodeTimeouts map[string]time.Duration

	// Metrics receives Prometheus measurements. Nil disables metrics.
	Metrics *PrometheusMetrics

	// Locker serializes writers to a thread across processes. The in-process
	// per-thread lock is always active.
	Locker store.Locker

	// LockTTL bounds how long a distributed lock is held.
	LockTTL time.Duration

	// NewThreadID generates thread IDs for Start.
	NewThreadID func() string

	// Now is the clock used for checkpoint timestamps.
	Now func() time.Time
}

// Option is a functional option for configuring the Engine.
//
// Example:
//
//	engine, err := graph.New(g, st, emitter,
//	    graph.WithMaxConcurrent(4),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts Options
}

func defaultOptions() Options {
	return Options{
		MaxSteps:      DefaultMaxSteps,
		MaxConcurrent: DefaultMaxConcurrent,
		LockTTL:       5 * time.Minute,
		NewThreadID:   uuid.NewString,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithMaxSteps sets the superstep limit per invocation. Zero disables it.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: CodeConfiguration, Err: ErrConfiguration}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithMaxConcurrent sets the fan-out worker pool cap.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &EngineError{Message: "max concurrent must be at least 1", Code: CodeConfiguration, Err: ErrConfiguration}
		}
		cfg.opts.MaxConcurrent = n
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

// WithLocker adds a distributed per-thread lock, e.g. store.RedisLocker.
func WithLocker(locker store.Locker, ttl time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Locker = locker
		if ttl > 0 {
			cfg.opts.LockTTL = ttl
		}
		return nil
	}
}

// WithThreadIDGenerator replaces the default UUID thread IDs.
func WithThreadIDGenerator(fn func() string) Option {
	return func(cfg *engineConfig) error {
		if fn == nil {
			return &EngineError{Message: "thread ID generator cannot be nil", Code: CodeConfiguration, Err: ErrConfiguration}
		}
		cfg.opts.NewThreadID = fn
		return nil
	}
}

// WithClock replaces the checkpoint timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: CodeConfiguration, Err: ErrConfiguration}
		}
		cfg.opts.Now = now
		return nil
	}
}

// WithNodeTimeout sets the default deadline for every node.
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "node timeout cannot be negative", Code: CodeConfiguration, Err: ErrConfiguration}
		}
		cfg.opts.NodeTimeout = d
		return nil
	}
}

// WithNodeTimeoutFor overrides the deadline for one node. LLM-backed
// generation nodes usually need more than the default.
func WithNodeTimeoutFor(node string, d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return &EngineError{Message: "node timeout must be positive", Code: CodeConfiguration, Err: ErrConfiguration}
		}
		if cfg.opts.NodeTimeouts == nil {
			cfg.opts.NodeTimeouts = make(map[string]time.Duration)
		}
		cfg.opts.NodeTimeouts[node] = d
		return nil
	}
}
