package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects execution metrics for workflow threads.
//
// Labels use the graph name, never the thread ID, to keep cardinality bounded.
//
// Exposed metrics (namespace "aiko_workflow"):
//   - inflight_nodes: nodes currently executing (fan-out branches included)
//   - node_latency_ms{graph,node,status}: node execution duration
//   - node_errors_total{graph,node,kind}: recoverable and unrecoverable node errors
//   - interrupts_total{graph,node}: pauses before interrupt nodes
//   - resumes_total{graph}: accepted Resume calls
//   - runs_total{graph,outcome}: invocations ending paused, done or failed
//   - checkpoint_writes_total{graph,result}: checkpoint writes by result
//   - retries_total{node,reason}: retry attempts made by node implementations
//
// Example:
//
//	metrics := graph.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	engine, err := graph.New(g, st, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.Handler())
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	nodeErrors       *prometheus.CounterVec
	interrupts       *prometheus.CounterVec
	resumes          *prometheus.CounterVec
	runs             *prometheus.CounterVec
	checkpointWrites *prometheus.CounterVec
	retries          *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers all collectors with registry
// (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	const ns = "aiko_workflow"
	return &PrometheusMetrics{
		enabled: true,
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "inflight_nodes",
			Help:      "Current number of nodes executing",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 15000, 60000, 180000},
		}, []string{"graph", "node", "status"}),
		nodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "node_errors_total",
			Help:      "Node errors by kind (recoverable, unrecoverable)",
		}, []string{"graph", "node", "kind"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "interrupts_total",
			Help:      "Runs paused before an interrupt node",
		}, []string{"graph", "node"}),
		resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "resumes_total",
			Help:      "Accepted resume calls",
		}, []string{"graph"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Start and resume invocations by outcome",
		}, []string{"graph", "outcome"}),
		checkpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint writes by result (ok, conflict, error)",
		}, []string{"graph", "result"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retries_total",
			Help:      "Retry attempts made by node implementations",
		}, []string{"node", "reason"}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordNodeLatency records one node execution.
func (pm *PrometheusMetrics) RecordNodeLatency(graphName, node string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.nodeLatency.WithLabelValues(graphName, node, status).Observe(float64(latency.Milliseconds()))
}

// IncrementNodeErrors counts node errors of kind "recoverable" or "unrecoverable".
func (pm *PrometheusMetrics) IncrementNodeErrors(graphName, node, kind string, n int) {
	if !pm.on() || n <= 0 {
		return
	}
	pm.nodeErrors.WithLabelValues(graphName, node, kind).Add(float64(n))
}

// IncrementInterrupts counts a pause before node.
func (pm *PrometheusMetrics) IncrementInterrupts(graphName, node string) {
	if !pm.on() {
		return
	}
	pm.interrupts.WithLabelValues(graphName, node).Inc()
}

// IncrementResumes counts an accepted resume.
func (pm *PrometheusMetrics) IncrementResumes(graphName string) {
	if !pm.on() {
		return
	}
	pm.resumes.WithLabelValues(graphName).Inc()
}

// IncrementRuns counts an invocation ending with outcome.
func (pm *PrometheusMetrics) IncrementRuns(graphName, outcome string) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(graphName, outcome).Inc()
}

// IncrementCheckpointWrites counts a checkpoint write with result.
func (pm *PrometheusMetrics) IncrementCheckpointWrites(graphName, result string) {
	if !pm.on() {
		return
	}
	pm.checkpointWrites.WithLabelValues(graphName, result).Inc()
}

// IncrementRetries counts a retry attempt made by a node implementation.
func (pm *PrometheusMetrics) IncrementRetries(node, reason string) {
	if !pm.on() {
		return
	}
	pm.retries.WithLabelValues(node, reason).Inc()
}

// nodeStarted and nodeFinished track in-flight nodes.
func (pm *PrometheusMetrics) nodeStarted() {
	if !pm.on() {
		return
	}
	pm.inflightNodes.Inc()
}

func (pm *PrometheusMetrics) nodeFinished() {
	if !pm.on() {
		return
	}
	pm.inflightNodes.Dec()
}

// Disable stops metric collection.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric collection.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes gauges. Counters and histograms are left untouched.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightNodes.Set(0)
}
