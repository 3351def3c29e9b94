// Package pipeline holds the consulting workflows run by the engine: need
// analysis, executive summary and value chain mapping. Each pipeline is a
// graph whose LLM-backed nodes share a Generator and whose review points are
// gate nodes paused on before they run.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/model"
)

// ErrUnknownPipeline is returned by Registry.Get for unregistered names.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Deps are the collaborators a pipeline's nodes are built with.
type Deps struct {
	Model   model.ChatModel
	Logger  *zap.Logger
	Metrics *graph.PrometheusMetrics

	// Policy overrides the generator's retry budget when set.
	Policy *graph.RetryPolicy
}

func (d Deps) generator() *Generator {
	gen := NewGenerator(d.Model, d.Logger, d.Metrics)
	if d.Policy != nil {
		gen = gen.WithPolicy(*d.Policy)
	}
	return gen
}

// Pipeline describes a registered workflow.
type Pipeline struct {
	Name        string
	Description string
	Build       func(Deps) *graph.Graph

	// Gates maps each interrupt node to the transient field its decision
	// payload must be written to on resume.
	Gates map[string]string
}

// DecisionField returns the field a resume payload must set for the thread
// paused before pending. ok is false when no pending node is a gate.
func (p Pipeline) DecisionField(pending []string) (field string, ok bool) {
	for _, n := range pending {
		if f, found := p.Gates[n]; found {
			return f, true
		}
	}
	return "", false
}

// Registry maps pipeline names to their definitions.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]Pipeline)}
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p Pipeline) error {
	if p.Name == "" || p.Build == nil {
		return fmt.Errorf("pipeline %q: name and build function are required", p.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[p.Name]; ok {
		return fmt.Errorf("pipeline %q already registered", p.Name)
	}
	r.pipelines[p.Name] = p
	return nil
}

// Get returns the pipeline registered under name.
func (r *Registry) Get(name string) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	if !ok {
		return Pipeline{}, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	return p, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for n := range r.pipelines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry holding the three built-in pipelines.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range []Pipeline{
		{
			Name:        NameNeedAnalysis,
			Description: "Identify business needs from interviews, then derive quick wins and structuring use cases",
			Build:       NeedAnalysis,
			Gates: map[string]string{
				NodeHumanValidation:  FieldNeedsDecision,
				NodeValidateUseCases: FieldUseCaseDecision,
			},
		},
		{
			Name:        NameExecutiveSummary,
			Description: "Analyse challenges, maturity and quotes, validate recommendations and write an executive summary",
			Build:       ExecutiveSummary,
			Gates: map[string]string{
				NodeValidateRecommendations: FieldRecommendationsDecision,
			},
		},
		{
			Name:        NameValueChain,
			Description: "Validate the company's teams, then map their activities and frictions",
			Build:       ValueChain,
			Gates: map[string]string{
				NodeValidateTeams: FieldTeamsDecision,
			},
		},
	} {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}
