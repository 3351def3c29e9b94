package graph

import (
	"errors"
	"fmt"
	"sort"
)

// Graph is a workflow definition: nodes, edges, an entry point, interrupt
// markers and the reducer registry for its state fields.
//
// Builder calls record problems instead of returning them; Validate (and New)
// reports everything at once as a single configuration error, so a malformed
// graph never starts a run.
//
// Example:
//
//	g := graph.NewGraph("need_analysis")
//	g.Register("validated_needs", graph.Append)
//	g.Register("validation_result", graph.Transient)
//	g.AddNode("analyze_needs", analyze)
//	g.AddNode("human_validation", gate)
//	g.SetEntryPoint("analyze_needs")
//	g.AddEdge("analyze_needs", "human_validation")
//	g.AddConditionalEdge("human_validation", gate.Router(), map[string]string{
//	    "advance":           graph.End,
//	    "continue_in_place": "analyze_needs",
//	})
//	g.InterruptFor("human_validation", "validation_result")
type Graph struct {
	name        string
	nodes       map[string]Node
	nodeOrder   []string
	edges       []Edge
	conditional []ConditionalEdge
	entry       string
	interrupts  map[string]bool
	decisions   map[string]string
	reducers    *Reducers
	problems    []error
}

// NewGraph creates an empty graph definition.
func NewGraph(name string) *Graph {
	return &Graph{
		name:       name,
		nodes:      make(map[string]Node),
		interrupts: make(map[string]bool),
		decisions:  make(map[string]string),
		reducers:   NewReducers(),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// AddNode registers a node under name.
func (g *Graph) AddNode(name string, node Node) *Graph {
	switch {
	case name == "":
		g.problem("node name cannot be empty")
	case name == End:
		g.problem("node name %q is reserved", End)
	case node == nil:
		g.problem("node %q is nil", name)
	default:
		if _, exists := g.nodes[name]; exists {
			g.problem("duplicate node %q", name)
			return g
		}
		g.nodes[name] = node
		g.nodeOrder = append(g.nodeOrder, name)
	}
	return g
}

// AddEdge adds a static edge. Multiple static edges from one node fan out.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdge routes from a node through router. targets maps every
// router label to a node or End.
func (g *Graph) AddConditionalEdge(from string, router Router, targets map[string]string) *Graph {
	if router.Route == nil {
		g.problem("conditional edge from %q has no route function", from)
		return g
	}
	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	g.conditional = append(g.conditional, ConditionalEdge{From: from, Router: router, Targets: copied})
	return g
}

// SetEntryPoint sets the first node of every run.
func (g *Graph) SetEntryPoint(name string) *Graph {
	g.entry = name
	return g
}

// InterruptBefore marks nodes the executor must pause ahead of until a
// decision payload is present. An unbound interrupt node is released by any
// transient field; use InterruptFor to bind it to its own field.
func (g *Graph) InterruptBefore(names ...string) *Graph {
	for _, n := range names {
		g.interrupts[n] = true
	}
	return g
}

// InterruptFor marks node interrupt-before and binds it to decisionField, a
// Transient field. The executor only runs node once that field is present,
// and Resume rejects payload fields no pending node consumes.
func (g *Graph) InterruptFor(node, decisionField string) *Graph {
	if prev, ok := g.decisions[node]; ok && prev != decisionField {
		g.problem("interrupt node %q is bound to both %q and %q", node, prev, decisionField)
		return g
	}
	g.interrupts[node] = true
	g.decisions[node] = decisionField
	return g
}

// DecisionField returns the transient field bound to an interrupt node.
func (g *Graph) DecisionField(node string) (string, bool) {
	f, ok := g.decisions[node]
	return f, ok
}

// Register sets the reducer policy for a state field.
func (g *Graph) Register(field string, p Policy) *Graph {
	if err := g.reducers.Register(field, p); err != nil {
		g.problems = append(g.problems, err)
	}
	return g
}

// Reducers returns the graph's reducer registry.
func (g *Graph) Reducers() *Reducers {
	return g.reducers
}

// Nodes returns node names in registration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodeOrder...)
}

// IsInterrupt reports whether name is marked interrupt-before.
func (g *Graph) IsInterrupt(name string) bool {
	return g.interrupts[name]
}

func (g *Graph) problem(format string, args ...any) {
	g.problems = append(g.problems, fmt.Errorf(format, args...))
}

func (g *Graph) known(target string) bool {
	if target == End {
		return true
	}
	_, ok := g.nodes[target]
	return ok
}

// Validate checks the definition and returns a ConfigurationError listing
// every problem found, or nil.
func (g *Graph) Validate() error {
	problems := append([]error(nil), g.problems...)
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if g.entry == "" {
		add("entry point not set")
	} else if _, ok := g.nodes[g.entry]; !ok {
		add("entry point %q is not a registered node", g.entry)
	}

	outgoing := make(map[string]int)
	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			add("edge source %q is not a registered node", e.From)
		}
		if !g.known(e.To) {
			add("edge %s -> %s targets an unregistered node", e.From, e.To)
		}
		outgoing[e.From]++
	}

	for _, c := range g.conditional {
		if _, ok := g.nodes[c.From]; !ok {
			add("conditional edge source %q is not a registered node", c.From)
		}
		if len(c.Router.Labels) == 0 {
			add("router %q on %q declares no labels", c.Router.Name, c.From)
		}
		for _, label := range c.Router.Labels {
			target, ok := c.Targets[label]
			if !ok {
				add("router %q on %q can return %q but the label map has no target for it",
					c.Router.Name, c.From, label)
				continue
			}
			if !g.known(target) {
				add("router %q on %q maps %q to unregistered node %q",
					c.Router.Name, c.From, label, target)
			}
		}
		outgoing[c.From]++
	}

	for _, name := range g.nodeOrder {
		if outgoing[name] == 0 {
			add("node %q has no outgoing edge; route it to another node or to End", name)
		}
	}

	interrupts := make([]string, 0, len(g.interrupts))
	for n := range g.interrupts {
		interrupts = append(interrupts, n)
	}
	sort.Strings(interrupts)
	for _, n := range interrupts {
		if _, ok := g.nodes[n]; !ok {
			add("interrupt node %q is not a registered node", n)
		}
		if f, ok := g.decisions[n]; ok && g.reducers.Policy(f) != Transient {
			add("interrupt node %q is bound to %q, which is not a transient field", n, f)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &EngineError{
		Code:    CodeConfiguration,
		Message: fmt.Sprintf("graph %q: %v", g.name, errors.Join(problems...)),
		Err:     ErrConfiguration,
	}
}

// staticTargets returns static edge targets of from in registration order.
func (g *Graph) staticTargets(from string) []string {
	var out []string
	for _, e := range g.edges {
		if e.From == from {
			out = append(out, e.To)
		}
	}
	return out
}

// conditionalEdges returns the conditional edges leaving from.
func (g *Graph) conditionalEdges(from string) []ConditionalEdge {
	var out []ConditionalEdge
	for _, c := range g.conditional {
		if c.From == from {
			out = append(out, c)
		}
	}
	return out
}

// barrierPredecessors returns the static predecessors of node when it has
// two or more, i.e. when it is a fan-in barrier. Otherwise nil.
func (g *Graph) barrierPredecessors(node string) []string {
	var preds []string
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.To == node && !seen[e.From] {
			seen[e.From] = true
			preds = append(preds, e.From)
		}
	}
	if len(preds) < 2 {
		return nil
	}
	return preds
}
