package graph

import "fmt"

// End is the terminal marker. Routing to End finishes the branch.
const End = "__end__"

// Edge is a static link: when From completes, To is scheduled.
//
// Several static edges leaving one node fan out; several static edges
// entering one node make it a barrier that waits for all of them.
type Edge struct {
	// From is the source node ID.
	From string

	// To is the destination node ID or End.
	To string
}

// Predicate tests state for a routing decision. Predicates read state only;
// they never perform I/O.
type Predicate func(state State) bool

// Router chooses exactly one label from a fixed set based on state.
//
// Labels must list every value Route can return. The graph refuses to build
// unless its label map covers all of them, and the executor fails the run if
// Route ever returns a label outside the list.
type Router struct {
	// Name identifies the router in errors and events.
	Name string

	// Labels is the complete set of values Route can return.
	Labels []string

	// Route picks the label. It is evaluated exactly once per completion of
	// the source node.
	Route func(state State) string
}

// Branch is one candidate of a first-match router.
type Branch struct {
	Label string
	When  Predicate
}

// FirstMatch builds a Router that returns the label of the first branch whose
// predicate holds, or fallback if none do. Ambiguity between branches is
// resolved by their order here, never arbitrarily.
//
// Example:
//
//	router := graph.FirstMatch("needs_action", "continue_in_place",
//	    graph.Branch{Label: "advance", When: func(s graph.State) bool {
//	        action, _ := graph.Field[string](s, "needs_action")
//	        return action == "advance"
//	    }},
//	)
func FirstMatch(name, fallback string, branches ...Branch) Router {
	labels := make([]string, 0, len(branches)+1)
	seen := make(map[string]bool)
	for _, b := range branches {
		if !seen[b.Label] {
			seen[b.Label] = true
			labels = append(labels, b.Label)
		}
	}
	if !seen[fallback] {
		labels = append(labels, fallback)
	}

	return Router{
		Name:   name,
		Labels: labels,
		Route: func(state State) string {
			for _, b := range branches {
				if b.When != nil && b.When(state) {
					return b.Label
				}
			}
			return fallback
		},
	}
}

// FieldRouter builds a Router that returns the string value of field when it
// is one of labels, and fallback otherwise.
func FieldRouter(field, fallback string, labels ...string) Router {
	branches := make([]Branch, 0, len(labels))
	for _, label := range labels {
		label := label
		branches = append(branches, Branch{
			Label: label,
			When: func(s State) bool {
				v, err := Field[string](s, field)
				return err == nil && v == label
			},
		})
	}
	return FirstMatch(field, fallback, branches...)
}

// ConditionalEdge links From to one of several targets via a Router.
type ConditionalEdge struct {
	From   string
	Router Router

	// Targets maps each router label to a node ID or End.
	Targets map[string]string
}

// resolve evaluates the router and maps the label to its target.
func (c ConditionalEdge) resolve(state State) (string, error) {
	label := c.Router.Route(state)
	target, ok := c.Targets[label]
	if !ok {
		return "", fmt.Errorf("router %q on node %q returned undeclared label %q",
			c.Router.Name, c.From, label)
	}
	return target, nil
}
