package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
)

// Lane routes decided items of one category into its accumulators.
type Lane struct {
	// Category selects items by Item.Category. Empty matches every item not
	// claimed by an earlier lane.
	Category string

	// ValidatedField and RejectedField are Append accumulators.
	ValidatedField string
	RejectedField  string

	// CountField, when set, receives the validated total (overwrite).
	CountField string

	// IDPrefix is used for items that arrive without an identifier.
	IDPrefix string
}

// Gate is the human-validation node. Register marks it interrupt-before,
// bound to its decision field; follow it with a conditional edge on Router().
//
// Example:
//
//	needs := &gate.Gate{
//	    Name:          "human_validation",
//	    DecisionField: "validation_result",
//	    Lanes:         []gate.Lane{{ValidatedField: "validated_needs", RejectedField: "rejected_needs", IDPrefix: "need"}},
//	    FeedbackField: "needs_feedback",
//	    ActionField:   "needs_action",
//	}
//	needs.Register(g)
//	g.AddNode(needs.Name, needs)
//	g.AddConditionalEdge(needs.Name, needs.Router(), map[string]string{
//	    gate.ActionAdvance:  "generate_use_cases",
//	    gate.ActionContinue: "analyze_needs",
//	})
type Gate struct {
	Name          string
	DecisionField string
	Lanes         []Lane
	FeedbackField string
	ActionField   string

	// Actions lists accepted user actions. Defaults to advance and
	// continue_in_place.
	Actions []string
}

// Register declares the gate's fields on g and makes the executor pause
// before the gate until its own decision field is supplied.
func (gt *Gate) Register(g *graph.Graph) {
	g.Register(gt.DecisionField, graph.Transient)
	g.InterruptFor(gt.Name, gt.DecisionField)
	for _, lane := range gt.Lanes {
		g.Register(lane.ValidatedField, graph.Append)
		if lane.RejectedField != "" {
			g.Register(lane.RejectedField, graph.Append)
		}
	}
}

// Router returns the router for the conditional edge after the gate.
func (gt *Gate) Router() graph.Router {
	actions := gt.actions()
	return graph.FieldRouter(gt.ActionField, ActionContinue, actions...)
}

func (gt *Gate) actions() []string {
	if len(gt.Actions) > 0 {
		return gt.Actions
	}
	return []string{ActionAdvance, ActionContinue}
}

// Run implements graph.Node. Without a decision it returns an empty update
// so the interrupt guard pauses the run again.
func (gt *Gate) Run(ctx context.Context, state graph.State, cfg graph.Config) graph.NodeResult {
	if !state.Has(gt.DecisionField) {
		return graph.NodeResult{}
	}

	var u graph.Update
	d, err := graph.Field[Decision](state, gt.DecisionField)
	if err != nil {
		u.RecordError(graph.NodeError{Node: gt.Name, Code: graph.CodeInvalidPayload, Message: err.Error()})
		u.Set(gt.ActionField, ActionContinue)
		u.Clear(gt.DecisionField)
		return graph.NodeResult{Delta: u}
	}

	validated, unrouted := split(gt.Lanes, d.Validated)
	rejected, unroutedRejected := split(gt.Lanes, d.Rejected)
	gt.recordUnrouted(&u, "validated", unrouted)
	gt.recordUnrouted(&u, "rejected", unroutedRejected)
	for i, lane := range gt.Lanes {
		existing, err := graph.Field[[]Item](state, lane.ValidatedField)
		if err != nil {
			return graph.NodeResult{Err: &graph.NodeError{Node: gt.Name, Code: graph.CodeMergeFailed, Message: err.Error(), Cause: err}}
		}
		added := AssignIDs(existing, validated[i], lane.IDPrefix)
		u.Set(lane.ValidatedField, added)
		if lane.CountField != "" {
			u.Set(lane.CountField, len(existing)+len(added))
		}

		if lane.RejectedField == "" {
			continue
		}
		prior, err := graph.Field[[]Item](state, lane.RejectedField)
		if err != nil {
			return graph.NodeResult{Err: &graph.NodeError{Node: gt.Name, Code: graph.CodeMergeFailed, Message: err.Error(), Cause: err}}
		}
		u.Set(lane.RejectedField, MergeRejected(prior, rejected[i], lane.IDPrefix))
	}

	if gt.FeedbackField != "" {
		u.Set(gt.FeedbackField, d.Feedback)
	}

	action := d.UserAction
	if !contains(gt.actions(), action) {
		u.RecordError(graph.NodeError{
			Node:    gt.Name,
			Code:    CodeUnknownAction,
			Message: fmt.Sprintf("unknown user action %q, staying in place", action),
		})
		action = ActionContinue
	}
	u.Set(gt.ActionField, action)
	u.Clear(gt.DecisionField)

	return graph.NodeResult{Delta: u}
}

// split assigns each item to the first lane whose category matches and
// returns the items no lane accepts.
func split(lanes []Lane, items []Item) ([][]Item, []Item) {
	out := make([][]Item, len(lanes))
	var unrouted []Item
	for _, it := range items {
		routed := false
		for i, lane := range lanes {
			if lane.Category == "" || lane.Category == it.Category {
				out[i] = append(out[i], it)
				routed = true
				break
			}
		}
		if !routed {
			unrouted = append(unrouted, it)
		}
	}
	return out, unrouted
}

// recordUnrouted records one recoverable error per item whose category
// matches no lane.
func (gt *Gate) recordUnrouted(u *graph.Update, verdict string, items []Item) {
	for _, it := range items {
		u.RecordError(graph.NodeError{
			Node: gt.Name,
			Code: CodeUnroutedItem,
			Message: fmt.Sprintf("%s item %s %q has category %q, expected one of %s",
				verdict, it.ID, it.Title, it.Category, strings.Join(gt.categories(), ", ")),
		})
	}
}

func (gt *Gate) categories() []string {
	out := make([]string, 0, len(gt.Lanes))
	for _, lane := range gt.Lanes {
		out = append(out, lane.Category)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
