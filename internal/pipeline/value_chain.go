package pipeline

import (
	"context"
	"fmt"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
)

// NameValueChain is the registry name of the value chain pipeline.
const NameValueChain = "value_chain"

// Value chain nodes.
const (
	NodeExtractTeams      = "extract_teams"
	NodeValidateTeams     = "validate_teams"
	NodePlanMapping       = "plan_mapping"
	NodeExtractActivities = "extract_activities"
	NodeExtractFrictions  = "extract_frictions"
	NodeMapValueChain     = "map_value_chain"
)

// unassignedTeam collects activities and frictions whose team is unknown.
const unassignedTeam = "unassigned"

// TeamChain is one row of the value chain: a validated team with the
// activities it performs and the frictions it reports.
type TeamChain struct {
	Team       gate.Item   `json:"team"`
	Activities []gate.Item `json:"activities"`
	Frictions  []gate.Item `json:"frictions"`
}

func teamsGate() *gate.Gate {
	return &gate.Gate{
		Name:          NodeValidateTeams,
		DecisionField: FieldTeamsDecision,
		Lanes: []gate.Lane{{
			ValidatedField: FieldValidatedTeams,
			RejectedField:  FieldRejectedTeams,
			IDPrefix:       "team",
		}},
		FeedbackField: FieldTeamsFeedback,
		ActionField:   FieldTeamsAction,
	}
}

type valueChain struct {
	gen *Generator
}

// ValueChain builds the value chain graph:
//
//	load_inputs -> extract_teams -> [validate_teams]
//	    continue_in_place -> extract_teams
//	    advance           -> plan_mapping -> extract_activities \
//	                                      -> extract_frictions   -> map_value_chain -> END
func ValueChain(deps Deps) *graph.Graph {
	p := &valueChain{gen: deps.generator()}
	teams := teamsGate()

	g := graph.NewGraph(NameValueChain)
	teams.Register(g)
	g.Register(FieldActivities, graph.Append)
	g.Register(FieldFrictions, graph.Append)

	g.AddNode(NodeLoadInputs, loadInputs(NodeLoadInputs))
	g.AddNode(NodeExtractTeams, graph.NodeFunc(p.extractTeams))
	g.AddNode(teams.Name, teams)
	g.AddNode(NodePlanMapping, graph.NodeFunc(p.planMapping))
	g.AddNode(NodeExtractActivities, graph.NodeFunc(p.extractActivities))
	g.AddNode(NodeExtractFrictions, graph.NodeFunc(p.extractFrictions))
	g.AddNode(NodeMapValueChain, graph.NodeFunc(p.mapValueChain))

	g.SetEntryPoint(NodeLoadInputs)
	g.AddEdge(NodeLoadInputs, NodeExtractTeams)
	g.AddEdge(NodeExtractTeams, teams.Name)
	g.AddConditionalEdge(teams.Name, teams.Router(), map[string]string{
		gate.ActionAdvance:  NodePlanMapping,
		gate.ActionContinue: NodeExtractTeams,
	})
	g.AddEdge(NodePlanMapping, NodeExtractActivities)
	g.AddEdge(NodePlanMapping, NodeExtractFrictions)
	g.AddEdge(NodeExtractActivities, NodeMapValueChain)
	g.AddEdge(NodeExtractFrictions, NodeMapValueChain)
	g.AddEdge(NodeMapValueChain, graph.End)
	return g
}

func (p *valueChain) extractTeams(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	validated, _ := graph.Field[[]gate.Item](s, FieldValidatedTeams)
	rejected, _ := graph.Field[[]gate.Item](s, FieldRejectedTeams)
	feedback, _ := graph.Field[string](s, FieldTeamsFeedback)

	task := "List the teams or departments of the company mentioned in the interviews, with their mission. " +
		"Do not repeat validated or rejected teams. " + itemFormat
	messages := newPrompt(task, readInputs(s)).
		items("Validated teams", validated).
		items("Rejected teams", rejected).
		text("Reviewer feedback", feedback).
		messages()

	var u graph.Update
	u.Set(FieldStage, NameValueChain)
	items, err := p.gen.Items(ctx, NodeExtractTeams, messages)
	if err != nil {
		if err := degrade(ctx, &u, NodeExtractTeams, err); err != nil {
			return graph.NodeResult{Err: err}
		}
	}
	u.Set(FieldProposedTeams, propose(items, "team", validated, rejected))
	return graph.NodeResult{Delta: u}
}

// planMapping fixes the list of teams to map and clears activities and
// frictions left by an earlier mapping of the same thread.
func (p *valueChain) planMapping(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	teams, _ := graph.Field[[]gate.Item](s, FieldValidatedTeams)

	var u graph.Update
	u.Set(FieldStage, "mapping")
	if len(teams) == 0 {
		u.RecordError(graph.NodeError{Node: NodePlanMapping, Code: CodeMissingInput, Message: "no validated teams to map"})
	}
	plan := make([]string, 0, len(teams))
	for _, t := range teams {
		plan = append(plan, t.ID)
	}
	u.Set(FieldMappingPlan, plan)
	u.Reset(FieldActivities)
	u.Reset(FieldFrictions)
	return graph.NodeResult{Delta: u}
}

func (p *valueChain) extractActivities(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	task := "For each team below, list the main activities it performs in the company's value chain. " +
		`Set "category" to the team id in brackets. ` + teamItemFormat
	return p.perTeam(ctx, s, NodeExtractActivities, FieldActivities, "act", task)
}

func (p *valueChain) extractFrictions(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	task := "For each team below, list the frictions, pain points and manual workarounds its members describe. " +
		`Set "category" to the team id in brackets. ` + teamItemFormat
	return p.perTeam(ctx, s, NodeExtractFrictions, FieldFrictions, "fr", task)
}

const teamItemFormat = `Return a JSON object {"items": [{"id": "", "title": "...", "description": "...", "category": "team-1"}]}.`

// perTeam generates items tagged with a team id and appends them to field.
func (p *valueChain) perTeam(ctx context.Context, s graph.State, node, field, prefix, task string) graph.NodeResult {
	teams, _ := graph.Field[[]gate.Item](s, FieldValidatedTeams)

	var u graph.Update
	if len(teams) == 0 {
		u.Set(field, []gate.Item{})
		return graph.NodeResult{Delta: u}
	}

	messages := newPrompt(task, readInputs(s)).items("Teams", teams).messages()
	items, err := p.gen.Items(ctx, node, messages)
	if err != nil {
		if err := degrade(ctx, &u, node, err); err != nil {
			return graph.NodeResult{Err: err}
		}
	}

	known := gate.IDs(teams)
	for i := range items {
		if !known[items[i].Category] {
			items[i].Category = unassignedTeam
		}
	}
	u.Set(field, gate.AssignIDs(nil, items, prefix))
	return graph.NodeResult{Delta: u}
}

// mapValueChain groups activities and frictions by team, in mapping plan
// order. Items tagged with no known team go to a trailing unassigned row.
func (p *valueChain) mapValueChain(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	teams, _ := graph.Field[[]gate.Item](s, FieldValidatedTeams)
	plan, _ := graph.Field[[]string](s, FieldMappingPlan)
	activities, _ := graph.Field[[]gate.Item](s, FieldActivities)
	frictions, _ := graph.Field[[]gate.Item](s, FieldFrictions)

	byID := make(map[string]gate.Item, len(teams))
	for _, t := range teams {
		byID[t.ID] = t
	}

	chain := make([]TeamChain, 0, len(plan)+1)
	index := make(map[string]int, len(plan)+1)
	for _, id := range plan {
		team, ok := byID[id]
		if !ok {
			continue
		}
		index[id] = len(chain)
		chain = append(chain, TeamChain{Team: team, Activities: []gate.Item{}, Frictions: []gate.Item{}})
	}
	row := func(team string) *TeamChain {
		i, ok := index[team]
		if !ok {
			i = len(chain)
			index[team] = i
			chain = append(chain, TeamChain{
				Team:       gate.Item{ID: unassignedTeam, Title: "Unassigned"},
				Activities: []gate.Item{},
				Frictions:  []gate.Item{},
			})
		}
		return &chain[i]
	}

	planned := len(chain)
	unassigned := 0
	team := func(category string) string {
		if i, ok := index[category]; ok && i < planned {
			return category
		}
		unassigned++
		return unassignedTeam
	}
	for _, a := range activities {
		a.Category = team(a.Category)
		r := row(a.Category)
		r.Activities = append(r.Activities, a)
	}
	for _, f := range frictions {
		f.Category = team(f.Category)
		r := row(f.Category)
		r.Frictions = append(r.Frictions, f)
	}

	var u graph.Update
	if unassigned > 0 {
		u.RecordError(graph.NodeError{
			Node:    NodeMapValueChain,
			Code:    CodeInvalidOutput,
			Message: fmt.Sprintf("%d items reference no validated team", unassigned),
		})
	}

	u.Set(FieldStage, "value_chain_ready")
	u.Set(FieldValueChain, chain)
	return graph.NodeResult{Delta: u}
}
