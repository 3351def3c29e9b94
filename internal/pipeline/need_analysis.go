package pipeline

import (
	"context"
	"fmt"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
)

// NameNeedAnalysis is the registry name of the need analysis pipeline.
const NameNeedAnalysis = "need_analysis"

// Need analysis nodes.
const (
	NodeLoadInputs       = "load_inputs"
	NodeAnalyzeNeeds     = "analyze_needs"
	NodeHumanValidation  = "human_validation"
	NodeGenerateUseCases = "generate_use_cases"
	NodeValidateUseCases = "validate_use_cases"
)

func needsGate() *gate.Gate {
	return &gate.Gate{
		Name:          NodeHumanValidation,
		DecisionField: FieldNeedsDecision,
		Lanes: []gate.Lane{{
			ValidatedField: FieldValidatedNeeds,
			RejectedField:  FieldRejectedNeeds,
			IDPrefix:       "need",
		}},
		FeedbackField: FieldNeedsFeedback,
		ActionField:   FieldNeedsAction,
	}
}

func useCaseGate() *gate.Gate {
	return &gate.Gate{
		Name:          NodeValidateUseCases,
		DecisionField: FieldUseCaseDecision,
		Lanes: []gate.Lane{
			{
				Category:       CategoryQuickWin,
				ValidatedField: FieldValidatedQuickWins,
				RejectedField:  FieldRejectedQuickWins,
				CountField:     FieldQuickWinsCount,
				IDPrefix:       "qw",
			},
			{
				Category:       CategoryStructuration,
				ValidatedField: FieldValidatedStructuration,
				RejectedField:  FieldRejectedStructuration,
				CountField:     FieldStructurationCount,
				IDPrefix:       "st",
			},
		},
		FeedbackField: FieldUseCaseFeedback,
		ActionField:   FieldUseCaseAction,
	}
}

// useCaseCategory pairs a proposal field with the gate lane it is judged in.
type useCaseCategory struct {
	name          string
	proposedField string
	lane          gate.Lane
	guidance      string
}

func useCaseCategories() []useCaseCategory {
	lanes := useCaseGate().Lanes
	return []useCaseCategory{
		{
			name:          CategoryQuickWin,
			proposedField: FieldProposedQuickWins,
			lane:          lanes[0],
			guidance:      "quick wins: AI use cases deliverable within three months with existing data",
		},
		{
			name:          CategoryStructuration,
			proposedField: FieldProposedStructuration,
			lane:          lanes[1],
			guidance:      "structuring projects: longer AI initiatives that need new data or processes",
		},
	}
}

type needAnalysis struct {
	gen *Generator
}

// NeedAnalysis builds the need analysis graph:
//
//	load_inputs -> analyze_needs -> [human_validation]
//	    continue_in_place -> analyze_needs
//	    advance           -> generate_use_cases -> [validate_use_cases]
//	        continue_in_place -> generate_use_cases
//	        advance           -> END
func NeedAnalysis(deps Deps) *graph.Graph {
	p := &needAnalysis{gen: deps.generator()}
	needs := needsGate()
	useCases := useCaseGate()

	g := graph.NewGraph(NameNeedAnalysis)
	needs.Register(g)
	useCases.Register(g)

	g.AddNode(NodeLoadInputs, loadInputs(NodeLoadInputs))
	g.AddNode(NodeAnalyzeNeeds, graph.NodeFunc(p.analyzeNeeds))
	g.AddNode(needs.Name, needs)
	g.AddNode(NodeGenerateUseCases, graph.NodeFunc(p.generateUseCases))
	g.AddNode(useCases.Name, useCases)

	g.SetEntryPoint(NodeLoadInputs)
	g.AddEdge(NodeLoadInputs, NodeAnalyzeNeeds)
	g.AddEdge(NodeAnalyzeNeeds, needs.Name)
	g.AddConditionalEdge(needs.Name, needs.Router(), map[string]string{
		gate.ActionAdvance:  NodeGenerateUseCases,
		gate.ActionContinue: NodeAnalyzeNeeds,
	})
	g.AddEdge(NodeGenerateUseCases, useCases.Name)
	g.AddConditionalEdge(useCases.Name, useCases.Router(), map[string]string{
		gate.ActionAdvance:  graph.End,
		gate.ActionContinue: NodeGenerateUseCases,
	})
	return g
}

func (p *needAnalysis) analyzeNeeds(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	validated, _ := graph.Field[[]gate.Item](s, FieldValidatedNeeds)
	rejected, _ := graph.Field[[]gate.Item](s, FieldRejectedNeeds)
	feedback, _ := graph.Field[string](s, FieldNeedsFeedback)

	count := cfg.Int(ConfigNeedsPerRound, DefaultNeedsPerRound)
	task := fmt.Sprintf("Identify %d distinct business needs expressed in the interviews below. "+
		"Do not repeat validated or rejected needs. %s", count, itemFormat)
	messages := newPrompt(task, readInputs(s)).
		items("Validated needs", validated).
		items("Rejected needs", rejected).
		text("Reviewer feedback", feedback).
		messages()

	var u graph.Update
	u.Set(FieldStage, NameNeedAnalysis)

	items, err := p.gen.Items(ctx, NodeAnalyzeNeeds, messages)
	if err != nil {
		if err := degrade(ctx, &u, NodeAnalyzeNeeds, err); err != nil {
			return graph.NodeResult{Err: err}
		}
	}
	u.Set(FieldProposedNeeds, propose(items, "need", validated, rejected))
	return graph.NodeResult{Delta: u}
}

// generateUseCases proposes use cases per category. A category that already
// holds the threshold of validated items is skipped without calling the
// model; when every category is full the node makes no call at all.
func (p *needAnalysis) generateUseCases(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	threshold := cfg.Int(ConfigValidatedThreshold, DefaultValidatedThreshold)
	perCategory := cfg.Int(ConfigItemsPerCategory, DefaultItemsPerCategory)
	needs, _ := graph.Field[[]gate.Item](s, FieldValidatedNeeds)
	feedback, _ := graph.Field[string](s, FieldUseCaseFeedback)

	var u graph.Update
	u.Set(FieldStage, "use_cases")
	if len(needs) == 0 {
		u.RecordError(graph.NodeError{Node: NodeGenerateUseCases, Code: CodeMissingInput, Message: "no validated needs to derive use cases from"})
	}

	for _, cat := range useCaseCategories() {
		validated, _ := graph.Field[[]gate.Item](s, cat.lane.ValidatedField)
		rejected, _ := graph.Field[[]gate.Item](s, cat.lane.RejectedField)
		if validatedCount(s, cat.lane) >= threshold {
			u.Set(cat.proposedField, []gate.Item{})
			continue
		}

		task := fmt.Sprintf("Propose %d %s. Each must address one of the validated needs. "+
			"Do not repeat validated or rejected use cases. %s", perCategory, cat.guidance, itemFormat)
		messages := newPrompt(task, readInputs(s)).
			items("Validated needs", needs).
			items("Validated use cases", validated).
			items("Rejected use cases", rejected).
			text("Reviewer feedback", feedback).
			messages()

		items, err := p.gen.Items(ctx, NodeGenerateUseCases, messages)
		if err != nil {
			if err := degrade(ctx, &u, NodeGenerateUseCases, err); err != nil {
				return graph.NodeResult{Err: err}
			}
		}
		for i := range items {
			items[i].Category = cat.name
		}
		u.Set(cat.proposedField, propose(items, cat.lane.IDPrefix, validated, rejected))
	}
	return graph.NodeResult{Delta: u}
}

// validatedCount is the number of validated items in a lane: the count field
// when the gate maintains one, never less than the accumulator length.
func validatedCount(s graph.State, lane gate.Lane) int {
	items, _ := graph.Field[[]gate.Item](s, lane.ValidatedField)
	n := len(items)
	if lane.CountField != "" {
		if c, err := graph.Field[int](s, lane.CountField); err == nil && c > n {
			n = c
		}
	}
	return n
}

// propose drops items already decided on and gives the rest identifiers that
// do not collide with decided ones.
func propose(items []gate.Item, prefix string, validated, rejected []gate.Item) []gate.Item {
	decided := make([]gate.Item, 0, len(validated)+len(rejected))
	decided = append(decided, validated...)
	decided = append(decided, rejected...)
	return gate.AssignIDs(decided, gate.Exclude(items, decided), prefix)
}
