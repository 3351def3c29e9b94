package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
)

// NameExecutiveSummary is the registry name of the executive summary pipeline.
const NameExecutiveSummary = "executive_summary"

// Executive summary nodes.
const (
	NodeIdentifyChallenges      = "identify_challenges"
	NodeAssessMaturity          = "assess_maturity"
	NodeExtractQuotes           = "extract_quotes"
	NodeDraftRecommendations    = "draft_recommendations"
	NodeValidateRecommendations = "validate_recommendations"
	NodeComposeSummary          = "compose_summary"
)

// Maturity is the AI maturity assessment, on a 1 to 5 scale.
type Maturity struct {
	Level   int    `json:"level"`
	Summary string `json:"summary"`
}

// Validate rejects levels outside the scale.
func (m Maturity) Validate() error {
	if m.Level < 1 || m.Level > 5 {
		return fmt.Errorf("maturity level %d out of range", m.Level)
	}
	return nil
}

func recommendationsGate() *gate.Gate {
	return &gate.Gate{
		Name:          NodeValidateRecommendations,
		DecisionField: FieldRecommendationsDecision,
		Lanes: []gate.Lane{{
			ValidatedField: FieldValidatedRecommendations,
			RejectedField:  FieldRejectedRecommendations,
			IDPrefix:       "rec",
		}},
		FeedbackField: FieldRecommendationsFeedback,
		ActionField:   FieldRecommendationsAction,
	}
}

type executiveSummary struct {
	gen *Generator
}

// ExecutiveSummary builds the executive summary graph. The three analysis
// nodes run in one superstep and draft_recommendations waits for all of them.
//
//	load_inputs -> identify_challenges \
//	            -> assess_maturity      -> draft_recommendations -> [validate_recommendations]
//	            -> extract_quotes      /
//	    continue_in_place -> draft_recommendations
//	    advance           -> compose_summary -> END
func ExecutiveSummary(deps Deps) *graph.Graph {
	p := &executiveSummary{gen: deps.generator()}
	recs := recommendationsGate()

	g := graph.NewGraph(NameExecutiveSummary)
	recs.Register(g)

	g.AddNode(NodeLoadInputs, loadInputs(NodeLoadInputs))
	g.AddNode(NodeIdentifyChallenges, graph.NodeFunc(p.identifyChallenges))
	g.AddNode(NodeAssessMaturity, graph.NodeFunc(p.assessMaturity))
	g.AddNode(NodeExtractQuotes, graph.NodeFunc(p.extractQuotes))
	g.AddNode(NodeDraftRecommendations, graph.NodeFunc(p.draftRecommendations))
	g.AddNode(recs.Name, recs)
	g.AddNode(NodeComposeSummary, graph.NodeFunc(p.composeSummary))

	g.SetEntryPoint(NodeLoadInputs)
	for _, branch := range []string{NodeIdentifyChallenges, NodeAssessMaturity, NodeExtractQuotes} {
		g.AddEdge(NodeLoadInputs, branch)
		g.AddEdge(branch, NodeDraftRecommendations)
	}
	g.AddEdge(NodeDraftRecommendations, recs.Name)
	g.AddConditionalEdge(recs.Name, recs.Router(), map[string]string{
		gate.ActionAdvance:  NodeComposeSummary,
		gate.ActionContinue: NodeDraftRecommendations,
	})
	g.AddEdge(NodeComposeSummary, graph.End)
	return g
}

func (p *executiveSummary) identifyChallenges(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	task := "List the main business challenges the company faces, as stated by the interviewees. " + itemFormat
	return p.itemsInto(ctx, NodeIdentifyChallenges, FieldChallenges, newPrompt(task, readInputs(s)))
}

func (p *executiveSummary) extractQuotes(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	task := "Extract up to eight verbatim quotes that best illustrate the company's situation. " +
		"Put the quote in title and the speaker's role in description. " + itemFormat
	return p.itemsInto(ctx, NodeExtractQuotes, FieldQuotes, newPrompt(task, readInputs(s)))
}

// itemsInto generates a list into an overwrite field. Fan-out branches
// write only their own field so their updates commute.
func (p *executiveSummary) itemsInto(ctx context.Context, node, field string, pr *prompt) graph.NodeResult {
	var u graph.Update
	items, err := p.gen.Items(ctx, node, pr.messages())
	if err != nil {
		if err := degrade(ctx, &u, node, err); err != nil {
			return graph.NodeResult{Err: err}
		}
	}
	u.Set(field, gate.AssignIDs(nil, items, strings.TrimSuffix(field, "s")))
	return graph.NodeResult{Delta: u}
}

func (p *executiveSummary) assessMaturity(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	task := `Assess the company's AI maturity on a scale from 1 (no data culture) to 5 (AI in production). ` +
		`Return a JSON object {"level": 1, "summary": "..."}.`
	var u graph.Update
	var m Maturity
	if err := p.gen.Object(ctx, NodeAssessMaturity, newPrompt(task, readInputs(s)).messages(), &m); err != nil {
		if err := degrade(ctx, &u, NodeAssessMaturity, err); err != nil {
			return graph.NodeResult{Err: err}
		}
		m = Maturity{}
	}
	u.Set(FieldMaturity, m)
	return graph.NodeResult{Delta: u}
}

// draftRecommendations proposes recommendations until the validated
// threshold is met; past it the proposal list is emptied without a call.
func (p *executiveSummary) draftRecommendations(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	threshold := cfg.Int(ConfigValidatedThreshold, DefaultValidatedThreshold)
	perRound := cfg.Int(ConfigItemsPerCategory, DefaultItemsPerCategory)
	validated, _ := graph.Field[[]gate.Item](s, FieldValidatedRecommendations)
	rejected, _ := graph.Field[[]gate.Item](s, FieldRejectedRecommendations)

	var u graph.Update
	u.Set(FieldStage, NameExecutiveSummary)
	if len(validated) >= threshold {
		u.Set(FieldProposedRecommendations, []gate.Item{})
		return graph.NodeResult{Delta: u}
	}

	challenges, _ := graph.Field[[]gate.Item](s, FieldChallenges)
	quotes, _ := graph.Field[[]gate.Item](s, FieldQuotes)
	maturity, _ := graph.Field[Maturity](s, FieldMaturity)
	feedback, _ := graph.Field[string](s, FieldRecommendationsFeedback)

	task := fmt.Sprintf("Draft %d recommendations addressing the challenges below, suited to the company's maturity. "+
		"Do not repeat validated or rejected recommendations. %s", perRound, itemFormat)
	messages := newPrompt(task, readInputs(s)).
		items("Challenges", challenges).
		text("AI maturity", maturityText(maturity)).
		items("Quotes", quotes).
		items("Validated recommendations", validated).
		items("Rejected recommendations", rejected).
		text("Reviewer feedback", feedback).
		messages()

	items, err := p.gen.Items(ctx, NodeDraftRecommendations, messages)
	if err != nil {
		if err := degrade(ctx, &u, NodeDraftRecommendations, err); err != nil {
			return graph.NodeResult{Err: err}
		}
	}
	u.Set(FieldProposedRecommendations, propose(items, "rec", validated, rejected))
	return graph.NodeResult{Delta: u}
}

func (p *executiveSummary) composeSummary(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
	in := readInputs(s)
	challenges, _ := graph.Field[[]gate.Item](s, FieldChallenges)
	recs, _ := graph.Field[[]gate.Item](s, FieldValidatedRecommendations)
	maturity, _ := graph.Field[Maturity](s, FieldMaturity)

	task := "Write a one page executive summary in Markdown for the company's leadership, " +
		"built only from the validated recommendations and the analysis below. Answer in plain Markdown, not JSON."
	messages := newPrompt(task, in).
		items("Challenges", challenges).
		text("AI maturity", maturityText(maturity)).
		items("Validated recommendations", recs).
		messages()

	var u graph.Update
	u.Set(FieldStage, "summary_ready")
	text, err := p.gen.Text(ctx, NodeComposeSummary, messages)
	if err != nil {
		if err := degrade(ctx, &u, NodeComposeSummary, err); err != nil {
			return graph.NodeResult{Err: err}
		}
		text = fallbackSummary(in.Company, challenges, maturity, recs)
	}
	u.Set(FieldExecutiveSummary, text)
	return graph.NodeResult{Delta: u}
}

func maturityText(m Maturity) string {
	if m.Level == 0 {
		return ""
	}
	return fmt.Sprintf("Level %d/5. %s", m.Level, m.Summary)
}

// fallbackSummary renders the validated material without the model.
func fallbackSummary(company string, challenges []gate.Item, m Maturity, recs []gate.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Executive summary: %s\n", company)
	if len(challenges) > 0 {
		b.WriteString("\n## Challenges\n\n")
		for _, c := range challenges {
			fmt.Fprintf(&b, "- %s\n", c.Title)
		}
	}
	if t := maturityText(m); t != "" {
		b.WriteString("\n## AI maturity\n\n")
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString("\n## Recommendations\n\n")
	if len(recs) == 0 {
		b.WriteString("No recommendation was validated.\n")
	}
	for _, r := range recs {
		fmt.Fprintf(&b, "- **%s**", r.Title)
		if r.Description != "" {
			fmt.Fprintf(&b, ": %s", r.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
