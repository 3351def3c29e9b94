package pipeline

import (
	"context"
	"strings"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
)

// maxContextChars bounds the interview material embedded in one prompt.
const maxContextChars = 60000

// Inputs is the interview material every pipeline starts from.
type Inputs struct {
	Company     string
	Transcripts []string
	Notes       string
}

func readInputs(s graph.State) Inputs {
	var in Inputs
	in.Company, _ = graph.Field[string](s, FieldCompanyName)
	in.Transcripts, _ = graph.Field[[]string](s, FieldTranscripts)
	in.Notes, _ = graph.Field[string](s, FieldNotes)
	return in
}

// Context renders the inputs as prompt material, truncated to a fixed budget.
func (in Inputs) Context() string {
	var b strings.Builder
	b.WriteString("Company: ")
	b.WriteString(in.Company)
	b.WriteString("\n")
	if in.Notes != "" {
		b.WriteString("\nConsultant notes:\n")
		b.WriteString(in.Notes)
		b.WriteString("\n")
	}
	for i, t := range in.Transcripts {
		if b.Len() >= maxContextChars {
			break
		}
		b.WriteString("\nInterview ")
		b.WriteString(itoa(i + 1))
		b.WriteString(":\n")
		b.WriteString(t)
		b.WriteString("\n")
	}

	out := b.String()
	if len(out) > maxContextChars {
		out = out[:maxContextChars]
	}
	return out
}

// loadInputs is the entry node shared by all pipelines. The company name is
// required; a run without one fails. Missing transcripts and notes are
// recorded and the run continues on whatever material exists.
func loadInputs(name string) graph.NodeFunc {
	return func(ctx context.Context, s graph.State, cfg graph.Config) graph.NodeResult {
		in := readInputs(s)
		company := strings.TrimSpace(in.Company)
		if company == "" {
			company = strings.TrimSpace(cfg.String(ConfigCompanyName, ""))
		}
		if company == "" {
			return graph.Fail(name, graph.CodeMissingRequiredData, "company_name is required")
		}

		var u graph.Update
		u.Set(FieldCompanyName, company)
		u.Set(FieldStage, "inputs_loaded")

		transcripts := make([]string, 0, len(in.Transcripts))
		for _, t := range in.Transcripts {
			if strings.TrimSpace(t) != "" {
				transcripts = append(transcripts, t)
			}
		}
		if len(transcripts) == 0 {
			u.RecordError(graph.NodeError{Node: name, Code: CodeMissingInput, Message: "no interview transcripts provided"})
		}
		u.Set(FieldTranscripts, transcripts)

		if strings.TrimSpace(in.Notes) == "" {
			u.RecordError(graph.NodeError{Node: name, Code: CodeMissingInput, Message: "no consultant notes provided"})
		}
		return graph.NodeResult{Delta: u}
	}
}
