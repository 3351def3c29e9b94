package pipeline

import (
	"fmt"
	"strings"

	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
	"github.com/aikogroup/aiko-gpt-sub001/graph/model"
)

const systemPrompt = "You are an AI transformation consultant. Answer only with JSON unless asked otherwise."

const itemFormat = `Return a JSON object {"items": [{"id": "", "title": "...", "description": "..."}]}.`

// prompt assembles the messages for one generation call.
type prompt struct {
	task     string
	inputs   Inputs
	sections []string
}

func newPrompt(task string, in Inputs) *prompt {
	return &prompt{task: task, inputs: in}
}

func (p *prompt) items(title string, items []gate.Item) *prompt {
	if len(items) == 0 {
		return p
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- [%s] %s", it.ID, it.Title)
		if it.Description != "" {
			b.WriteString(": ")
			b.WriteString(it.Description)
		}
		b.WriteString("\n")
	}
	p.sections = append(p.sections, b.String())
	return p
}

func (p *prompt) text(title, body string) *prompt {
	if strings.TrimSpace(body) == "" {
		return p
	}
	p.sections = append(p.sections, title+":\n"+body+"\n")
	return p
}

func (p *prompt) messages() []model.Message {
	var b strings.Builder
	b.WriteString(p.task)
	b.WriteString("\n\n")
	for _, s := range p.sections {
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString(p.inputs.Context())
	return []model.Message{
		{Role: model.RoleSystem, Content: systemPrompt},
		{Role: model.RoleUser, Content: b.String()},
	}
}
