// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/aikogroup/aiko-gpt-sub001/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-flash"

const providerName = "google"

// ChatModel implements model.ChatModel for Gemini. Call Close when done.
type ChatModel struct {
	client    *genai.Client
	modelName string
}

// NewChatModel creates a Gemini client.
func NewChatModel(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*ChatModel, error) {
	if apiKey == "" {
		return nil, &model.Error{Provider: providerName, Code: model.CodeInvalidAPIKey, Message: "api key is empty"}
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &ChatModel{client: client, modelName: modelName}, nil
}

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	return m.client.Close()
}

// Chat implements model.ChatModel. Earlier turns become chat history and the
// final message is sent.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.Options) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, history, last, err := toContents(messages)
	if err != nil {
		return model.ChatOut{}, err
	}

	gm := m.client.GenerativeModel(m.modelName)
	gm.SystemInstruction = system
	if opts.JSON {
		gm.ResponseMIMEType = "application/json"
	}
	if opts.Temperature != nil {
		gm.SetTemperature(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	cs := gm.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return parseResponse(resp, m.modelName)
}

// toContents converts messages to Gemini contents. Gemini names the
// assistant role "model".
func toContents(messages []model.Message) (*genai.Content, []*genai.Content, []genai.Part, error) {
	systemText, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return nil, nil, nil, errors.New("google: at least one non-system message is required")
	}

	var system *genai.Content
	if systemText != "" {
		system = &genai.Content{Parts: []genai.Part{genai.Text(systemText)}}
	}

	history := make([]*genai.Content, 0, len(conversation)-1)
	for _, msg := range conversation[:len(conversation)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	last := []genai.Part{genai.Text(conversation[len(conversation)-1].Content)}
	return system, history, last, nil
}

func parseResponse(resp *genai.GenerateContentResponse, modelName string) (model.ChatOut, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.ChatOut{}, model.EmptyResponse(providerName)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return model.ChatOut{}, model.EmptyResponse(providerName)
	}

	out := model.ChatOut{Text: text.String(), Model: modelName}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func translateError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return model.Classify(providerName, apiErr.Code, err)
	}
	return model.Classify(providerName, 0, err)
}
