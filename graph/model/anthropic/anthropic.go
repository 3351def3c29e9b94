// Package anthropic adapts Anthropic's Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aikogroup/aiko-gpt-sub001/graph/model"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

// DefaultMaxTokens is the completion cap when Options.MaxTokens is zero.
// The Messages API requires one.
const DefaultMaxTokens = 4096

const providerName = "anthropic"

// ChatModel implements model.ChatModel for Claude.
//
// System messages are sent as the separate system parameter. Options.JSON is
// not sent to the API; prompts are expected to ask for JSON themselves.
//
// Example:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), "claude-3-5-sonnet-20241022")
//	out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hello"}}, model.Options{})
type ChatModel struct {
	client    *anthropic.Client
	modelName string
}

// NewChatModel creates a Claude client. Extra request options (base URL,
// retries, HTTP client) are passed through to the SDK.
func NewChatModel(apiKey, modelName string, opts ...option.RequestOption) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &ChatModel{client: &client, modelName: modelName}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts model.Options) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, conversation := model.SplitSystem(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: DefaultMaxTokens,
		Messages:  toMessageParams(conversation),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return model.ChatOut{}, model.EmptyResponse(providerName)
	}

	return model.ChatOut{
		Text:  text.String(),
		Model: string(msg.Model),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func toMessageParams(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.Classify(providerName, apiErr.StatusCode, err)
	}
	return model.Classify(providerName, 0, err)
}
