// Package model defines the chat-model contract used by pipeline nodes and
// its provider adapters (Anthropic, OpenAI, Google), plus wrappers for rate
// limiting and cost tracking.
package model

import (
	"context"
	"errors"
	"fmt"
)

// ChatModel is a chat-completion language model.
//
// Implementations must be safe for concurrent use: fan-out branches call the
// same model from several goroutines. Errors should be *Error where the
// provider gives enough information to classify them.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, opts Options) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	// Role is RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options tunes a single Chat call. Zero values use provider defaults.
type Options struct {
	// MaxTokens caps the completion length.
	MaxTokens int

	// Temperature is the sampling temperature. Nil leaves the provider default.
	Temperature *float64

	// JSON asks the provider for a JSON response where it supports it.
	JSON bool
}

// ChatOut is the model's reply.
type ChatOut struct {
	// Text is the concatenated text content.
	Text string

	// Model is the model that produced the reply, as reported by the provider.
	Model string

	// Usage is the token accounting for the call.
	Usage Usage
}

// Usage counts tokens consumed by one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Error codes used by provider adapters.
const (
	CodeInvalidAPIKey = "invalid_api_key"
	CodeRateLimited   = "rate_limited"
	CodeQuotaExceeded = "quota_exceeded"
	CodeTimeout       = "timeout"
	CodeEmptyResponse = "empty_response"
	CodeAPIError      = "api_error"
)

// Error is a classified provider failure.
type Error struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth another attempt. Context
// cancellation never is; unclassified errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var modelErr *Error
	if errors.As(err, &modelErr) {
		return modelErr.Retryable
	}
	return true
}

// SplitSystem separates system messages from the conversation, joining
// several system messages with a blank line. Anthropic and Gemini take the
// system prompt as a separate parameter.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	var conversation []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return system, conversation
}
