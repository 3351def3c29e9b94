package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// It returns Responses in order, repeating the last one once exhausted. If
// Err is set every call fails with it. Handler, when set, takes precedence
// over both and lets a test inspect the prompt.
//
// Example:
//
//	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: `[{"title":"Forecasting"}]`}}}
//	out, _ := m.Chat(ctx, msgs, model.Options{})
type MockChatModel struct {
	Responses []ChatOut
	Err       error
	Handler   func(messages []Message) (ChatOut, error)

	// Calls records every invocation.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall is one recorded call.
type MockChatCall struct {
	Messages []Message
	Options  Options
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, opts Options) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{
		Messages: append([]Message(nil), messages...),
		Options:  opts,
	})

	if m.Handler != nil {
		return m.Handler(messages)
	}
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears recorded calls and rewinds the responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls made.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
