package source

import (
	"context"
	"fmt"
	"sync"
)

// MockLoader serves documents from memory and records every reference it
// was asked for. Safe for concurrent use.
type MockLoader struct {
	// Docs maps a reference to its text. Unknown references fail.
	Docs map[string]string

	// Err, if set, is returned by every Load.
	Err error

	mu   sync.Mutex
	refs []string
}

// Name implements Loader.
func (m *MockLoader) Name() string { return "mock" }

// Load implements Loader.
func (m *MockLoader) Load(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs = append(m.refs, ref)
	if m.Err != nil {
		return "", m.Err
	}
	text, ok := m.Docs[ref]
	if !ok {
		return "", fmt.Errorf("no document %q", ref)
	}
	return text, nil
}

// Refs returns the references loaded so far.
func (m *MockLoader) Refs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refs...)
}
