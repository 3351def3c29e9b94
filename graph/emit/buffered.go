package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, keyed by
// thread ID.
//
// It backs the inspect command's event history and the engine tests. Events
// are never evicted; call Clear when a thread is deleted.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	engine, _ := graph.New(g, st, emitter)
//	snap, _ := engine.Start(ctx, graph.Update{}, cfg)
//	interrupts := emitter.GetHistoryWithFilter(snap.ThreadID, emit.HistoryFilter{Msg: emit.MsgInterrupt})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects events. Set fields are combined with AND.
type HistoryFilter struct {
	NodeID  string // Filter by node ID (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ThreadID] = append(b.events[event.ThreadID], event)
}

// GetHistory returns a copy of every event for threadID, in emission order.
func (b *BufferedEmitter) GetHistory(threadID string) []Event {
	return b.GetHistoryWithFilter(threadID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events for threadID matching filter.
// The result is never nil.
func (b *BufferedEmitter) GetHistoryWithFilter(threadID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[threadID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear removes events for threadID, or every event when threadID is empty.
func (b *BufferedEmitter) Clear(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if threadID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, threadID)
}
