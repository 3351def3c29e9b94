package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it where event output is not wanted:
//
//	engine, err := graph.New(g, st, emit.NewNullEmitter())
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
