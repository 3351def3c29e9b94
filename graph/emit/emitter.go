package emit

// Emitter receives observability events from thread execution.
//
// Implementations must be safe for concurrent use: fan-out branches emit
// from their own goroutines. Emit must not block for long and must not
// panic; a failing backend drops the event rather than failing the run.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// Multi fans one event out to several emitters, in order.
//
// Example:
//
//	emitter := emit.Multi(emit.NewZapEmitter(logger), emit.NewOTelEmitter(tracer))
func Multi(emitters ...Emitter) Emitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEmitter []Emitter

func (m multiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
