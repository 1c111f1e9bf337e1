package emit

// Emitter receives observability events from the step executor.
//
// The executor calls Emit synchronously from whichever goroutine ran the
// step, including parallel branches, so implementations must be safe for
// concurrent use and should not block. Emit must not panic; a backend that
// cannot deliver an event drops it.
//
// Emitters are purely observational. Nothing an emitter does can change the
// outcome of a step.
type Emitter interface {
	Emit(event Event)
}

// Multi fans every event out to each of the given emitters in order.
// Nil entries are skipped.
//
// Example:
//
//	em := emit.Multi(
//	    emit.NewLogEmitter(os.Stderr, false),
//	    emit.NewOTelEmitter(otel.Tracer("durable")),
//	)
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
