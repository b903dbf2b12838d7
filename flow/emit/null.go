package emit

// NullEmitter discards all events.
//
// This is the default when a graph is built without WithEmitter: execution
// runs silent with zero observability overhead.
type NullEmitter struct{}

// NewNullEmitter creates an emitter that drops everything.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
