package tracecontext

// Event is the per-chunk handle minted by TryBeginEvent: it ties one
// host chunk to the Context that is tracing it and carries the unique
// trace id assigned at creation. An Event is valid from the moment it
// is minted until End is called on it, which may trigger the owning
// Context's deferred teardown.
type Event struct {
	gate    *Gate
	traceID string
}

// TraceID returns the event's "{prefix}{n}" identifier.
func (e *Event) TraceID() string {
	return e.traceID
}

// End releases the event, decrementing its context's live handle
// count. If the context has been marked for destroy and this was the
// last live handle, End triggers teardown.
func (e *Event) End() {
	e.gate.endEvent()
}
