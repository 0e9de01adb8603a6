// Package types holds the data structures shared between the embedded
// pipeline engine, its output plugins and the trace sub-pipeline.
package types

import "time"

// Record is a single packed observation carried by an input chunk: a
// timestamp paired with an arbitrary, already-decoded payload. It is
// the Go-side equivalent of a msgpack [timestamp, record] pair.
type Record struct {
	Timestamp time.Time
	Body      interface{}
}

// LogEntry is what an Output actually ships downstream. The payload is
// a pre-encoded wire buffer (msgpack for envelopes emitted by the
// trace sub-pipeline, but an output has no reason to assume that) so
// outputs stay agnostic to what produced it.
type LogEntry struct {
	Tag       string
	Timestamp time.Time
	Payload   []byte
}
