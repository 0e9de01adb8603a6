package types

import "context"

// Output is the interface every configurable sink implements: start
// accepting entries, ship them, stop. An embedded pipeline engine
// routes exactly one emitter input directly to exactly one Output.
type Output interface {
	// Start prepares the output for delivery.
	Start(ctx context.Context) error
	// Send delivers a batch of entries to the destination.
	Send(ctx context.Context, entries []LogEntry) error
	// Stop flushes and releases any resources held by the output.
	Stop() error
	// SetProperty assigns a single configuration key/value pair,
	// mirroring a plugin config directive. Used both for caller-supplied
	// properties and for credential propagation from another instance.
	SetProperty(key, value string)
	// Properties returns a copy of every key/value pair set so far, used
	// to propagate credentials from one output instance to another.
	Properties() map[string]string
}
