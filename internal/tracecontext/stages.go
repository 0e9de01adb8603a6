package tracecontext

import (
	"time"

	"tracepipe/internal/envelope"
	"tracepipe/internal/metrics"
)

// OnInput implements the on_input stage hook (spec.md §4.2). If the
// gate has no live, non-destroying context, it returns (nil, nil) —
// there is nothing to trace. Otherwise it mints an Event for this
// chunk, encodes and emits an INPUT envelope from buf, and checks the
// context's limit, requesting destroy if it has been hit. The
// returned Event should be carried by the caller's chunk through
// OnPreOutput (and OnFilter, if applicable) and released with End once
// the chunk completes the pre-output stage.
func OnInput(gate *Gate, input HostInput, buf []byte) (*Event, error) {
	if !gate.HasLiveContext() {
		return nil, nil
	}

	ev, err := gate.TryBeginEvent()
	if err != nil {
		return nil, err
	}
	if ev == nil {
		// Race with destroy: to_destroy flipped between the check above
		// and TryBeginEvent. Return without emitting, without error.
		return nil, nil
	}

	// The limit check below must run unconditionally after this chunk's
	// own emission attempt, whether or not that attempt succeeded,
	// mirroring flb_trace_chunk_do_input's unconditional call to
	// flb_trace_chunk_context_hit_limit after flb_trace_chunk_input.
	var encodeErr error

	ctx := gate.snapshotContext()
	if ctx != nil {
		payload, err := envelope.EncodeInput(buf, ev.TraceID(), input.Name, input.Alias)
		if err != nil {
			encodeErr = err
			ctx.logger.WithError(err).WithField("trace_id", ev.TraceID()).Warn("tracecontext: discarding malformed input envelope")
			metrics.RecordEnvelopeDiscarded(input.Name, "input")
		} else if err := ctx.emitter.AddRecord(envelope.Tag, payload); err != nil {
			ctx.logger.WithError(err).Warn("tracecontext: failed to emit input envelope")
		} else {
			metrics.RecordEnvelopeEmitted(input.Name, "input")
		}
	}

	if gate.LimitHit() {
		metrics.RecordLimitHit(input.Name, gate.ActiveLimitKind().String())
		gate.RequestDestroy()
	}

	return ev, encodeErr
}

// OnPreOutput implements the on_pre_output stage hook: encodes and
// emits a PRE_OUTPUT envelope, identical in shape to an INPUT envelope
// but for the type discriminant. Returns nil if ev is nil (the chunk
// was never traced) or if the context has since been torn down.
func OnPreOutput(gate *Gate, ev *Event, input HostInput, buf []byte) error {
	if ev == nil {
		return nil
	}

	ctx := gate.snapshotContext()
	if ctx == nil {
		return nil
	}

	payload, err := envelope.EncodePreOutput(buf, ev.TraceID(), input.Name, input.Alias)
	if err != nil {
		ctx.logger.WithError(err).WithField("trace_id", ev.TraceID()).Warn("tracecontext: discarding malformed pre_output envelope")
		metrics.RecordEnvelopeDiscarded(input.Name, "pre_output")
		return err
	}

	if err := ctx.emitter.AddRecord(envelope.Tag, payload); err != nil {
		return err
	}
	metrics.RecordEnvelopeEmitted(input.Name, "pre_output")
	return nil
}

// OnFilter implements the on_filter stage hook: encodes and emits a
// FILTER envelope carrying the filter's identity and a caller-supplied
// time window, using buf (the filter's own working buffer) rather than
// the chunk's current content.
func OnFilter(gate *Gate, ev *Event, filter Filter, start, end time.Time, buf []byte) error {
	if ev == nil {
		return nil
	}

	ctx := gate.snapshotContext()
	if ctx == nil {
		return nil
	}

	payload, err := envelope.EncodeFilter(buf, ev.TraceID(), filter.Name, filter.Alias, start, end)
	if err != nil {
		ctx.logger.WithError(err).WithField("trace_id", ev.TraceID()).Warn("tracecontext: discarding malformed filter envelope")
		metrics.RecordEnvelopeDiscarded(gate.Input().Name, "filter")
		return err
	}

	if err := ctx.emitter.AddRecord(envelope.Tag, payload); err != nil {
		return err
	}
	metrics.RecordEnvelopeEmitted(gate.Input().Name, "filter")
	return nil
}
