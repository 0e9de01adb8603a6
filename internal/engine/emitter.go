package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"tracepipe/pkg/types"
)

// EmitterInput is a passive input: it accepts records pushed directly
// via AddRecord instead of pulling from an external source. It is the
// internal input a trace context's embedded engine registers to carry
// trace envelopes.
type EmitterInput struct {
	alias     string
	eventType EventType
	queue     chan types.LogEntry
	logger    *logrus.Logger
	paused    int32
}

// Alias returns the input's published alias, or "" if none was set.
func (in *EmitterInput) Alias() string {
	return in.alias
}

// Pause stops the input from accepting any further records; records
// already queued are still delivered. Used when a trace context is
// marked for destroy but still has live handles.
func (in *EmitterInput) Pause() {
	atomic.StoreInt32(&in.paused, 1)
}

// Resume re-enables intake. Not used by the trace sub-pipeline itself
// (a paused emitter is always headed for teardown), but kept symmetric
// with the host engine's input lifecycle.
func (in *EmitterInput) Resume() {
	atomic.StoreInt32(&in.paused, 0)
}

// AddRecord pushes a single pre-encoded wire payload under tag into
// the input's queue, the Go equivalent of in_emitter_add_record. It
// never blocks: if the input is paused, the record is rejected with an
// error; if the queue is full, the record is dropped and logged, since
// a stalled trace sink must never back-pressure the host data path.
func (in *EmitterInput) AddRecord(tag string, payload []byte) error {
	if atomic.LoadInt32(&in.paused) == 1 {
		return fmt.Errorf("emitter input %q is paused", in.alias)
	}

	entry := types.LogEntry{Tag: tag, Timestamp: time.Now(), Payload: payload}
	select {
	case in.queue <- entry:
		return nil
	default:
		in.logger.WithField("tag", tag).Warn("emitter input queue full, dropping record")
		return fmt.Errorf("emitter input %q queue full", in.alias)
	}
}
