package tracecontext

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/goleak"

	"tracepipe/internal/envelope"
	"tracepipe/internal/sinks"
	"tracepipe/pkg/types"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type nullOuterEngine struct{}

func (nullOuterEngine) FindOutputByKind(kind string) (types.Output, bool) { return nil, false }

func packTwoRecords(t *testing.T) []byte {
	t.Helper()
	buf, err := envelope.PackRecords([]envelope.Record{
		{Timestamp: time.Unix(1, 0), Body: map[string]int{"a": 1}},
		{Timestamp: time.Unix(2, 0), Body: map[string]int{"a": 2}},
	})
	require.NoError(t, err)
	return buf
}

func newTestGateAndContext(t *testing.T, prefix string) (*Gate, *Context) {
	t.Helper()
	gate := NewGate(HostInput{Name: "src"})
	ctx, err := New(gate, nullOuterEngine{}, Options{
		Enabled:     true,
		OutputKind:  sinks.KindNull,
		TracePrefix: prefix,
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	require.NotNil(t, ctx)
	return gate, ctx
}

func TestHappyPathInputStage(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, ctx := newTestGateAndContext(t, "t")
	defer gate.Destroy()

	buf := packTwoRecords(t)
	ev, err := OnInput(gate, HostInput{Name: "src"}, buf)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, "t0", ev.TraceID())
	require.Equal(t, 1, gate.LiveHandles())

	ev.End()
	require.Equal(t, 0, gate.LiveHandles())
	_ = ctx
}

func TestAliasPresentAddsSeventhField(t *testing.T) {
	alias := "src-a"
	buf, err := envelope.PackRecords([]envelope.Record{{Timestamp: time.Unix(1, 0), Body: 1}})
	require.NoError(t, err)

	payload, err := envelope.EncodeInput(buf, "t0", "src", &alias)
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	n, err := dec.DecodeArrayLen()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = dec.DecodeInt64()
	require.NoError(t, err)
	meta, err := dec.DecodeMap()
	require.NoError(t, err)
	require.Len(t, meta, 7)
	require.Equal(t, "src-a", meta["plugin_alias"])
}

// After max_count chunks have been traced, on_input's own end-of-call
// limit check (spec.md §4.2) marks the context for destroy. A chunk
// arriving afterward sees a context already marked for destroy and
// mints no event for it, per the try_begin_event contract in §4.1:
// once to_destroy is set it never clears, and no further TraceEvent
// is minted on that context.
func TestCountLimitMarksDestroyAndStopsFurtherMints(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, _ := newTestGateAndContext(t, "t")

	require.NoError(t, gate.SetLimit(LimitCount, 2))

	buf := packTwoRecords(t)

	var traceIDs []string
	for i := 0; i < 2; i++ {
		ev, err := OnInput(gate, HostInput{Name: "src"}, buf)
		require.NoError(t, err)
		require.NotNil(t, ev, "chunk %d should still mint an event", i)
		traceIDs = append(traceIDs, ev.TraceID())
		if i == 1 {
			// Checked before End: releasing the last live handle of a
			// context marked for destroy tears it down and clears the gate.
			require.True(t, gate.MarkedForDestroy(), "hit_limit after the second chunk's own emission must mark the context for destroy")
		}
		ev.End()
	}
	require.Equal(t, []string{"t0", "t1"}, traceIDs)

	ev, err := OnInput(gate, HostInput{Name: "src"}, buf)
	require.NoError(t, err)
	require.Nil(t, ev, "a context marked for destroy must mint no further events")
}

func TestDeferredDestroyWaitsForLiveHandles(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, _ := newTestGateAndContext(t, "t")

	buf := packTwoRecords(t)
	var events []*Event
	for i := 0; i < 5; i++ {
		ev, err := OnInput(gate, HostInput{Name: "src"}, buf)
		require.NoError(t, err)
		require.NotNil(t, ev)
		events = append(events, ev)
	}
	require.Equal(t, 5, gate.LiveHandles())

	gate.Destroy()
	require.True(t, gate.MarkedForDestroy())

	// No new events should mint once marked for destroy.
	ev, err := OnInput(gate, HostInput{Name: "src"}, buf)
	require.NoError(t, err)
	require.Nil(t, ev)

	for i, e := range events {
		e.End()
		remaining := gate.LiveHandles()
		require.Equal(t, len(events)-i-1, remaining)
	}
}

func TestDisabledGloballyReturnsNilWithoutError(t *testing.T) {
	gate := NewGate(HostInput{Name: "src"})
	ctx, err := New(gate, nullOuterEngine{}, Options{
		Enabled:     false,
		OutputKind:  sinks.KindNull,
		TracePrefix: "t",
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	require.Nil(t, ctx)
	require.False(t, gate.HasLiveContext())
}

func TestMalformedRecordsLeaveEventUsable(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, _ := newTestGateAndContext(t, "t")
	defer gate.Destroy()

	truncated := []byte{0x92, 0x01} // array header claims 2 elements, buffer cut short

	ev, err := OnInput(gate, HostInput{Name: "src"}, truncated)
	require.Error(t, err, "a malformed buffer must surface a non-nil encoder status")
	require.NotNil(t, ev, "the TraceEvent must survive a decode failure, per spec")
	require.Equal(t, 1, gate.LiveHandles())

	ev.End()
	require.Equal(t, 0, gate.LiveHandles())
}

// A malformed chunk must not skip the end-of-call limit check: the
// original flb_trace_chunk_do_input calls
// flb_trace_chunk_context_hit_limit unconditionally after
// flb_trace_chunk_input, regardless of that call's own return value.
func TestLimitCheckStillRunsAfterMalformedRecord(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, _ := newTestGateAndContext(t, "t")

	require.NoError(t, gate.SetLimit(LimitCount, 1))

	truncated := []byte{0x92, 0x01}
	ev, err := OnInput(gate, HostInput{Name: "src"}, truncated)
	require.Error(t, err, "a malformed buffer must still surface a non-nil encoder status")
	require.NotNil(t, ev, "the TraceEvent must survive a decode failure")
	require.True(t, gate.MarkedForDestroy(), "hitting the count limit must mark the context for destroy even on a malformed chunk")

	ev.End()
}

func TestTimeLimitHitAfterWindowElapses(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, _ := newTestGateAndContext(t, "t")
	defer gate.Destroy()

	require.NoError(t, gate.SetLimit(LimitTime, 0))
	time.Sleep(time.Millisecond)
	require.True(t, gate.LimitHit())
}

func TestTraceIDsAreStrictlyMonotonicPerContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	gate, _ := newTestGateAndContext(t, "t")
	defer gate.Destroy()

	buf := packTwoRecords(t)
	prev := -1
	for i := 0; i < 10; i++ {
		ev, err := OnInput(gate, HostInput{Name: "src"}, buf)
		require.NoError(t, err)
		require.NotNil(t, ev)
		require.Equal(t, "t"+strconv.Itoa(i), ev.TraceID())
		require.Greater(t, i, prev)
		prev = i
		ev.End()
	}
}
