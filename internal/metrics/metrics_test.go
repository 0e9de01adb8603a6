package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordEnvelopeEmittedIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(EnvelopesEmittedTotal.WithLabelValues("src", "input"))
	RecordEnvelopeEmitted("src", "input")
	after := testutil.ToFloat64(EnvelopesEmittedTotal.WithLabelValues("src", "input"))
	require.Equal(t, before+1, after)
}

func TestSetLiveHandlesReflectsLatestValue(t *testing.T) {
	SetLiveHandles("src", 3)
	require.Equal(t, float64(3), testutil.ToFloat64(LiveHandles.WithLabelValues("src")))

	SetLiveHandles("src", 0)
	require.Equal(t, float64(0), testutil.ToFloat64(LiveHandles.WithLabelValues("src")))
}

func TestRecordLimitHitIncrementsByKind(t *testing.T) {
	before := testutil.ToFloat64(LimitHitsTotal.WithLabelValues("src", "count"))
	RecordLimitHit("src", "count")
	after := testutil.ToFloat64(LimitHitsTotal.WithLabelValues("src", "count"))
	require.Equal(t, before+1, after)
}
