package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"tracepipe/pkg/types"
)

type captureOutput struct {
	mu      sync.Mutex
	props   map[string]string
	entries []types.LogEntry
}

func newCaptureOutput() *captureOutput { return &captureOutput{props: map[string]string{}} }

func (c *captureOutput) Start(ctx context.Context) error { return nil }
func (c *captureOutput) Stop() error                      { return nil }
func (c *captureOutput) SetProperty(k, v string)          { c.mu.Lock(); defer c.mu.Unlock(); c.props[k] = v }
func (c *captureOutput) Properties() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.props))
	for k, v := range c.props {
		out[k] = v
	}
	return out
}
func (c *captureOutput) Send(ctx context.Context, entries []types.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	return nil
}
func (c *captureOutput) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestEngineRoutesEmitterToOutput(t *testing.T) {
	e := New(Config{Flush: 20 * time.Millisecond, Grace: time.Second}, testLogger())

	in, err := e.NewEmitterInput("trace-emitter", EventTypeLog|EventTypeHasTrace)
	require.NoError(t, err)

	out := newCaptureOutput()
	require.NoError(t, e.RouteDirect(in, out, "capture"))
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.NoError(t, in.AddRecord("trace", []byte("payload-1")))
	require.NoError(t, in.AddRecord("trace", []byte("payload-2")))

	require.Eventually(t, func() bool { return out.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestEmitterPauseRejectsNewRecords(t *testing.T) {
	e := New(DefaultConfig(), testLogger())
	in, err := e.NewEmitterInput("", EventTypeLog)
	require.NoError(t, err)

	in.Pause()
	require.Error(t, in.AddRecord("trace", []byte("x")))
}

func TestEngineFindOutputByKind(t *testing.T) {
	e := New(DefaultConfig(), testLogger())
	out := newCaptureOutput()
	e.RegisterOutput("telemetry-main", "calyptia", out)

	found, ok := e.FindOutputByKind("calyptia")
	require.True(t, ok)
	require.Same(t, types.Output(out), found)

	_, ok = e.FindOutputByKind("missing")
	require.False(t, ok)
}

func TestEngineStartRequiresRoute(t *testing.T) {
	e := New(DefaultConfig(), testLogger())
	_, err := e.NewEmitterInput("", EventTypeLog)
	require.NoError(t, err)
	require.Error(t, e.Start(context.Background()))
}
