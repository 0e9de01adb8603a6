// Package engine implements a small, embeddable pipeline engine: an
// emitter input, a registry of named outputs, and a single direct
// route between the two. The outer process runs one instance to host
// its "real" outputs; a trace context stands up a second, isolated
// instance of the same type to host its own emitter and sink.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tracepipe/internal/metrics"
	"tracepipe/pkg/types"
)

// EventType tags what kind of events an input carries, mirroring the
// host engine's event-type bitmask.
type EventType uint8

const (
	EventTypeLog EventType = 1 << iota
	EventTypeHasTrace
)

// Config controls flush cadence and shutdown grace for an engine
// instance. A trace context's embedded engine always uses
// flush=1s/grace=1s, per spec.
type Config struct {
	Flush time.Duration
	Grace time.Duration
}

// DefaultConfig returns the flush/grace pair a trace context's
// embedded engine is configured with.
func DefaultConfig() Config {
	return Config{Flush: time.Second, Grace: time.Second}
}

// Engine is a minimal, self-contained instance of the pipeline: it can
// register one emitter input, register named outputs, and route the
// input directly to an output, bypassing tag matching.
type Engine struct {
	config Config
	logger *logrus.Logger

	mutex     sync.RWMutex
	isRunning bool
	emitter   *EmitterInput
	outputs   map[string]types.Output // registered by instance name, for lookup by kind
	route     types.Output
	routeKind string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an idle engine instance. It does not register any input
// or output and does not start any goroutines until Start is called.
func New(cfg Config, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		config:  cfg,
		logger:  logger,
		outputs: make(map[string]types.Output),
	}
}

// NewEmitterInput registers the single emitter input this engine will
// ever host. alias, if non-empty, is the input's published alias
// (e.g. "trace-emitter"); eventType declares the kind of events it
// carries.
func (e *Engine) NewEmitterInput(alias string, eventType EventType) (*EmitterInput, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.emitter != nil {
		return nil, fmt.Errorf("engine: emitter input already registered")
	}

	in := &EmitterInput{
		alias:     alias,
		eventType: eventType,
		queue:     make(chan types.LogEntry, 1024),
		logger:    e.logger,
	}
	e.emitter = in
	return in, nil
}

// RegisterOutput adds an already-constructed output to this engine's
// output list under instanceName, so it can later be found by kind
// (used by the outer engine to expose an existing telemetry output for
// credential propagation into a trace context's own output).
func (e *Engine) RegisterOutput(instanceName string, kind string, out types.Output) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.outputs[instanceName] = &namedOutput{Output: out, kind: kind}
}

// FindOutputByKind scans this engine's registered outputs for one
// created with the given kind. Used to locate an existing telemetry
// sink instance so its properties (credentials) can be copied onto a
// new one. Outputs are held in a map, so when several share the kind,
// which one is returned is not defined; registration order is not
// kept.
func (e *Engine) FindOutputByKind(kind string) (types.Output, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	for _, out := range e.outputs {
		if no, ok := out.(*namedOutput); ok && no.kind == kind {
			return no.Output, true
		}
	}
	return nil, false
}

// RouteDirect binds this engine's emitter input straight to output,
// bypassing tag-based routing: every record the emitter accepts is
// forwarded to this output and no other. kind labels the output for
// the send-duration metric; pass "" if unknown.
func (e *Engine) RouteDirect(in *EmitterInput, output types.Output, kind string) error {
	if in == nil {
		return fmt.Errorf("engine: cannot route a nil input")
	}
	if output == nil {
		return fmt.Errorf("engine: cannot route to a nil output")
	}
	e.mutex.Lock()
	e.route = output
	e.routeKind = kind
	e.mutex.Unlock()
	return nil
}

// Start launches the engine's delivery loop: records accepted by the
// emitter input are drained and forwarded, as a batch, to the routed
// output on every flush tick. Start is idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	if e.isRunning {
		e.mutex.Unlock()
		return nil
	}
	if e.route == nil {
		e.mutex.Unlock()
		return fmt.Errorf("engine: no output routed, refusing to start")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.isRunning = true
	route := e.route
	routeKind := e.routeKind
	in := e.emitter
	e.mutex.Unlock()

	if err := route.Start(e.ctx); err != nil {
		return fmt.Errorf("engine: starting output: %w", err)
	}

	e.wg.Add(1)
	go e.deliveryLoop(in, route, routeKind)
	return nil
}

// deliveryLoop batches whatever is queued at each flush interval and
// ships it to the routed output. Delivery is best-effort: a failed
// Send is logged and the batch is dropped, since this engine's queue
// holds no persisted state to retry from (spec: no persistence).
func (e *Engine) deliveryLoop(in *EmitterInput, route types.Output, routeKind string) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Flush)
	defer ticker.Stop()

	var batch []types.LogEntry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		sendCtx, cancel := context.WithTimeout(context.Background(), e.config.Grace)
		kind := routeKind
		if kind == "" {
			kind = "unknown"
		}
		start := time.Now()
		err := route.Send(sendCtx, batch)
		metrics.RecordOutputSendDuration(kind, time.Since(start))
		if err != nil {
			e.logger.WithError(err).Warn("engine: output delivery failed, dropping batch")
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-in.queue:
			batch = append(batch, entry)
			if len(batch) >= 256 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-e.ctx.Done():
			for drained := false; !drained; {
				select {
				case entry := <-in.queue:
					batch = append(batch, entry)
				default:
					drained = true
				}
			}
			flush()
			return
		}
	}
}

// Stop cancels the delivery loop, waits for it to drain within the
// configured grace period, and stops the routed output. Stop is
// idempotent.
func (e *Engine) Stop() error {
	e.mutex.Lock()
	if !e.isRunning {
		e.mutex.Unlock()
		return nil
	}
	e.isRunning = false
	cancel := e.cancel
	route := e.route
	e.mutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.config.Grace):
		e.logger.Warn("engine: shutdown grace period elapsed before delivery loop drained")
	}

	if route != nil {
		return route.Stop()
	}
	return nil
}

// namedOutput pairs an output with the kind string it was created
// with, so FindOutputByKind can match on it later.
type namedOutput struct {
	types.Output
	kind string
}
