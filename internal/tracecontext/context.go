// Package tracecontext implements the per-host-input trace
// sub-pipeline: a lifecycle-managed, refcounted facility that captures
// records flowing through a host input at three stages, wraps each
// observation in a binary envelope (see tracepipe/internal/envelope),
// and emits those envelopes into an independent, embedded instance of
// tracepipe/internal/engine routed to a caller-chosen sink.
package tracecontext

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tracepipe/internal/engine"
	"tracepipe/internal/sinks"
	"tracepipe/pkg/types"
)

// nowFunc is indirected so tests can control elapsed-time behavior for
// the TIME limit kind without sleeping.
var nowFunc = time.Now

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

// OuterEngine is the subset of the outer, process-wide engine a
// Context needs at construction time: the ability to find an existing
// output instance by kind, for credential propagation (spec.md §4.3
// step 5). The real outer *engine.Engine satisfies this.
type OuterEngine interface {
	FindOutputByKind(kind string) (types.Output, bool)
}

// Options configures a new Context. OutputKind must name a known sink
// kind; TracePrefix and OutputUserData are used as given, and an empty
// prefix or nil user data is accepted. OutputProperties is ignored
// when OutputKind is sinks.KindTelemetry, since that kind's
// properties are sourced from the outer engine instead (credential
// propagation).
type Options struct {
	Enabled          bool
	OutputKind       string
	TracePrefix      string
	OutputUserData   interface{}
	OutputProperties map[string]string
	Logger           *logrus.Logger
}

// Context is the embedded sub-pipeline described in spec.md §3: an
// isolated engine instance, an internal emitter input, a configured
// output, routing between them, and the bookkeeping (trace id
// generation, live handle count, limit, deferred-destroy flag) the
// Gate enforces on its behalf. Every field here is read and written
// only while the owning Gate's mutex is held, except for the
// immutable construction-time fields (engine, emitter, logger,
// tracePrefix) which are safe to read once any live Event guarantees
// the Context hasn't been torn down.
type Context struct {
	engine *engine.Engine
	output types.Output
	emitter *engine.EmitterInput

	tracePrefix string
	logger      *logrus.Logger

	traceCount  int64
	limit       Limit
	liveHandles int
	toDestroy   bool
	destroyOnce sync.Once
}

// New constructs a Context and installs it on gate. It returns
// (nil, nil) — not an error — when opts.Enabled is false, matching
// spec.md's Disabled error kind: context_new returns null silently
// when tracing is off globally, without holding the gate beyond the
// initial check.
//
// Construction itself (standing up the embedded engine, its emitter
// input, and its output) happens before the Context is reachable from
// any other goroutine, so it does not need the gate's mutex; only the
// final Install step touches it. Any failure after allocation rewinds
// everything built so far, in reverse order, and returns the error.
func New(gate *Gate, outer OuterEngine, opts Options) (*Context, error) {
	if !opts.Enabled {
		return nil, nil
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	embedded := engine.New(engine.DefaultConfig(), logger)

	emitterInput, err := embedded.NewEmitterInput("trace-emitter", engine.EventTypeLog|engine.EventTypeHasTrace)
	if err != nil {
		return nil, fmt.Errorf("tracecontext: registering emitter input: %w", err)
	}

	output, err := sinks.New(opts.OutputKind, opts.OutputUserData, logger)
	if err != nil {
		return nil, fmt.Errorf("tracecontext: creating output %q: %w", opts.OutputKind, err)
	}

	if opts.OutputKind == sinks.KindTelemetry {
		source, ok := outer.FindOutputByKind(sinks.KindTelemetry)
		if !ok {
			return nil, fmt.Errorf("tracecontext: no existing %q output found in outer engine to source credentials from", sinks.KindTelemetry)
		}
		for k, v := range source.Properties() {
			output.SetProperty(k, v)
		}
	} else {
		for k, v := range opts.OutputProperties {
			output.SetProperty(k, v)
		}
	}

	if err := embedded.RouteDirect(emitterInput, output, opts.OutputKind); err != nil {
		return nil, fmt.Errorf("tracecontext: routing emitter to output: %w", err)
	}

	if err := embedded.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("tracecontext: starting embedded engine: %w", err)
	}

	ctx := &Context{
		engine:      embedded,
		output:      output,
		emitter:     emitterInput,
		tracePrefix: opts.TracePrefix,
		logger:      logger,
		limit:       Limit{Kind: LimitNone},
	}

	if err := gate.Install(ctx); err != nil {
		_ = embedded.Stop()
		return nil, fmt.Errorf("tracecontext: installing context: %w", err)
	}

	return ctx, nil
}
