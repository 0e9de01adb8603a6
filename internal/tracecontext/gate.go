package tracecontext

import (
	"errors"
	"fmt"
	"sync"

	"tracepipe/internal/metrics"
)

// ErrAlreadyInstalled is returned by Install (and surfaced through
// New) when the gate already has a live context, so callers like the
// control surface can distinguish "already tracing this input" from
// any other construction failure.
var ErrAlreadyInstalled = errors.New("tracecontext: gate already has a context installed")

// HostInput identifies the data-processing input instance a Gate
// watches over: its name (used as plugin_instance in envelopes) and
// optional alias (used as plugin_alias when present).
type HostInput struct {
	Name  string
	Alias *string
}

// Filter identifies a filter plugin instance, used the same way as
// HostInput but for FILTER-stage envelopes.
type Filter struct {
	Name  string
	Alias *string
}

// Gate is the per-host-input mutual-exclusion primitive and optional
// Context pointer described in spec.md §4.1. Every context-observing
// or context-mutating operation acquires the gate for its whole
// critical region; the teardown step itself (§4.3) is deliberately
// factored out and invoked after the gate is released, so the
// non-reentrant mutex here can never self-deadlock when a handle drop
// triggers teardown (spec.md §9).
type Gate struct {
	mu    sync.Mutex
	input HostInput
	ctx   *Context
}

// NewGate returns an empty gate for the given host input, with no
// Context installed.
func NewGate(input HostInput) *Gate {
	return &Gate{input: input}
}

// Input returns the host input this gate watches.
func (g *Gate) Input() HostInput {
	return g.input
}

// Install attaches ctx to the gate. Fails if a context is already
// installed.
func (g *Gate) Install(ctx *Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx != nil {
		return fmt.Errorf("%w: %q", ErrAlreadyInstalled, g.input.Name)
	}
	g.ctx = ctx
	return nil
}

// HasLiveContext reports whether the gate currently has a context
// installed that is not marked for destroy.
func (g *Gate) HasLiveContext() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx != nil && !g.ctx.toDestroy
}

// contextLocked returns the currently installed context, or nil. Callers
// must hold g.mu.
func (g *Gate) contextLocked() *Context {
	return g.ctx
}

// TryBeginEvent mints a new Event for the gate's current context. It
// returns (nil, nil) — not an error — when there is no context
// installed or the context is already marked for destroy, matching
// try_begin_event's "None" result in the spec.
func (g *Gate) TryBeginEvent() (*Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx := g.ctx
	if ctx == nil || ctx.toDestroy {
		return nil, nil
	}

	n := ctx.traceCount
	ctx.traceCount++
	ctx.liveHandles++
	metrics.SetLiveHandles(g.input.Name, ctx.liveHandles)

	return &Event{
		gate:    g,
		traceID: fmt.Sprintf("%s%d", ctx.tracePrefix, n),
	}, nil
}

// endEvent decrements the live handle count of the gate's context and,
// if the context is marked for destroy and no handles remain, tears
// it down. The decide-to-free step runs under the lock; the actual
// free runs after it is released.
func (g *Gate) endEvent() {
	g.mu.Lock()
	ctx := g.ctx
	if ctx == nil {
		g.mu.Unlock()
		return
	}
	ctx.liveHandles--
	metrics.SetLiveHandles(g.input.Name, ctx.liveHandles)
	shouldTeardown := ctx.toDestroy && ctx.liveHandles <= 0
	g.mu.Unlock()

	if shouldTeardown {
		g.teardown(ctx)
	}
}

// SetLimit installs kind as the context's active self-destruct policy.
// Returns an error if no context is installed (the spec's "not_found").
func (g *Gate) SetLimit(kind LimitKind, arg int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx := g.ctx
	if ctx == nil {
		return fmt.Errorf("tracecontext: no context installed on %q", g.input.Name)
	}

	switch kind {
	case LimitTime:
		ctx.limit = Limit{Kind: LimitTime, StartedAt: nowFunc(), Window: secondsToDuration(arg)}
	case LimitCount:
		ctx.limit = Limit{Kind: LimitCount, MaxCount: arg}
	default:
		ctx.limit = Limit{Kind: LimitNone}
	}
	return nil
}

// LimitHit evaluates the context's current limit variant. A missing
// context or a None limit both report false.
func (g *Gate) LimitHit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx := g.ctx
	if ctx == nil {
		return false
	}
	return ctx.limit.hit(ctx.traceCount)
}

// ActiveLimitKind reports which limit variant the gate's context is
// currently enforcing, or LimitNone if no context is installed.
// Exposed so a caller observing a hit limit can label it for metrics.
func (g *Gate) ActiveLimitKind() LimitKind {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		return LimitNone
	}
	return g.ctx.limit.Kind
}

// RequestDestroy marks the gate's context for destruction. If handles
// are still live, the context is merely marked and its embedded
// emitter is paused; the last End() call completes the teardown. If
// no handles are live, teardown happens immediately, still outside the
// lock.
func (g *Gate) RequestDestroy() {
	g.mu.Lock()
	ctx := g.ctx
	if ctx == nil {
		g.mu.Unlock()
		return
	}
	ctx.toDestroy = true

	if ctx.liveHandles > 0 {
		if ctx.emitter != nil {
			ctx.emitter.Pause()
		}
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.teardown(ctx)
}

// teardown stops and frees ctx's embedded engine and clears the gate,
// exactly once. It must never be called while g.mu is held.
func (g *Gate) teardown(ctx *Context) {
	ctx.destroyOnce.Do(func() {
		if err := ctx.engine.Stop(); err != nil {
			ctx.logger.WithError(err).Warn("tracecontext: embedded engine stop reported an error during teardown")
		}
	})

	g.mu.Lock()
	if g.ctx == ctx {
		g.ctx = nil
	}
	g.mu.Unlock()
}

// Destroy implements context_destroy: equivalent to RequestDestroy,
// named separately to match the control-surface vocabulary in
// spec.md §6.
func (g *Gate) Destroy() {
	g.RequestDestroy()
}

// LiveHandles reports the current live handle count of the gate's
// context, or 0 if none is installed. Exposed for metrics and tests.
func (g *Gate) LiveHandles() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx == nil {
		return 0
	}
	return g.ctx.liveHandles
}

// MarkedForDestroy reports whether the gate's context has been marked
// for destroy. Exposed for metrics and tests.
func (g *Gate) MarkedForDestroy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx != nil && g.ctx.toDestroy
}

// snapshotContext returns the installed context (or nil) under lock,
// for read-only use by stage hooks after which the context's
// immutable fields (prefix, engine, emitter) are safe to read without
// holding the gate, since the event just minted keeps it alive.
func (g *Gate) snapshotContext() *Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}
