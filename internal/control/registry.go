package control

import (
	"sync"

	"tracepipe/internal/tracecontext"
)

// Registry hands out one tracecontext.Gate per host input name, lazily
// creating gates on first reference the same way the host engine would
// already own one gate per configured input instance. In this module
// the control surface is the only thing that needs to resolve a host
// input by name, so it owns the registry.
type Registry struct {
	mu    sync.Mutex
	gates map[string]*tracecontext.Gate
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*tracecontext.Gate)}
}

// GateFor returns the gate for the named host input, creating one on
// first use.
func (r *Registry) GateFor(name string) *tracecontext.Gate {
	r.mu.Lock()
	defer r.mu.Unlock()

	gate, ok := r.gates[name]
	if !ok {
		gate = tracecontext.NewGate(tracecontext.HostInput{Name: name})
		r.gates[name] = gate
	}
	return gate
}

// Names returns every host input name with a gate registered so far.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.gates))
	for name := range r.gates {
		names = append(names, name)
	}
	return names
}
