package circuit

import "sync"

// Registry owns one breaker per target for the lifetime of the process. It is
// created at startup and handed to every component that calls the same targets,
// so all callers share a target's breaker state.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry creates a registry whose breakers are built with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// For returns the breaker for target, creating it on first use.
func (r *Registry) For(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[target]
	if !ok {
		b = New(target, r.opts...)
		r.breakers[target] = b
	}
	return b
}

// Snapshot returns the state of every known breaker.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.State()
	}
	return out
}

// Len returns the number of tracked targets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}
