package consumer

import "fmt"

// Registry is the closed set of stage handlers this binary knows how to
// run, keyed by the CLI name an operator passes to `consume`. It replaces
// the dynamic dispatch-by-string-subclass pattern with a plain map built
// once at startup.
type Registry struct {
	handlers map[string]StageHandler
}

// NewRegistry builds a Registry from handlers, rejecting duplicate names
// so two handlers can never silently shadow each other.
func NewRegistry(handlers ...StageHandler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]StageHandler, len(handlers))}
	for _, h := range handlers {
		if _, exists := r.handlers[h.Name()]; exists {
			return nil, fmt.Errorf("consumer: duplicate stage handler name %q", h.Name())
		}
		r.handlers[h.Name()] = h
	}
	return r, nil
}

// Lookup returns the handler registered under name, or false if no stage
// by that name is known.
func (r *Registry) Lookup(name string) (StageHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists every registered stage name, for CLI help text and startup
// validation.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
