package agent

import (
	"fmt"
	"sort"
	"sync"
)

// DuplicateAgentError reports a Register call for a name already bound.
type DuplicateAgentError struct {
	Name string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %q already registered", e.Name)
}

// UnknownAgentError reports a Resolve call for an unregistered name. The
// coordination loop treats it as a recoverable BLOCKED transition.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.Name)
}

// Registry maps agent names to capabilities. Registration is allowed
// while a session is running; new agents become resolvable on the next
// routing decision.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Capability)}
}

// Register binds a name to a capability.
func (r *Registry) Register(name string, cap Capability) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if cap == nil {
		return fmt.Errorf("agent %q: capability is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; ok {
		return &DuplicateAgentError{Name: name}
	}
	r.agents[name] = cap
	return nil
}

// Resolve returns the capability bound to name.
func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cap, ok := r.agents[name]
	if !ok {
		return nil, &UnknownAgentError{Name: name}
	}
	return cap, nil
}

// Names returns the registered agent names in sorted order. The routing
// protocol consumes this as its available_agents input.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
