package levels

import (
	"fmt"
	"sync"
)

// Registry manages named trackers so multiple level configurations (e.g. a
// prior-day-low and an overnight-high tracker) run side by side
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry creates a new tracker registry
func NewRegistry() *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
	}
}

// Register registers a tracker with the registry
func (r *Registry) Register(t *Tracker) error {
	if t == nil {
		return fmt.Errorf("tracker cannot be nil")
	}

	name := t.Name()
	if name == "" {
		return fmt.Errorf("tracker name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.trackers[name]; exists {
		return fmt.Errorf("tracker with name %q already registered", name)
	}

	r.trackers[name] = t
	return nil
}

// Get retrieves a tracker by name
func (r *Registry) Get(name string) (*Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.trackers[name]
	if !exists {
		return nil, fmt.Errorf("tracker %q not found", name)
	}

	return t, nil
}

// GetAll returns all registered trackers
func (r *Registry) GetAll() map[string]*Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Tracker, len(r.trackers))
	for name, t := range r.trackers {
		result[name] = t
	}

	return result
}

// List returns a list of all registered tracker names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}

	return names
}

// Unregister removes a tracker from the registry
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.trackers[name]; !exists {
		return fmt.Errorf("tracker %q not found", name)
	}

	delete(r.trackers, name)
	return nil
}

// Clear removes all trackers from the registry
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trackers = make(map[string]*Tracker)
}
