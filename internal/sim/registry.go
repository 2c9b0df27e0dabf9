package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrStaleHandle is returned when a handle refers to an earlier registration
// of the same agent id.
var ErrStaleHandle = errors.New("stale agent handle")

// Handle identifies one registration of an agent. The generation changes on
// every Add, so a handle kept after its agent was removed and the id reused
// no longer resolves.
type Handle struct {
	ID         int
	Generation uint64
}

type registryEntry struct {
	handle Handle
	info   AgentInfo
}

// Registry tracks the agents spawned for a run.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]registryEntry
	gen     uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]registryEntry)}
}

// Add registers info and returns its handle.
func (r *Registry) Add(info AgentInfo) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[info.ID]; ok {
		return Handle{}, fmt.Errorf("agent %d already registered", info.ID)
	}
	r.gen++
	h := Handle{ID: info.ID, Generation: r.gen}
	r.entries[info.ID] = registryEntry{handle: h, info: info}
	return h, nil
}

// Remove unregisters the agent named by h.
func (r *Registry) Remove(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h.ID]
	if !ok {
		return fmt.Errorf("agent %d: %w", h.ID, ErrAgentNotFound)
	}
	if e.handle.Generation != h.Generation {
		return fmt.Errorf("agent %d generation %d: %w", h.ID, h.Generation, ErrStaleHandle)
	}
	delete(r.entries, h.ID)
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id int) (AgentInfo, Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.info, e.handle, ok
}

// Valid reports whether h still names a registered agent.
func (r *Registry) Valid(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h.ID]
	return ok && e.handle.Generation == h.Generation
}

// Active returns the handles of all registered agents ordered by id.
func (r *Registry) Active() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.handle)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered agent ids in ascending order.
func (r *Registry) IDs() []int {
	hs := r.Active()
	ids := make([]int, len(hs))
	for i, h := range hs {
		ids[i] = h.ID
	}
	return ids
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
