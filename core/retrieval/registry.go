package retrieval

import (
	"sort"
	"sync"
)

// Registry holds the downloads currently in flight, at most one per object and
// never more than its capacity.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	entries  map[ObjectID]InFlight
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 1
	}
	return &Registry{
		capacity: capacity,
		entries:  make(map[ObjectID]InFlight, capacity),
	}
}

// TryRegister takes ownership of entry. It refuses without mutating state when
// the registry is full or the object is already present.
func (r *Registry) TryRegister(entry InFlight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.Object]; ok {
		return ErrAlreadyRegistered
	}
	if len(r.entries) >= r.capacity {
		return ErrCapacityExceeded
	}
	r.entries[entry.Object] = entry
	return nil
}

func (r *Registry) Lookup(obj ObjectID) (InFlight, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[obj]
	return entry, ok
}

func (r *Registry) Contains(obj ObjectID) bool {
	_, ok := r.Lookup(obj)
	return ok
}

// Remove drops the entry for obj and returns it.
func (r *Registry) Remove(obj ObjectID) (InFlight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[obj]
	if ok {
		delete(r.entries, obj)
	}
	return entry, ok
}

// Release removes the entry only while it still belongs to workerID, so a
// finished worker cannot evict a newer download of the same object.
func (r *Registry) Release(obj ObjectID, workerID string) (InFlight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[obj]
	if !ok || entry.WorkerID != workerID {
		return InFlight{}, false
	}
	delete(r.entries, obj)
	return entry, true
}

// Snapshot returns the entries ordered by start time.
func (r *Registry) Snapshot() []InFlight {
	r.mu.RLock()
	out := make([]InFlight, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Object.String() < out[j].Object.String()
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[ObjectID]InFlight, r.capacity)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Cap() int {
	return r.capacity
}
