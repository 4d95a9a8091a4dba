package retrieval

import (
	"sort"
	"sync"
	"time"
)

// Waiting is an object with a submitted retrieval that has not been picked up yet.
type Waiting struct {
	Object      ObjectID  `json:"object"`
	JobID       string    `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// WaitingSet maps objects to the retrieval job submitted for them.
type WaitingSet struct {
	mu      sync.Mutex
	entries map[ObjectID]Waiting
	now     func() time.Time
}

func NewWaitingSet() *WaitingSet {
	return &WaitingSet{
		entries: make(map[ObjectID]Waiting),
		now:     time.Now,
	}
}

// TryAdd records jobID for obj unless an entry already exists.
func (w *WaitingSet) TryAdd(obj ObjectID, jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entries[obj]; ok {
		return false
	}
	w.entries[obj] = Waiting{Object: obj, JobID: jobID, SubmittedAt: w.now()}
	return true
}

func (w *WaitingSet) Contains(obj ObjectID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[obj]
	return ok
}

func (w *WaitingSet) JobID(obj ObjectID) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.entries[obj]
	return entry.JobID, ok
}

func (w *WaitingSet) Remove(obj ObjectID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entries[obj]; !ok {
		return false
	}
	delete(w.entries, obj)
	return true
}

// RemoveJob removes obj only while it is still waiting on jobID.
func (w *WaitingSet) RemoveJob(obj ObjectID, jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.entries[obj]
	if !ok || entry.JobID != jobID {
		return false
	}
	delete(w.entries, obj)
	return true
}

func (w *WaitingSet) Snapshot() []Waiting {
	w.mu.Lock()
	out := make([]Waiting, 0, len(w.entries))
	for _, entry := range w.entries {
		out = append(out, entry)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func (w *WaitingSet) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[ObjectID]Waiting)
}

func (w *WaitingSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
