package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrBusy matches any *BusyError.
var ErrBusy = errors.New("tracker busy")

// BusyError is returned when a different job already holds the active slot.
type BusyError struct {
	ActiveJobID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("job %s is already being tracked", e.ActiveJobID)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// Registry remembers which jobs finished and which one is being tracked.
// A processed job is never polled again.
type Registry struct {
	mu        sync.Mutex
	processed map[string]time.Time
	active    string
}

func NewRegistry() *Registry {
	return &Registry{processed: make(map[string]time.Time)}
}

// Acquire claims the active slot for key. Re-acquiring by the holder is a no-op.
func (r *Registry) Acquire(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" && r.active != key {
		return &BusyError{ActiveJobID: r.active}
	}
	r.active = key
	return nil
}

// Rebind moves the active slot from a provisional key to the real job id.
func (r *Registry) Rebind(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == from {
		r.active = to
	}
}

// Release frees the active slot if key holds it.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == key {
		r.active = ""
	}
}

// Active returns the key holding the slot, or "".
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registry) MarkProcessed(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processed[jobID]; !ok {
		r.processed[jobID] = time.Now()
	}
}

func (r *Registry) IsProcessed(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processed[jobID]
	return ok
}

// Forget drops everything known about one job.
func (r *Registry) Forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processed, jobID)
	if r.active == jobID {
		r.active = ""
	}
}

// Processed lists processed job ids in sorted order.
func (r *Registry) Processed() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.processed))
	for id := range r.processed {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = make(map[string]time.Time)
	r.active = ""
}
