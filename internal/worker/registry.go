package worker

import (
	"sync"

	"github.com/leandro2vieira/teep-arq-flow/internal/message"
)

// Registry holds the live set of PeripheralWorkers, keyed by virtual index, and implements
// automation.PeripheralDispatcher. It is rebuilt wholesale by a ReconfigureController cycle rather than mutated
// incrementally: Swap replaces the whole worker set, closing whichever workers the new set does not carry forward.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Dispatch enqueues msg on the worker registered under virtualIndex, returning false if none is registered.
func (r *Registry) Dispatch(virtualIndex string, msg message.Message) bool {
	r.mu.RLock()
	w, ok := r.workers[virtualIndex]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	w.Enqueue(msg)
	return true
}

// Get returns the worker registered under virtualIndex, if any.
func (r *Registry) Get(virtualIndex string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[virtualIndex]
	return w, ok
}

// All returns a snapshot slice of every registered worker.
func (r *Registry) All() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	return out
}

// Swap replaces the registry's worker set with next, closing every previously registered worker whose virtual index
// does not appear in next. Workers that survive a reconfigure cycle unchanged should be passed through by the
// caller under the same virtual index to avoid an unnecessary reconnect.
func (r *Registry) Swap(next map[string]*Worker) {
	r.mu.Lock()
	old := r.workers
	r.workers = next
	r.mu.Unlock()

	for vi, w := range old {
		if _, kept := next[vi]; !kept {
			w.Close()
		}
	}
}

// Close shuts down every registered worker.
func (r *Registry) Close() {
	r.mu.Lock()
	workers := r.workers
	r.workers = make(map[string]*Worker)
	r.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
}
