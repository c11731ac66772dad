// Package registry holds the in-memory module record store shared by the
// compiler, the invalidation cascade and the route projection.
package registry

import (
	"sync"
	"time"

	"github.com/conneroisu/pagegraph/internal/types"
)

// ModuleRegistry maps module URLs to their compilation records. Records
// are created once and mutated in place, so pointers handed out stay
// valid until the module is removed.
type ModuleRegistry struct {
	modules  map[string]*types.Module
	order    []string
	mutex    sync.RWMutex
	watchers []chan types.ModuleEvent
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		modules:  make(map[string]*types.Module),
		watchers: make([]chan types.ModuleEvent, 0),
	}
}

// Register returns the record for url, creating it when absent.
func (r *ModuleRegistry) Register(url string) (*types.Module, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if m, exists := r.modules[url]; exists {
		return m, false
	}

	m := &types.Module{URL: url}
	r.modules[url] = m
	r.order = append(r.order, url)
	r.notify(types.EventTypeAdded, url)

	return m, true
}

// Get retrieves a record by URL.
func (r *ModuleRegistry) Get(url string) (*types.Module, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	m, exists := r.modules[url]
	return m, exists
}

// Snapshot returns a copy of the record for url.
func (r *ModuleRegistry) Snapshot(url string) (types.Module, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	m, exists := r.modules[url]
	if !exists {
		return types.Module{}, false
	}
	return m.Clone(), true
}

// Update applies fn to the record for url under the write lock. Readers
// never observe a partially applied update.
func (r *ModuleRegistry) Update(url string, fn func(m *types.Module)) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, exists := r.modules[url]
	if !exists {
		return false
	}

	fn(m)
	r.notify(types.EventTypeUpdated, url)
	return true
}

// Remove deletes the record for url.
func (r *ModuleRegistry) Remove(url string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.modules[url]; !exists {
		return false
	}

	delete(r.modules, url)
	for i, u := range r.order {
		if u == url {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.notify(types.EventTypeRemoved, url)
	return true
}

// All returns every record in insertion order.
func (r *ModuleRegistry) All() []*types.Module {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]*types.Module, 0, len(r.order))
	for _, url := range r.order {
		result = append(result, r.modules[url])
	}
	return result
}

// URLs returns every module URL in insertion order.
func (r *ModuleRegistry) URLs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Count returns the number of registered modules
func (r *ModuleRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.modules)
}

// Watch returns a channel that receives module events
func (r *ModuleRegistry) Watch() <-chan types.ModuleEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan types.ModuleEvent, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *ModuleRegistry) UnWatch(ch <-chan types.ModuleEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// notify sends without blocking; slow watchers miss events. Callers hold
// the write lock.
func (r *ModuleRegistry) notify(eventType types.EventType, url string) {
	event := types.ModuleEvent{
		Type:      eventType,
		URL:       url,
		Timestamp: time.Now(),
	}

	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}
