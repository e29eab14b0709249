package resource

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// EventType identifies a handle lifecycle event.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventReleased
)

// Event describes one handle lifecycle transition.
type Event struct {
	Kind string
	ID   uint64
	Type EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// Registry is the process-wide bookkeeping for live wrappers. The zero
// value is not usable; use NewRegistry or the package Default.
type Registry struct {
	entries   map[uint64]string
	nextID    uint64
	mu        sync.Mutex
	observers []Observer
	obsMu     sync.RWMutex
}

// Default is the registry the sim package registers wrappers with.
var Default = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uint64]string),
	}
}

// Releaser binds one release callback to one wrapper, enforcing that it
// runs at most once no matter how many disposal paths race to trigger
// it. The one-shot guarantee is the released flag, local to the
// Releaser; the registry plays no part in it.
type Releaser struct {
	released atomic.Bool
	release  func()
	registry *Registry
	kind     string
	id       uint64
}

// Register records owner in the registry and returns a Releaser that
// will invoke release at most once. A finalizer on owner covers the
// garbage-collection path; explicit Close paths call Release directly.
//
// release must not retain owner, or the finalizer can never fire.
// Registration itself cannot fail; it performs no native calls.
func (g *Registry) Register(owner any, kind string, release func()) *Releaser {
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.entries[id] = kind
	g.mu.Unlock()

	r := &Releaser{
		release:  release,
		registry: g,
		kind:     kind,
		id:       id,
	}
	runtime.SetFinalizer(owner, func(any) { r.Release() })

	g.notify(Event{Type: EventRegistered, Kind: kind, ID: id})
	return r
}

// Release runs the callback if no other path has, and reports whether
// this call was the one that performed the release.
func (r *Releaser) Release() bool {
	if !r.released.CompareAndSwap(false, true) {
		return false
	}

	// The callback runs outside every lock: it is typically a native
	// unref, and the registry mutex must never span a native call.
	r.release()

	g := r.registry
	g.mu.Lock()
	delete(g.entries, r.id)
	g.mu.Unlock()

	g.notify(Event{Type: EventReleased, Kind: r.kind, ID: r.id})
	return true
}

// Released reports whether the callback has already run.
func (r *Releaser) Released() bool {
	return r.released.Load()
}

// Count returns the number of live (registered, unreleased) wrappers.
// Observability only; never a correctness input.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Counts returns live wrapper counts grouped by kind.
func (g *Registry) Counts() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	counts := make(map[string]int)
	for _, kind := range g.entries {
		counts[kind]++
	}
	return counts
}

// Subscribe adds an observer for lifecycle events.
func (g *Registry) Subscribe(o Observer) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	g.observers = append(g.observers, o)
}

// Unsubscribe removes an observer.
func (g *Registry) Unsubscribe(o Observer) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	for i, obs := range g.observers {
		if obs == o {
			g.observers = append(g.observers[:i], g.observers[i+1:]...)
			return
		}
	}
}

func (g *Registry) notify(e Event) {
	g.obsMu.RLock()
	defer g.obsMu.RUnlock()
	for _, o := range g.observers {
		o.OnHandleEvent(e)
	}
}
