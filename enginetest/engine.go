package enginetest

import (
	"sync"

	simlin "github.com/bpowers/simlin-sub000"
)

// Kind labels for handle bookkeeping.
const (
	kindProject = "project"
	kindModel   = "model"
	kindSim     = "sim"
)

type entry struct {
	value any
	kind  string
	refs  int
	valid bool
}

// Engine is an in-memory fake of the native engine surface. Safe for
// concurrent use; every exported method takes the engine lock.
type Engine struct {
	mu       sync.Mutex
	entries  []entry
	freeList []simlin.Handle

	faultAllocs int
	faultFrees  int
	unrefs      map[string]int
}

var _ simlin.Engine = (*Engine)(nil)

// New creates an empty fake engine.
func New() *Engine {
	return &Engine{
		entries:  make([]entry, 0, 16),
		freeList: make([]simlin.Handle, 0, 8),
		unrefs:   make(map[string]int),
	}
}

// insert stores a value and returns its handle with one reference held.
// Caller must hold e.mu.
func (e *Engine) insert(kind string, value any) simlin.Handle {
	ent := entry{value: value, kind: kind, refs: 1, valid: true}

	if len(e.freeList) > 0 {
		h := e.freeList[len(e.freeList)-1]
		e.freeList = e.freeList[:len(e.freeList)-1]
		e.entries[h-1] = ent
		return h
	}

	e.entries = append(e.entries, ent)
	return simlin.Handle(len(e.entries))
}

// lookup returns the value for a live handle of the expected kind.
// Caller must hold e.mu.
func (e *Engine) lookup(h simlin.Handle, kind string) (any, bool) {
	if h == 0 || int(h) > len(e.entries) {
		return nil, false
	}
	ent := e.entries[h-1]
	if !ent.valid || ent.kind != kind {
		return nil, false
	}
	return ent.value, true
}

// ref increments the reference count. Caller must hold e.mu.
func (e *Engine) ref(h simlin.Handle, kind string) {
	if h == 0 || int(h) > len(e.entries) {
		return
	}
	ent := &e.entries[h-1]
	if ent.valid && ent.kind == kind {
		ent.refs++
	}
}

// unref decrements the reference count, dropping the entry at zero.
// Caller must hold e.mu.
func (e *Engine) unref(h simlin.Handle, kind string) {
	if h == 0 || int(h) > len(e.entries) {
		return
	}
	ent := &e.entries[h-1]
	if !ent.valid || ent.kind != kind {
		return
	}

	e.unrefs[kind]++
	ent.refs--
	if ent.refs > 0 {
		return
	}

	ent.valid = false
	ent.value = nil
	e.freeList = append(e.freeList, h)
}

// allocFault models the engine side of the out-error protocol: an
// error object is allocated and handed back through the out slot.
// Caller must hold e.mu.
func (e *Engine) allocFault(code simlin.ErrorCode, msg string, details []simlin.ErrorDetail) *simlin.Fault {
	e.faultAllocs++
	return &simlin.Fault{Code: code, Message: msg, Details: append([]simlin.ErrorDetail(nil), details...)}
}

// takeFault models the binding side: the object is drained and freed
// exactly once before it escapes the engine. A fault that skips this
// step, or passes through twice, shows up as an alloc/free imbalance.
// Caller must hold e.mu.
func (e *Engine) takeFault(f *simlin.Fault) *simlin.Fault {
	if f == nil {
		return nil
	}
	e.faultFrees++
	return f
}

// newFault is the common error path: allocate, drain, return.
// Caller must hold e.mu.
func (e *Engine) newFault(code simlin.ErrorCode, msg string, details []simlin.ErrorDetail) *simlin.Fault {
	return e.takeFault(e.allocFault(code, msg, details))
}

func (e *Engine) ProjectRef(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ref(h, kindProject)
}

func (e *Engine) ProjectUnref(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unref(h, kindProject)
}

func (e *Engine) ModelRef(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ref(h, kindModel)
}

func (e *Engine) ModelUnref(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unref(h, kindModel)
}

func (e *Engine) SimRef(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ref(h, kindSim)
}

func (e *Engine) SimUnref(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unref(h, kindSim)
}

func (e *Engine) ErrorString(code simlin.ErrorCode) string {
	return code.String()
}

// LiveHandles returns the number of live engine-side resources.
func (e *Engine) LiveHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, ent := range e.entries {
		if ent.valid {
			n++
		}
	}
	return n
}

// UnrefCount returns how many times a resource kind has been unref'd.
func (e *Engine) UnrefCount(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unrefs[kind]
}

// FaultAllocs returns the number of native error objects allocated.
func (e *Engine) FaultAllocs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faultAllocs
}

// FaultFrees returns the number of native error objects freed.
func (e *Engine) FaultFrees() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faultFrees
}
