package sim

import (
	"sync"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/errors"
	"github.com/bpowers/simlin-sub000/resource"
)

// Model wraps an engine model handle. Models stay valid after their
// parent Project is closed; they hold their own native reference.
type Model struct {
	eng      simlin.Engine
	handle   simlin.Handle
	releaser *resource.Releaser
	name     string
	mu       sync.Mutex
	closed   bool
}

func newModel(eng simlin.Engine, h simlin.Handle, name string) *Model {
	m := &Model{eng: eng, handle: h, name: name}
	m.releaser = resource.Default.Register(m, "model", func() {
		eng.ModelUnref(h)
	})
	return m
}

// Name returns the model name the wrapper was derived with.
func (m *Model) Name() string {
	return m.name
}

// Close releases the model's native reference. Safe to call more than
// once; only the first call releases.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.releaser.Release()
	return nil
}

// Closed reports whether Close has been called.
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// VarNames returns every variable defined in the model.
func (m *Model) VarNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Closed("model")
	}
	names, fault := m.eng.ModelVarNames(m.handle)
	if fault != nil {
		return nil, errors.Translate("get variable names", fault)
	}
	return names, nil
}

// IncomingLinks returns the variables varName directly depends on.
func (m *Model) IncomingLinks(varName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Closed("model")
	}
	deps, fault := m.eng.ModelIncomingLinks(m.handle, varName)
	if fault != nil {
		return nil, errors.Translate("get incoming links", fault)
	}
	return deps, nil
}

// Links returns every causal link in the model.
func (m *Model) Links() ([]simlin.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Closed("model")
	}
	links, fault := m.eng.ModelLinks(m.handle)
	if fault != nil {
		return nil, errors.Translate("get links", fault)
	}
	return links, nil
}

// NewSim creates a simulation context for the model. enableLTM turns on
// Loops-That-Matter instrumentation, required for loop score queries.
func (m *Model) NewSim(enableLTM bool) (*Sim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.Closed("model")
	}
	h, fault := m.eng.SimNew(m.handle, enableLTM)
	if fault != nil {
		return nil, errors.Translate("new sim", fault)
	}
	return newSim(m.eng, h), nil
}
