package sim

import (
	"os"
	"sync"

	"go.uber.org/zap"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/errors"
	"github.com/bpowers/simlin-sub000/patch"
	"github.com/bpowers/simlin-sub000/resource"
)

// Project wraps an engine project handle.
type Project struct {
	eng      simlin.Engine
	handle   simlin.Handle
	releaser *resource.Releaser
	mu       sync.Mutex
	closed   bool
}

// Open imports a project from serialized bytes (protobuf, XMILE or
// Vensim MDL). The engine hands back an already-referenced handle; the
// returned Project owns that reference.
func Open(eng simlin.Engine, data []byte) (*Project, error) {
	if len(data) == 0 {
		return nil, errors.Import("open project", "empty project buffer")
	}

	h, fault := eng.Open(data)
	if fault != nil {
		return nil, errors.TranslateOpen("open project", fault)
	}

	p := &Project{eng: eng, handle: h}
	// The release closure must capture only the engine and handle so
	// the finalizer path can ever fire.
	p.releaser = resource.Default.Register(p, "project", func() {
		eng.ProjectUnref(h)
	})

	Logger().Debug("opened project", zap.Int("bytes", len(data)))
	return p, nil
}

// OpenFile imports a project from a file on disk.
func OpenFile(eng simlin.Engine, path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindImport, "open project file", err)
	}
	return Open(eng, data)
}

// Close releases the project's native reference. Safe to call more
// than once; only the first call releases.
func (p *Project) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.releaser.Release()
	return nil
}

// Closed reports whether Close has been called.
func (p *Project) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ModelNames returns the project's model names in engine order.
func (p *Project) ModelNames() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.Closed("project")
	}
	names, fault := p.eng.ProjectModelNames(p.handle)
	if fault != nil {
		return nil, errors.Translate("get model names", fault)
	}
	return names, nil
}

// Model derives a model wrapper with its own independent lifetime. An
// empty name selects the project's main model.
func (p *Project) Model(name string) (*Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.Closed("project")
	}
	h, fault := p.eng.ProjectModel(p.handle, name)
	if fault != nil {
		return nil, errors.Translate("get model", fault)
	}
	return newModel(p.eng, h, name), nil
}

// ApplyOptions control patch application.
type ApplyOptions struct {
	// DryRun validates the patch against current state without
	// committing anything.
	DryRun bool
	// AllowErrors collects validation problems into the returned list
	// instead of aborting on the first one. Without it any problem
	// aborts the whole patch atomically.
	AllowErrors bool
}

// ApplyPatch sends a batch of structural edits to the engine. The
// returned details are non-empty only with AllowErrors; without it a
// problem surfaces as a *errors.CompilationError and nothing is
// applied.
//
// Callers must not apply overlapping patches to the same project from
// different goroutines without external coordination: each call is
// all-or-nothing, but there is no cross-call isolation.
func (p *Project) ApplyPatch(pch patch.Patch, opts ApplyOptions) ([]simlin.ErrorDetail, error) {
	data, err := pch.Encode()
	if err != nil {
		return nil, errors.Wrap(errors.KindRuntime, "encode patch", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.Closed("project")
	}
	details, fault := p.eng.ProjectApplyPatch(p.handle, data, opts.DryRun, opts.AllowErrors)
	if fault != nil {
		return nil, errors.Translate("apply patch", fault)
	}
	Logger().Debug("applied patch",
		zap.Bool("dryRun", opts.DryRun),
		zap.Int("problems", len(details)))
	return details, nil
}

// Serialize returns the project as engine-native protobuf bytes.
func (p *Project) Serialize() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.Closed("project")
	}
	data, fault := p.eng.ProjectSerialize(p.handle)
	if fault != nil {
		return nil, errors.Translate("serialize project", fault)
	}
	return data, nil
}

// ExportXMILE returns the project as XMILE XML.
func (p *Project) ExportXMILE() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.Closed("project")
	}
	data, fault := p.eng.ProjectExportXMILE(p.handle)
	if fault != nil {
		return nil, errors.Translate("export XMILE", fault)
	}
	return data, nil
}
