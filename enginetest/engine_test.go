package enginetest

import (
	"testing"

	simlin "github.com/bpowers/simlin-sub000"
)

func TestHandleTableLifecycle(t *testing.T) {
	e := New()

	h, fault := e.Open(DemoProject)
	if fault != nil {
		t.Fatalf("open: %v", fault)
	}
	if h == 0 {
		t.Fatal("open returned the zero handle")
	}
	if got := e.LiveHandles(); got != 1 {
		t.Fatalf("live handles = %d, want 1", got)
	}

	e.ProjectUnref(h)
	if got := e.LiveHandles(); got != 0 {
		t.Fatalf("live handles after unref = %d, want 0", got)
	}
	if got := e.UnrefCount(kindProject); got != 1 {
		t.Fatalf("project unrefs = %d, want 1", got)
	}
}

func TestHandleReuseAfterDrop(t *testing.T) {
	e := New()

	h1, fault := e.Open(DemoProject)
	if fault != nil {
		t.Fatalf("open: %v", fault)
	}
	e.ProjectUnref(h1)

	h2, fault := e.Open(DemoProject)
	if fault != nil {
		t.Fatalf("reopen: %v", fault)
	}
	if h2 != h1 {
		t.Errorf("freed slot not reused: got %d, want %d", h2, h1)
	}

	// The recycled handle must not answer for the old resource kind
	// mismatch checks.
	if _, fault := e.ModelVarNames(h2); fault == nil {
		t.Error("project handle accepted as model handle")
	}
}

func TestRefKeepsHandleAlive(t *testing.T) {
	e := New()

	h, fault := e.Open(DemoProject)
	if fault != nil {
		t.Fatalf("open: %v", fault)
	}

	e.ProjectRef(h)
	e.ProjectUnref(h)
	if _, fault := e.ProjectModelNames(h); fault != nil {
		t.Fatalf("handle died with a reference still held: %v", fault)
	}

	e.ProjectUnref(h)
	if _, fault := e.ProjectModelNames(h); fault == nil {
		t.Fatal("handle survived its last unref")
	}
}

func TestStaleHandleFails(t *testing.T) {
	e := New()

	h, fault := e.Open(DemoProject)
	if fault != nil {
		t.Fatalf("open: %v", fault)
	}
	e.ProjectUnref(h)

	_, fault = e.ProjectSerialize(h)
	if fault == nil {
		t.Fatal("stale handle accepted")
	}
	if fault.Code != simlin.ErrDoesNotExist {
		t.Errorf("fault code = %v, want ErrDoesNotExist", fault.Code)
	}
}

func TestOpenValidation(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		msg  string
	}{
		{"empty", nil, "empty project buffer"},
		{"invalid json", []byte("{nope"), "invalid project document"},
		{"no models", []byte(`{"name": "x"}`), "project has no models"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			_, fault := e.Open(tt.data)
			if fault == nil {
				t.Fatal("open succeeded, want fault")
			}
			if fault.Code != simlin.ErrProtobufDecode {
				t.Errorf("code = %v, want ErrProtobufDecode", fault.Code)
			}
			if fault.Message != tt.msg {
				t.Errorf("message = %q, want %q", fault.Message, tt.msg)
			}
		})
	}
}

func TestModelOutlivesProjectHandle(t *testing.T) {
	e := New()

	p, fault := e.Open(DemoProject)
	if fault != nil {
		t.Fatalf("open: %v", fault)
	}
	m, fault := e.ProjectModel(p, "")
	if fault != nil {
		t.Fatalf("model: %v", fault)
	}

	e.ProjectUnref(p)

	names, fault := e.ModelVarNames(m)
	if fault != nil {
		t.Fatalf("var names after project unref: %v", fault)
	}
	if len(names) == 0 {
		t.Fatal("model has no variables")
	}
}

func TestFaultCountersBalance(t *testing.T) {
	e := New()

	_, _ = e.Open(nil)
	_, _ = e.Open([]byte("junk"))
	h, fault := e.Open(DemoProject)
	if fault != nil {
		t.Fatalf("open: %v", fault)
	}
	_, _ = e.ProjectModel(h, "missing")

	if e.FaultAllocs() != e.FaultFrees() {
		t.Errorf("fault allocs %d != frees %d", e.FaultAllocs(), e.FaultFrees())
	}
	if e.FaultAllocs() != 3 {
		t.Errorf("fault allocs = %d, want 3", e.FaultAllocs())
	}
}

func TestFaultAllocAndFreeAreSeparate(t *testing.T) {
	e := New()

	e.mu.Lock()
	f := e.allocFault(simlin.ErrGeneric, "boom", nil)
	e.mu.Unlock()

	if a, fr := e.FaultAllocs(), e.FaultFrees(); a != 1 || fr != 0 {
		t.Fatalf("undrained fault: allocs=%d frees=%d, want 1/0", a, fr)
	}

	e.mu.Lock()
	got := e.takeFault(f)
	e.mu.Unlock()
	if got != f {
		t.Fatal("takeFault did not return the allocated fault")
	}
	if a, fr := e.FaultAllocs(), e.FaultFrees(); a != 1 || fr != 1 {
		t.Fatalf("after drain: allocs=%d frees=%d, want 1/1", a, fr)
	}

	// A nil drain is the no-error path and must not count as a free.
	e.mu.Lock()
	nilFault := e.takeFault(nil)
	e.mu.Unlock()
	if nilFault != nil {
		t.Fatalf("takeFault(nil) = %v, want nil", nilFault)
	}
	if fr := e.FaultFrees(); fr != 1 {
		t.Fatalf("nil drain counted as a free: frees=%d", fr)
	}
}
