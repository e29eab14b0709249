package sim

import (
	"bytes"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/enginetest"
	"github.com/bpowers/simlin-sub000/errors"
	"github.com/bpowers/simlin-sub000/patch"
)

func openDemo(t *testing.T, eng *enginetest.Engine) *Project {
	t.Helper()
	p, err := Open(eng, enginetest.DemoProject)
	require.NoError(t, err)
	return p
}

func TestOpenEmptyBuffer(t *testing.T) {
	eng := enginetest.New()

	_, err := Open(eng, nil)
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindImport, e.Kind)

	// The empty check happens before any engine call.
	assert.Zero(t, eng.LiveHandles())
}

func TestOpenGarbage(t *testing.T) {
	eng := enginetest.New()

	_, err := Open(eng, []byte("definitely not a project"))
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindImport, e.Kind)
	assert.Equal(t, simlin.ErrProtobufDecode, e.Code)
}

func TestOpenFileMissing(t *testing.T) {
	eng := enginetest.New()

	_, err := OpenFile(eng, "testdata/does-not-exist.pb")
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindImport, e.Kind)
}

func TestProjectModelNames(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	names, err := p.ModelNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)
}

func TestProjectModelUnknownName(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	_, err := p.Model("nope")
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, simlin.ErrBadModelName, e.Code)
}

func TestCloseIsIdempotent(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, 1, eng.UnrefCount("project"), "unref must run exactly once")
	assert.True(t, p.Closed())
}

func TestConcurrentClose(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)

	const goroutines = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = p.Close()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, eng.UnrefCount("project"))
}

func TestOperationsOnClosedProject(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	require.NoError(t, p.Close())

	_, err := p.ModelNames()
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = p.Model("")
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = p.Serialize()
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = p.ExportXMILE()
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = p.ApplyPatch(patch.Patch{}, ApplyOptions{})
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestGCReleasesDroppedProject(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	_ = p
	p = nil

	deadline := time.Now().Add(5 * time.Second)
	for eng.UnrefCount("project") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("finalizer never released the dropped project")
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, 1, eng.UnrefCount("project"))
}

func TestConcurrentSerialize(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	want, err := p.Serialize()
	require.NoError(t, err)

	const goroutines = 16
	results := make([][]byte, goroutines)
	errs := make([]error, goroutines)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = p.Serialize()
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.True(t, bytes.Equal(want, results[i]), "goroutine %d saw different bytes", i)
	}
}

func TestExportXMILE(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	data, err := p.ExportXMILE()
	require.NoError(t, err)
	assert.Contains(t, string(data), "<xmile")
	assert.Contains(t, string(data), `name="main"`)
}

func TestApplyPatchCommits(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	pch := patch.Patch{
		Models: []patch.ModelPatch{{
			Name: "main",
			Ops: []patch.Operation{
				patch.UpsertAux{Name: "fertility_adjustment", Equation: "1.25"},
			},
		}},
	}

	details, err := p.ApplyPatch(pch, ApplyOptions{})
	require.NoError(t, err)
	assert.Empty(t, details)

	m, err := p.Model("")
	require.NoError(t, err)
	defer m.Close()

	names, err := m.VarNames()
	require.NoError(t, err)
	assert.Contains(t, names, "fertility_adjustment")
}

func TestApplyPatchDryRunLeavesProjectUntouched(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	before, err := p.Serialize()
	require.NoError(t, err)

	pch := patch.Patch{
		Models: []patch.ModelPatch{{
			Name: "main",
			Ops: []patch.Operation{
				patch.UpsertAux{Name: "fertility_adjustment", Equation: "1.25"},
			},
		}},
	}
	_, err = p.ApplyPatch(pch, ApplyOptions{DryRun: true})
	require.NoError(t, err)

	after, err := p.Serialize()
	require.NoError(t, err)
	assert.Equal(t, before, after, "dry run must not modify the project")
}

func TestApplyPatchRejectsBadEquationAtomically(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	before, err := p.Serialize()
	require.NoError(t, err)

	pch := patch.Patch{
		Models: []patch.ModelPatch{{
			Name: "main",
			Ops: []patch.Operation{
				patch.UpsertAux{Name: "bad", Equation: "no_such_var * 2"},
			},
		}},
	}
	_, err = p.ApplyPatch(pch, ApplyOptions{})
	require.Error(t, err)

	var ce *errors.CompilationError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Details, 1)
	assert.Equal(t, simlin.ErrUnknownDependency, ce.Details[0].Code)
	assert.Equal(t, "main", ce.Details[0].ModelName)
	assert.Equal(t, "bad", ce.Details[0].VariableName)

	after, err := p.Serialize()
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed patch must not modify the project")
}

func TestApplyPatchAllowErrorsCollectsDetails(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	pch := patch.Patch{
		Models: []patch.ModelPatch{{
			Name: "main",
			Ops: []patch.Operation{
				patch.UpsertAux{Name: "bad", Equation: "no_such_var * 2"},
				patch.DeleteVariable{Name: "never_existed"},
			},
		}},
	}
	details, err := p.ApplyPatch(pch, ApplyOptions{AllowErrors: true})
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, simlin.ErrUnknownDependency, details[0].Code)
	assert.Equal(t, simlin.ErrDoesNotExist, details[1].Code)

	// With AllowErrors the upsert still lands.
	m, err := p.Model("")
	require.NoError(t, err)
	defer m.Close()
	names, err := m.VarNames()
	require.NoError(t, err)
	assert.Contains(t, names, "bad")
}

func TestApplyPatchUnknownModel(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	pch := patch.Patch{
		Models: []patch.ModelPatch{{
			Name: "nope",
			Ops:  []patch.Operation{patch.DeleteVariable{Name: "x"}},
		}},
	}
	_, err := p.ApplyPatch(pch, ApplyOptions{})
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, simlin.ErrBadModelName, e.Code)
}

func TestFaultBookkeepingBalances(t *testing.T) {
	eng := enginetest.New()

	_, err := Open(eng, []byte("garbage"))
	require.Error(t, err)

	p := openDemo(t, eng)
	_, err = p.Model("nope")
	require.Error(t, err)
	_, err = p.ApplyPatch(patch.Patch{
		Models: []patch.ModelPatch{{
			Name: "main",
			Ops:  []patch.Operation{patch.UpsertAux{Name: "bad", Equation: "ghost"}},
		}},
	}, ApplyOptions{})
	require.Error(t, err)
	require.NoError(t, p.Close())

	assert.Equal(t, eng.FaultAllocs(), eng.FaultFrees(),
		"every engine error object must be freed exactly once")
	assert.Positive(t, eng.FaultAllocs())
}
