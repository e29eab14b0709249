package wasmengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	simlin "github.com/bpowers/simlin-sub000"
)

// Guest struct layouts (wasm32). Offsets mirror simlin.h compiled for
// wasm32-wasi and must change in lockstep with it.
const (
	errDetailSize = 28 // code i32, 3 ptrs, start u32, end u32, kind u8, unit_kind u8, pad
	linkSize      = 20 // from ptr, to ptr, polarity u8, pad, score ptr, score_len u32
	loopSize      = 16 // id ptr, variables ptr, var_count u32, polarity u8, pad
	slotSize      = 4
)

// Config controls engine instantiation.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32
}

// Engine implements simlin.Engine by executing the engine's
// wasm32-wasi build inside a wazero runtime.
type Engine struct {
	ctx     context.Context
	runtime wazero.Runtime
	mod     api.Module
	mem     api.Memory

	// One instantiated module is single-threaded; every guest call is
	// serialized here.
	mu sync.Mutex

	fns map[string]api.Function
}

// guestFunctions is every export the engine must provide.
var guestFunctions = []string{
	"simlin_malloc", "simlin_free",
	"simlin_project_open", "simlin_project_ref", "simlin_project_unref",
	"simlin_project_get_model_count", "simlin_project_get_model_names",
	"simlin_project_get_model", "simlin_project_apply_patch",
	"simlin_project_serialize", "simlin_export_xmile",
	"simlin_model_ref", "simlin_model_unref",
	"simlin_model_get_var_count", "simlin_model_get_var_names",
	"simlin_model_get_incoming_link_count", "simlin_model_get_incoming_links",
	"simlin_model_get_links",
	"simlin_sim_new", "simlin_sim_ref", "simlin_sim_unref",
	"simlin_sim_run_to", "simlin_sim_run_to_end", "simlin_sim_reset",
	"simlin_sim_get_stepcount",
	"simlin_sim_get_var_count", "simlin_sim_get_var_names",
	"simlin_sim_get_value", "simlin_sim_set_value", "simlin_sim_get_series",
	"simlin_analyze_get_loops", "simlin_analyze_get_relative_loop_score",
	"simlin_error_str", "simlin_error_free",
	"simlin_free_string", "simlin_free_error_details",
	"simlin_free_links", "simlin_free_loops",
}

// New compiles and instantiates an engine from wasm bytes.
func New(ctx context.Context, wasmBytes []byte) (*Engine, error) {
	return NewWithConfig(ctx, wasmBytes, nil)
}

// NewWithConfig compiles and instantiates an engine with custom
// configuration.
func NewWithConfig(ctx context.Context, wasmBytes []byte, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile engine module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("simlin").WithStartFunctions("_initialize"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate engine module: %w", err)
	}

	e := &Engine{
		ctx:     ctx,
		runtime: rt,
		mod:     mod,
		mem:     mod.Memory(),
		fns:     make(map[string]api.Function, len(guestFunctions)),
	}
	for _, name := range guestFunctions {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("engine module missing export %q", name)
		}
		e.fns[name] = fn
	}

	Logger().Debug("instantiated wasm engine", zap.Int("moduleBytes", len(wasmBytes)))
	return e, nil
}

// Close tears down the wazero runtime and every guest resource with it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtime.Close(e.ctx)
}

// call invokes a guest export. Callers must hold e.mu.
func (e *Engine) call(name string, args ...uint64) (uint64, *simlin.Fault) {
	results, err := e.fns[name].Call(e.ctx, args...)
	if err != nil {
		return 0, &simlin.Fault{
			Code:    simlin.ErrGeneric,
			Message: fmt.Sprintf("guest call %s: %v", name, err),
		}
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// alloc reserves guest memory via simlin_malloc.
func (e *Engine) alloc(size uint32) (uint32, *simlin.Fault) {
	ptr, fault := e.call("simlin_malloc", uint64(size))
	if fault != nil {
		return 0, fault
	}
	if ptr == 0 {
		return 0, &simlin.Fault{Code: simlin.ErrGeneric, Message: "guest allocation failed"}
	}
	return uint32(ptr), nil
}

func (e *Engine) free(ptr uint32) {
	if ptr != 0 {
		_, _ = e.call("simlin_free", uint64(ptr))
	}
}

// writeBytes copies data into freshly allocated guest memory.
func (e *Engine) writeBytes(data []byte) (uint32, *simlin.Fault) {
	if len(data) == 0 {
		return 0, nil
	}
	ptr, fault := e.alloc(uint32(len(data)))
	if fault != nil {
		return 0, fault
	}
	if !e.mem.Write(ptr, data) {
		e.free(ptr)
		return 0, &simlin.Fault{Code: simlin.ErrGeneric, Message: "guest memory write out of range"}
	}
	return ptr, nil
}

// writeCString copies s into guest memory with a NUL terminator.
func (e *Engine) writeCString(s string) (uint32, *simlin.Fault) {
	return e.writeBytes(append([]byte(s), 0))
}

// newSlot allocates a zeroed 4-byte out-pointer slot in guest memory.
func (e *Engine) newSlot() (uint32, *simlin.Fault) {
	ptr, fault := e.alloc(slotSize)
	if fault != nil {
		return 0, fault
	}
	e.mem.WriteUint32Le(ptr, 0)
	return ptr, nil
}

func (e *Engine) readU32(ptr uint32) uint32 {
	v, _ := e.mem.ReadUint32Le(ptr)
	return v
}

func (e *Engine) readU8(ptr uint32) uint8 {
	v, _ := e.mem.ReadByte(ptr)
	return v
}

func (e *Engine) readF64(ptr uint32) float64 {
	v, _ := e.mem.ReadFloat64Le(ptr)
	return v
}

// readCString copies a NUL-terminated guest string.
func (e *Engine) readCString(ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	var out []byte
	for {
		chunk, ok := e.mem.Read(ptr+uint32(len(out)), 256)
		if !ok {
			// Partial final page; fall back to byte-at-a-time.
			b, ok := e.mem.ReadByte(ptr + uint32(len(out)))
			if !ok || b == 0 {
				return string(out)
			}
			out = append(out, b)
			continue
		}
		for i, b := range chunk {
			if b == 0 {
				return string(append(out, chunk[:i]...))
			}
		}
		out = append(out, chunk...)
	}
}

// takeString copies and frees a guest-allocated string.
func (e *Engine) takeString(ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	s := e.readCString(ptr)
	_, _ = e.call("simlin_free_string", uint64(ptr))
	return s
}

// takeFault drains an out-error slot: reads the guest error object,
// copies it to Go memory, frees it, and frees the slot itself.
func (e *Engine) takeFault(slot uint32) *simlin.Fault {
	ptr := e.readU32(slot)
	e.free(slot)
	if ptr == 0 {
		return nil
	}

	fault := &simlin.Fault{
		Code:    simlin.ErrorCode(int32(e.readU32(ptr))),
		Message: e.readCString(e.readU32(ptr + 4)),
	}
	if fault.Message == "" {
		fault.Message = fault.Code.String()
	}
	detailsPtr := e.readU32(ptr + 8)
	detailCount := e.readU32(ptr + 12)
	if detailsPtr != 0 && detailCount > 0 {
		fault.Details = e.copyDetails(detailsPtr, detailCount)
	}

	_, _ = e.call("simlin_error_free", uint64(ptr))
	return fault
}

func (e *Engine) copyDetails(ptr, count uint32) []simlin.ErrorDetail {
	details := make([]simlin.ErrorDetail, 0, count)
	for i := uint32(0); i < count; i++ {
		base := ptr + i*errDetailSize
		details = append(details, simlin.ErrorDetail{
			Code:         simlin.ErrorCode(int32(e.readU32(base))),
			Message:      e.readCString(e.readU32(base + 4)),
			ModelName:    e.readCString(e.readU32(base + 8)),
			VariableName: e.readCString(e.readU32(base + 12)),
			Start:        e.readU32(base + 16),
			End:          e.readU32(base + 20),
			Kind:         simlin.DetailKind(e.readU8(base + 24)),
			UnitKind:     simlin.UnitErrorKind(e.readU8(base + 25)),
		})
	}
	return details
}

func (e *Engine) faultFromCode(rc int32) *simlin.Fault {
	code := simlin.ErrorCode(-rc)
	return &simlin.Fault{Code: code, Message: e.errorString(code)}
}

// fillNames runs the count-then-fill protocol against guest memory.
func (e *Engine) fillNames(countFn, fillFn string, extraArgs ...uint64) ([]string, *simlin.Fault) {
	rc, fault := e.call(countFn, extraArgs...)
	if fault != nil {
		return nil, fault
	}
	n := int32(uint32(rc))
	if n < 0 {
		return nil, e.faultFromCode(n)
	}
	if n == 0 {
		return nil, nil
	}

	arr, fault := e.alloc(uint32(n) * slotSize)
	if fault != nil {
		return nil, fault
	}
	defer e.free(arr)

	args := append(append([]uint64{}, extraArgs...), uint64(arr), uint64(uint32(n)))
	rc, fault = e.call(fillFn, args...)
	if fault != nil {
		return nil, fault
	}
	written := int32(uint32(rc))
	if written < 0 {
		return nil, e.faultFromCode(written)
	}
	if written != n {
		// Count/fill disagreement is a hard failure, not a partial
		// result; drain whatever the guest wrote first.
		for i := int32(0); i < written && i < n; i++ {
			e.takeString(e.readU32(arr + uint32(i)*slotSize))
		}
		return nil, shortCountFault("name query", written, n)
	}

	names := make([]string, 0, written)
	for i := int32(0); i < written; i++ {
		names = append(names, e.takeString(e.readU32(arr+uint32(i)*slotSize)))
	}
	return names, nil
}

// shortCountFault reports an array query whose fill count disagrees
// with its count query.
func shortCountFault(what string, got, want int32) *simlin.Fault {
	return &simlin.Fault{
		Code:    simlin.ErrGeneric,
		Message: fmt.Sprintf("%s wrote %d of %d entries", what, got, want),
	}
}

func (e *Engine) Open(data []byte) (simlin.Handle, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf, fault := e.writeBytes(data)
	if fault != nil {
		return 0, fault
	}
	defer e.free(buf)

	slot, fault := e.newSlot()
	if fault != nil {
		return 0, fault
	}
	h, fault := e.call("simlin_project_open", uint64(buf), uint64(uint32(len(data))), uint64(slot))
	if fault != nil {
		e.free(slot)
		return 0, fault
	}
	if fault := e.takeFault(slot); fault != nil {
		return 0, fault
	}
	if h == 0 {
		return 0, simlin.Fail(simlin.ErrGeneric)
	}
	return simlin.Handle(h), nil
}

func (e *Engine) ProjectRef(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.call("simlin_project_ref", uint64(h))
}

func (e *Engine) ProjectUnref(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.call("simlin_project_unref", uint64(h))
}

func (e *Engine) ProjectModelNames(h simlin.Handle) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fillNames("simlin_project_get_model_count", "simlin_project_get_model_names", uint64(h))
}

func (e *Engine) ProjectModel(h simlin.Handle, name string) (simlin.Handle, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var namePtr uint32
	if name != "" {
		var fault *simlin.Fault
		namePtr, fault = e.writeCString(name)
		if fault != nil {
			return 0, fault
		}
		defer e.free(namePtr)
	}

	slot, fault := e.newSlot()
	if fault != nil {
		return 0, fault
	}
	m, fault := e.call("simlin_project_get_model", uint64(h), uint64(namePtr), uint64(slot))
	if fault != nil {
		e.free(slot)
		return 0, fault
	}
	if fault := e.takeFault(slot); fault != nil {
		return 0, fault
	}
	if m == 0 {
		return 0, simlin.Fail(simlin.ErrBadModelName)
	}
	return simlin.Handle(m), nil
}

func (e *Engine) ProjectApplyPatch(h simlin.Handle, patch []byte, dryRun, allowErrors bool) ([]simlin.ErrorDetail, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf, fault := e.writeBytes(patch)
	if fault != nil {
		return nil, fault
	}
	defer e.free(buf)

	detailsSlot, fault := e.newSlot()
	if fault != nil {
		return nil, fault
	}
	errSlot, fault := e.newSlot()
	if fault != nil {
		e.free(detailsSlot)
		return nil, fault
	}

	_, fault = e.call("simlin_project_apply_patch",
		uint64(h), uint64(buf), uint64(uint32(len(patch))),
		uint64(boolU32(dryRun)), uint64(boolU32(allowErrors)),
		uint64(detailsSlot), uint64(errSlot))
	if fault != nil {
		e.free(detailsSlot)
		e.free(errSlot)
		return nil, fault
	}

	var details []simlin.ErrorDetail
	listPtr := e.readU32(detailsSlot)
	e.free(detailsSlot)
	if listPtr != 0 {
		arr := e.readU32(listPtr)
		count := e.readU32(listPtr + 4)
		if arr != 0 && count > 0 {
			details = e.copyDetails(arr, count)
		}
		_, _ = e.call("simlin_free_error_details", uint64(listPtr))
	}

	if fault := e.takeFault(errSlot); fault != nil {
		return nil, fault
	}
	return details, nil
}

// takeBuffer runs the two-phase buffer protocol for serialize-style
// exports taking (project, out, len_out, err_out).
func (e *Engine) takeBuffer(fn string, h simlin.Handle) ([]byte, *simlin.Fault) {
	bufSlot, fault := e.newSlot()
	if fault != nil {
		return nil, fault
	}
	lenSlot, fault := e.newSlot()
	if fault != nil {
		e.free(bufSlot)
		return nil, fault
	}
	errSlot, fault := e.newSlot()
	if fault != nil {
		e.free(bufSlot)
		e.free(lenSlot)
		return nil, fault
	}

	_, fault = e.call(fn, uint64(h), uint64(bufSlot), uint64(lenSlot), uint64(errSlot))
	if fault != nil {
		e.free(bufSlot)
		e.free(lenSlot)
		e.free(errSlot)
		return nil, fault
	}

	ptr := e.readU32(bufSlot)
	length := e.readU32(lenSlot)
	e.free(bufSlot)
	e.free(lenSlot)

	if fault := e.takeFault(errSlot); fault != nil {
		e.free(ptr)
		return nil, fault
	}
	if ptr == 0 || length == 0 {
		return nil, nil
	}

	data, ok := e.mem.Read(ptr, length)
	if !ok {
		e.free(ptr)
		return nil, &simlin.Fault{Code: simlin.ErrGeneric, Message: "guest buffer out of range"}
	}
	out := make([]byte, length)
	copy(out, data)
	e.free(ptr)
	return out, nil
}

func (e *Engine) ProjectSerialize(h simlin.Handle) ([]byte, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.takeBuffer("simlin_project_serialize", h)
}

func (e *Engine) ProjectExportXMILE(h simlin.Handle) ([]byte, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.takeBuffer("simlin_export_xmile", h)
}

func (e *Engine) ModelRef(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.call("simlin_model_ref", uint64(h))
}

func (e *Engine) ModelUnref(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.call("simlin_model_unref", uint64(h))
}

func (e *Engine) ModelVarNames(h simlin.Handle) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fillNames("simlin_model_get_var_count", "simlin_model_get_var_names", uint64(h))
}

func (e *Engine) ModelIncomingLinks(h simlin.Handle, varName string) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	namePtr, fault := e.writeCString(varName)
	if fault != nil {
		return nil, fault
	}
	defer e.free(namePtr)

	return e.fillNames("simlin_model_get_incoming_link_count", "simlin_model_get_incoming_links",
		uint64(h), uint64(namePtr))
}

func (e *Engine) ModelLinks(h simlin.Handle) ([]simlin.Link, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, fault := e.newSlot()
	if fault != nil {
		return nil, fault
	}
	ptr, fault := e.call("simlin_model_get_links", uint64(h), uint64(slot))
	if fault != nil {
		e.free(slot)
		return nil, fault
	}
	if fault := e.takeFault(slot); fault != nil {
		return nil, fault
	}
	if ptr == 0 {
		return nil, nil
	}

	listPtr := uint32(ptr)
	arr := e.readU32(listPtr)
	count := e.readU32(listPtr + 4)
	links := make([]simlin.Link, 0, count)
	for i := uint32(0); i < count; i++ {
		base := arr + i*linkSize
		link := simlin.Link{
			From:     e.readCString(e.readU32(base)),
			To:       e.readCString(e.readU32(base + 4)),
			Polarity: simlin.LinkPolarity(e.readU8(base + 8)),
		}
		scorePtr := e.readU32(base + 12)
		scoreLen := e.readU32(base + 16)
		if scorePtr != 0 && scoreLen > 0 {
			link.Score = make([]float64, scoreLen)
			for j := uint32(0); j < scoreLen; j++ {
				link.Score[j] = e.readF64(scorePtr + j*8)
			}
		}
		links = append(links, link)
	}

	_, _ = e.call("simlin_free_links", uint64(listPtr))
	return links, nil
}

func (e *Engine) SimNew(model simlin.Handle, enableLTM bool) (simlin.Handle, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, fault := e.newSlot()
	if fault != nil {
		return 0, fault
	}
	s, fault := e.call("simlin_sim_new", uint64(model), uint64(boolU32(enableLTM)), uint64(slot))
	if fault != nil {
		e.free(slot)
		return 0, fault
	}
	if fault := e.takeFault(slot); fault != nil {
		return 0, fault
	}
	if s == 0 {
		return 0, simlin.Fail(simlin.ErrNotSimulatable)
	}
	return simlin.Handle(s), nil
}

func (e *Engine) SimRef(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.call("simlin_sim_ref", uint64(h))
}

func (e *Engine) SimUnref(h simlin.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.call("simlin_sim_unref", uint64(h))
}

// intCall invokes a guest export with a legacy int return: negative is
// a negated error code.
func (e *Engine) intCall(name string, args ...uint64) (int32, *simlin.Fault) {
	rc, fault := e.call(name, args...)
	if fault != nil {
		return 0, fault
	}
	n := int32(uint32(rc))
	if n < 0 {
		return 0, e.faultFromCode(n)
	}
	return n, nil
}

func (e *Engine) SimRunTo(h simlin.Handle, t float64) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, fault := e.intCall("simlin_sim_run_to", uint64(h), api.EncodeF64(t))
	return fault
}

func (e *Engine) SimRunToEnd(h simlin.Handle) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, fault := e.intCall("simlin_sim_run_to_end", uint64(h))
	return fault
}

func (e *Engine) SimReset(h simlin.Handle) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, fault := e.intCall("simlin_sim_reset", uint64(h))
	return fault
}

func (e *Engine) SimStepCount(h simlin.Handle) (int, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepCountLocked(h)
}

func (e *Engine) stepCountLocked(h simlin.Handle) (int, *simlin.Fault) {
	n, fault := e.intCall("simlin_sim_get_stepcount", uint64(h))
	return int(n), fault
}

func (e *Engine) SimVarNames(h simlin.Handle) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fillNames("simlin_sim_get_var_count", "simlin_sim_get_var_names", uint64(h))
}

func (e *Engine) SimGetValue(h simlin.Handle, name string) (float64, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	namePtr, fault := e.writeCString(name)
	if fault != nil {
		return 0, fault
	}
	defer e.free(namePtr)

	resultPtr, fault := e.alloc(8)
	if fault != nil {
		return 0, fault
	}
	defer e.free(resultPtr)

	if _, fault := e.intCall("simlin_sim_get_value", uint64(h), uint64(namePtr), uint64(resultPtr)); fault != nil {
		return 0, fault
	}
	return e.readF64(resultPtr), nil
}

func (e *Engine) SimSetValue(h simlin.Handle, name string, val float64) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()

	namePtr, fault := e.writeCString(name)
	if fault != nil {
		return fault
	}
	defer e.free(namePtr)

	_, fault = e.intCall("simlin_sim_set_value", uint64(h), uint64(namePtr), api.EncodeF64(val))
	return fault
}

func (e *Engine) SimSeries(h simlin.Handle, name string) ([]float64, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, fault := e.stepCountLocked(h)
	if fault != nil {
		return nil, fault
	}
	if n == 0 {
		return nil, nil
	}

	namePtr, fault := e.writeCString(name)
	if fault != nil {
		return nil, fault
	}
	defer e.free(namePtr)

	buf, fault := e.alloc(uint32(n) * 8)
	if fault != nil {
		return nil, fault
	}
	defer e.free(buf)

	written, fault := e.intCall("simlin_sim_get_series",
		uint64(h), uint64(namePtr), uint64(buf), uint64(uint32(n)))
	if fault != nil {
		return nil, fault
	}
	if int(written) != n {
		return nil, shortCountFault("series query", written, int32(n))
	}

	series := make([]float64, n)
	for i := 0; i < n; i++ {
		series[i] = e.readF64(buf + uint32(i)*8)
	}
	return series, nil
}

func (e *Engine) SimLoops(h simlin.Handle) ([]simlin.Loop, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, fault := e.newSlot()
	if fault != nil {
		return nil, fault
	}
	ptr, fault := e.call("simlin_analyze_get_loops", uint64(h), uint64(slot))
	if fault != nil {
		e.free(slot)
		return nil, fault
	}
	if fault := e.takeFault(slot); fault != nil {
		return nil, fault
	}
	if ptr == 0 {
		return nil, nil
	}

	listPtr := uint32(ptr)
	arr := e.readU32(listPtr)
	count := e.readU32(listPtr + 4)
	loops := make([]simlin.Loop, 0, count)
	for i := uint32(0); i < count; i++ {
		base := arr + i*loopSize
		loop := simlin.Loop{
			ID:       e.readCString(e.readU32(base)),
			Polarity: simlin.LoopPolarity(e.readU8(base + 12)),
		}
		varsPtr := e.readU32(base + 4)
		varCount := e.readU32(base + 8)
		if varsPtr != 0 && varCount > 0 {
			loop.Variables = make([]string, 0, varCount)
			for j := uint32(0); j < varCount; j++ {
				loop.Variables = append(loop.Variables, e.readCString(e.readU32(varsPtr+j*slotSize)))
			}
		}
		loops = append(loops, loop)
	}

	_, _ = e.call("simlin_free_loops", uint64(listPtr))
	return loops, nil
}

func (e *Engine) SimRelativeLoopScore(h simlin.Handle, loopID string) ([]float64, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, fault := e.stepCountLocked(h)
	if fault != nil {
		return nil, fault
	}
	if n == 0 {
		return nil, nil
	}

	idPtr, fault := e.writeCString(loopID)
	if fault != nil {
		return nil, fault
	}
	defer e.free(idPtr)

	buf, fault := e.alloc(uint32(n) * 8)
	if fault != nil {
		return nil, fault
	}
	defer e.free(buf)

	written, fault := e.intCall("simlin_analyze_get_relative_loop_score",
		uint64(h), uint64(idPtr), uint64(buf), uint64(uint32(n)))
	if fault != nil {
		return nil, fault
	}
	if int(written) != n {
		return nil, shortCountFault("loop score query", written, int32(n))
	}

	score := make([]float64, n)
	for i := 0; i < n; i++ {
		score[i] = e.readF64(buf + uint32(i)*8)
	}
	return score, nil
}

// ErrorString describes an error code using the guest's static table.
func (e *Engine) ErrorString(code simlin.ErrorCode) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorString(code)
}

func (e *Engine) errorString(code simlin.ErrorCode) string {
	ptr, fault := e.call("simlin_error_str", uint64(uint32(int32(code))))
	if fault != nil || ptr == 0 {
		return code.String()
	}
	// Static guest storage; read without freeing.
	if s := e.readCString(uint32(ptr)); s != "" {
		return s
	}
	return code.String()
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
