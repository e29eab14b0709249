package native

import (
	"fmt"
	"runtime"
	"unsafe"

	simlin "github.com/bpowers/simlin-sub000"
)

// C struct overlays. Layouts mirror simlin.h; field order and padding
// must not change independently of the header.

type cError struct {
	code        int32
	_           int32
	message     uintptr // char*
	details     uintptr // simlin_error_detail*
	detailCount uint64
}

type cErrorDetail struct {
	code      int32
	_         int32
	message   uintptr // char*, may be null
	modelName uintptr // char*, may be null
	varName   uintptr // char*, may be null
	start     uint32
	end       uint32
	kind      uint8
	unitKind  uint8
	_         [6]byte
}

type cErrorDetails struct {
	details uintptr // simlin_error_detail*
	count   uint64
}

type cLink struct {
	from     uintptr // char*
	to       uintptr // char*
	polarity uint8
	_        [7]byte
	score    uintptr // double*, null unless LTM
	scoreLen uint64
}

type cLinks struct {
	links uintptr // simlin_link*
	count uint64
}

type cLoop struct {
	id        uintptr // char*
	variables uintptr // char**
	varCount  uint64
	polarity  uint8
	_         [7]byte
}

type cLoops struct {
	loops uintptr // simlin_loop*
	count uint64
}

// Engine implements simlin.Engine against the loaded dynamic library.
// The zero value is not usable; construct through Load.
type Engine struct{}

var (
	defaultEngine = &Engine{}
)

// Load initializes the dynamic library (once per process) and returns
// the native engine. Subsequent calls return the same engine.
func Load() (*Engine, error) {
	if err := initLibrary(); err != nil {
		return nil, err
	}
	return defaultEngine, nil
}

// takeFault drains an out-error slot: nil for a null slot, otherwise a
// fully copied Fault with the native error object freed. The slot is
// zeroed either way.
func takeFault(slot *uintptr) *simlin.Fault {
	ptr := *slot
	*slot = 0
	if ptr == 0 {
		return nil
	}

	ce := (*cError)(unsafe.Pointer(ptr))
	fault := &simlin.Fault{
		Code:    simlin.ErrorCode(ce.code),
		Message: goString(ce.message),
	}
	if fault.Message == "" {
		fault.Message = fault.Code.String()
	}
	if ce.details != 0 && ce.detailCount > 0 {
		fault.Details = copyDetails(ce.details, ce.detailCount)
	}

	fnErrorFree(ptr)
	return fault
}

// copyDetails copies a native detail array into Go memory. It does not
// free the array; ownership stays with the enclosing object.
func copyDetails(ptr uintptr, count uint64) []simlin.ErrorDetail {
	size := unsafe.Sizeof(cErrorDetail{})
	details := make([]simlin.ErrorDetail, 0, count)
	for i := uint64(0); i < count; i++ {
		cd := (*cErrorDetail)(unsafe.Pointer(ptr + uintptr(i)*size))
		details = append(details, simlin.ErrorDetail{
			Code:         simlin.ErrorCode(cd.code),
			Message:      goString(cd.message),
			ModelName:    goString(cd.modelName),
			VariableName: goString(cd.varName),
			Start:        cd.start,
			End:          cd.end,
			Kind:         simlin.DetailKind(cd.kind),
			UnitKind:     simlin.UnitErrorKind(cd.unitKind),
		})
	}
	return details
}

// faultFromCode wraps a legacy integer-return error. rc is the negated
// error code some query functions return instead of using an out-error.
func (e *Engine) faultFromCode(rc int32) *simlin.Fault {
	code := simlin.ErrorCode(-rc)
	return &simlin.Fault{Code: code, Message: e.ErrorString(code)}
}

// takeString copies and frees an engine-allocated C string.
func takeString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	s := goString(ptr)
	fnFreeString(ptr)
	return s
}

// fillNames runs the count-then-fill protocol shared by every name
// query: count returns the array size (or a negated error code), fill
// writes engine-allocated char* entries that we copy and free.
func (e *Engine) fillNames(
	count func() int32,
	fill func(result uintptr, max uint64) int32,
) ([]string, *simlin.Fault) {
	n := count()
	if n < 0 {
		return nil, e.faultFromCode(n)
	}
	if n == 0 {
		return nil, nil
	}

	ptrs := make([]uintptr, n)
	written := fill(uintptr(unsafe.Pointer(&ptrs[0])), uint64(n))
	if written < 0 {
		return nil, e.faultFromCode(written)
	}
	if written != n {
		// The engine promised n entries and delivered something else;
		// treat the mismatch as a hard failure, not a partial result.
		for i := int32(0); i < written && i < n; i++ {
			takeString(ptrs[i])
		}
		runtime.KeepAlive(ptrs)
		return nil, shortCountFault("name query", written, n)
	}

	names := make([]string, 0, written)
	for i := int32(0); i < written; i++ {
		names = append(names, takeString(ptrs[i]))
	}
	runtime.KeepAlive(ptrs)
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
	var errSlot uintptr
	h := fnProjectOpen(bytePtr(data), uint64(len(data)), uintptr(unsafe.Pointer(&errSlot)))
	runtime.KeepAlive(data)

	if fault := takeFault(&errSlot); fault != nil {
		return 0, fault
	}
	if h == 0 {
		return 0, simlin.Fail(simlin.ErrGeneric)
	}
	return simlin.Handle(h), nil
}

func (e *Engine) ProjectRef(h simlin.Handle)   { fnProjectRef(uintptr(h)) }
func (e *Engine) ProjectUnref(h simlin.Handle) { fnProjectUnref(uintptr(h)) }

func (e *Engine) ProjectModelNames(h simlin.Handle) ([]string, *simlin.Fault) {
	return e.fillNames(
		func() int32 { return fnProjectGetModelCount(uintptr(h)) },
		func(result uintptr, max uint64) int32 {
			return fnProjectGetModelNames(uintptr(h), result, max)
		},
	)
}

func (e *Engine) ProjectModel(h simlin.Handle, name string) (simlin.Handle, *simlin.Fault) {
	var namePtr uintptr
	var nameBuf []byte
	if name != "" {
		nameBuf = cString(name)
		namePtr = bytePtr(nameBuf)
	}

	var errSlot uintptr
	m := fnProjectGetModel(uintptr(h), namePtr, uintptr(unsafe.Pointer(&errSlot)))
	runtime.KeepAlive(nameBuf)

	if fault := takeFault(&errSlot); fault != nil {
		return 0, fault
	}
	if m == 0 {
		return 0, simlin.Fail(simlin.ErrBadModelName)
	}
	return simlin.Handle(m), nil
}

func (e *Engine) ProjectApplyPatch(h simlin.Handle, patch []byte, dryRun, allowErrors bool) ([]simlin.ErrorDetail, *simlin.Fault) {
	var detailsSlot, errSlot uintptr
	fnProjectApplyPatch(uintptr(h), bytePtr(patch), uint64(len(patch)),
		boolByte(dryRun), boolByte(allowErrors),
		uintptr(unsafe.Pointer(&detailsSlot)),
		uintptr(unsafe.Pointer(&errSlot)))
	runtime.KeepAlive(patch)

	var details []simlin.ErrorDetail
	if detailsSlot != 0 {
		cds := (*cErrorDetails)(unsafe.Pointer(detailsSlot))
		if cds.details != 0 && cds.count > 0 {
			details = copyDetails(cds.details, cds.count)
		}
		fnFreeErrorDetails(detailsSlot)
	}

	if fault := takeFault(&errSlot); fault != nil {
		return nil, fault
	}
	return details, nil
}

// takeBuffer runs the two-phase buffer protocol for serialize-style
// calls: the engine allocates, we copy to Go memory and free.
func takeBuffer(call func(out, lenOut, errOut uintptr)) ([]byte, *simlin.Fault) {
	var bufSlot uintptr
	var lenSlot uint64
	var errSlot uintptr
	call(uintptr(unsafe.Pointer(&bufSlot)),
		uintptr(unsafe.Pointer(&lenSlot)),
		uintptr(unsafe.Pointer(&errSlot)))

	if fault := takeFault(&errSlot); fault != nil {
		if bufSlot != 0 {
			fnFree(bufSlot)
		}
		return nil, fault
	}
	if bufSlot == 0 || lenSlot == 0 {
		return nil, nil
	}

	data := make([]byte, lenSlot)
	copy(data, unsafe.Slice((*byte)(unsafe.Pointer(bufSlot)), lenSlot))
	fnFree(bufSlot)
	return data, nil
}

func (e *Engine) ProjectSerialize(h simlin.Handle) ([]byte, *simlin.Fault) {
	return takeBuffer(func(out, lenOut, errOut uintptr) {
		fnProjectSerialize(uintptr(h), out, lenOut, errOut)
	})
}

func (e *Engine) ProjectExportXMILE(h simlin.Handle) ([]byte, *simlin.Fault) {
	return takeBuffer(func(out, lenOut, errOut uintptr) {
		fnExportXMILE(uintptr(h), out, lenOut, errOut)
	})
}

func (e *Engine) ModelRef(h simlin.Handle)   { fnModelRef(uintptr(h)) }
func (e *Engine) ModelUnref(h simlin.Handle) { fnModelUnref(uintptr(h)) }

func (e *Engine) ModelVarNames(h simlin.Handle) ([]string, *simlin.Fault) {
	return e.fillNames(
		func() int32 { return fnModelGetVarCount(uintptr(h)) },
		func(result uintptr, max uint64) int32 {
			return fnModelGetVarNames(uintptr(h), result, max)
		},
	)
}

func (e *Engine) ModelIncomingLinks(h simlin.Handle, varName string) ([]string, *simlin.Fault) {
	nameBuf := cString(varName)
	defer runtime.KeepAlive(nameBuf)
	namePtr := bytePtr(nameBuf)

	return e.fillNames(
		func() int32 { return fnModelGetLinkCount(uintptr(h), namePtr) },
		func(result uintptr, max uint64) int32 {
			return fnModelGetIncomingLinks(uintptr(h), namePtr, result, max)
		},
	)
}

func (e *Engine) ModelLinks(h simlin.Handle) ([]simlin.Link, *simlin.Fault) {
	var errSlot uintptr
	ptr := fnModelGetLinks(uintptr(h), uintptr(unsafe.Pointer(&errSlot)))
	if fault := takeFault(&errSlot); fault != nil {
		if ptr != 0 {
			fnFreeLinks(ptr)
		}
		return nil, fault
	}
	if ptr == 0 {
		return nil, nil
	}

	cls := (*cLinks)(unsafe.Pointer(ptr))
	size := unsafe.Sizeof(cLink{})
	links := make([]simlin.Link, 0, cls.count)
	for i := uint64(0); i < cls.count; i++ {
		cl := (*cLink)(unsafe.Pointer(cls.links + uintptr(i)*size))
		link := simlin.Link{
			From:     goString(cl.from),
			To:       goString(cl.to),
			Polarity: simlin.LinkPolarity(cl.polarity),
		}
		if cl.score != 0 && cl.scoreLen > 0 {
			link.Score = make([]float64, cl.scoreLen)
			copy(link.Score, unsafe.Slice((*float64)(unsafe.Pointer(cl.score)), cl.scoreLen))
		}
		links = append(links, link)
	}

	fnFreeLinks(ptr)
	return links, nil
}

func (e *Engine) SimNew(model simlin.Handle, enableLTM bool) (simlin.Handle, *simlin.Fault) {
	var errSlot uintptr
	s := fnSimNew(uintptr(model), boolByte(enableLTM), uintptr(unsafe.Pointer(&errSlot)))
	if fault := takeFault(&errSlot); fault != nil {
		return 0, fault
	}
	if s == 0 {
		return 0, simlin.Fail(simlin.ErrNotSimulatable)
	}
	return simlin.Handle(s), nil
}

func (e *Engine) SimRef(h simlin.Handle)   { fnSimRef(uintptr(h)) }
func (e *Engine) SimUnref(h simlin.Handle) { fnSimUnref(uintptr(h)) }

func (e *Engine) SimRunTo(h simlin.Handle, t float64) *simlin.Fault {
	if rc := fnSimRunTo(uintptr(h), t); rc < 0 {
		return e.faultFromCode(rc)
	}
	return nil
}

func (e *Engine) SimRunToEnd(h simlin.Handle) *simlin.Fault {
	if rc := fnSimRunToEnd(uintptr(h)); rc < 0 {
		return e.faultFromCode(rc)
	}
	return nil
}

func (e *Engine) SimReset(h simlin.Handle) *simlin.Fault {
	if rc := fnSimReset(uintptr(h)); rc < 0 {
		return e.faultFromCode(rc)
	}
	return nil
}

func (e *Engine) SimStepCount(h simlin.Handle) (int, *simlin.Fault) {
	n := fnSimGetStepCount(uintptr(h))
	if n < 0 {
		return 0, e.faultFromCode(n)
	}
	return int(n), nil
}

func (e *Engine) SimVarNames(h simlin.Handle) ([]string, *simlin.Fault) {
	return e.fillNames(
		func() int32 { return fnSimGetVarCount(uintptr(h)) },
		func(result uintptr, max uint64) int32 {
			return fnSimGetVarNames(uintptr(h), result, max)
		},
	)
}

func (e *Engine) SimGetValue(h simlin.Handle, name string) (float64, *simlin.Fault) {
	nameBuf := cString(name)
	var result float64
	rc := fnSimGetValue(uintptr(h), bytePtr(nameBuf), uintptr(unsafe.Pointer(&result)))
	runtime.KeepAlive(nameBuf)
	if rc < 0 {
		return 0, e.faultFromCode(rc)
	}
	return result, nil
}

func (e *Engine) SimSetValue(h simlin.Handle, name string, val float64) *simlin.Fault {
	nameBuf := cString(name)
	rc := fnSimSetValue(uintptr(h), bytePtr(nameBuf), val)
	runtime.KeepAlive(nameBuf)
	if rc < 0 {
		return e.faultFromCode(rc)
	}
	return nil
}

func (e *Engine) SimSeries(h simlin.Handle, name string) ([]float64, *simlin.Fault) {
	n, fault := e.SimStepCount(h)
	if fault != nil {
		return nil, fault
	}
	if n == 0 {
		return nil, nil
	}

	nameBuf := cString(name)
	series := make([]float64, n)
	rc := fnSimGetSeries(uintptr(h), bytePtr(nameBuf),
		uintptr(unsafe.Pointer(&series[0])), uint64(n))
	runtime.KeepAlive(nameBuf)
	if rc < 0 {
		return nil, e.faultFromCode(rc)
	}
	if int(rc) != n {
		return nil, shortCountFault("series query", rc, int32(n))
	}
	return series, nil
}

func (e *Engine) SimLoops(h simlin.Handle) ([]simlin.Loop, *simlin.Fault) {
	var errSlot uintptr
	ptr := fnAnalyzeGetLoops(uintptr(h), uintptr(unsafe.Pointer(&errSlot)))
	if fault := takeFault(&errSlot); fault != nil {
		if ptr != 0 {
			fnFreeLoops(ptr)
		}
		return nil, fault
	}
	if ptr == 0 {
		return nil, nil
	}

	cls := (*cLoops)(unsafe.Pointer(ptr))
	size := unsafe.Sizeof(cLoop{})
	ptrSize := unsafe.Sizeof(uintptr(0))
	loops := make([]simlin.Loop, 0, cls.count)
	for i := uint64(0); i < cls.count; i++ {
		cl := (*cLoop)(unsafe.Pointer(cls.loops + uintptr(i)*size))
		loop := simlin.Loop{
			ID:       goString(cl.id),
			Polarity: simlin.LoopPolarity(cl.polarity),
		}
		if cl.variables != 0 && cl.varCount > 0 {
			loop.Variables = make([]string, 0, cl.varCount)
			for j := uint64(0); j < cl.varCount; j++ {
				strPtr := *(*uintptr)(unsafe.Pointer(cl.variables + uintptr(j)*ptrSize))
				loop.Variables = append(loop.Variables, goString(strPtr))
			}
		}
		loops = append(loops, loop)
	}

	fnFreeLoops(ptr)
	return loops, nil
}

func (e *Engine) SimRelativeLoopScore(h simlin.Handle, loopID string) ([]float64, *simlin.Fault) {
	n, fault := e.SimStepCount(h)
	if fault != nil {
		return nil, fault
	}
	if n == 0 {
		return nil, nil
	}

	idBuf := cString(loopID)
	score := make([]float64, n)
	rc := fnAnalyzeGetRelLoopScore(uintptr(h), bytePtr(idBuf),
		uintptr(unsafe.Pointer(&score[0])), uint64(n))
	runtime.KeepAlive(idBuf)
	if rc < 0 {
		return nil, e.faultFromCode(rc)
	}
	if int(rc) != n {
		return nil, shortCountFault("loop score query", rc, int32(n))
	}
	return score, nil
}

// ErrorString describes an error code using the engine's static table,
// falling back to the binding's own names when the library is absent.
func (e *Engine) ErrorString(code simlin.ErrorCode) string {
	if fnErrorStr == nil {
		return code.String()
	}
	if s := goString(fnErrorStr(int32(code))); s != "" {
		return s
	}
	return code.String()
}
