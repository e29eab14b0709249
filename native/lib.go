package native

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	libHandle uintptr
	libOnce   sync.Once
	libErr    error
)

// Library function pointers, populated by initLibrary. Pointer-typed C
// parameters are declared uintptr and built with unsafe at call sites.
var (
	// Project lifecycle and queries
	fnProjectOpen          func(data uintptr, length uint64, errOut uintptr) uintptr
	fnProjectRef           func(p uintptr)
	fnProjectUnref         func(p uintptr)
	fnProjectGetModelCount func(p uintptr) int32
	fnProjectGetModelNames func(p uintptr, result uintptr, max uint64) int32
	fnProjectGetModel      func(p uintptr, name uintptr, errOut uintptr) uintptr
	fnProjectApplyPatch    func(p uintptr, data uintptr, length uint64, dryRun uint8, allowErrors uint8, detailsOut uintptr, errOut uintptr)
	fnProjectSerialize     func(p uintptr, out uintptr, lenOut uintptr, errOut uintptr)
	fnExportXMILE          func(p uintptr, out uintptr, lenOut uintptr, errOut uintptr)

	// Model lifecycle and queries
	fnModelRef              func(m uintptr)
	fnModelUnref            func(m uintptr)
	fnModelGetVarCount      func(m uintptr) int32
	fnModelGetVarNames      func(m uintptr, result uintptr, max uint64) int32
	fnModelGetLinkCount     func(m uintptr, varName uintptr) int32
	fnModelGetIncomingLinks func(m uintptr, varName uintptr, result uintptr, max uint64) int32
	fnModelGetLinks         func(m uintptr, errOut uintptr) uintptr

	// Simulation
	fnSimNew          func(m uintptr, enableLTM uint8, errOut uintptr) uintptr
	fnSimRef          func(s uintptr)
	fnSimUnref        func(s uintptr)
	fnSimRunTo        func(s uintptr, t float64) int32
	fnSimRunToEnd     func(s uintptr) int32
	fnSimReset        func(s uintptr) int32
	fnSimGetStepCount func(s uintptr) int32
	fnSimGetVarCount  func(s uintptr) int32
	fnSimGetVarNames  func(s uintptr, result uintptr, max uint64) int32
	fnSimGetValue     func(s uintptr, name uintptr, result uintptr) int32
	fnSimSetValue     func(s uintptr, name uintptr, val float64) int32
	fnSimGetSeries    func(s uintptr, name uintptr, results uintptr, length uint64) int32

	// Analysis
	fnAnalyzeGetLoops       func(s uintptr, errOut uintptr) uintptr
	fnAnalyzeGetRelLoopScore func(s uintptr, loopID uintptr, results uintptr, length uint64) int32

	// Errors and memory
	fnErrorStr         func(code int32) uintptr
	fnErrorFree        func(e uintptr)
	fnFreeString       func(s uintptr)
	fnFree             func(p uintptr)
	fnFreeErrorDetails func(d uintptr)
	fnFreeLinks        func(l uintptr)
	fnFreeLoops        func(l uintptr)
)

// libraryPath returns the path to the dynamic library, preferring the
// SIMLIN_LIB_PATH environment variable.
func libraryPath() string {
	if path := os.Getenv("SIMLIN_LIB_PATH"); path != "" {
		return path
	}

	var libName string
	switch runtime.GOOS {
	case "darwin":
		libName = "libsimlin.dylib"
	case "windows":
		libName = "simlin.dll"
	default:
		libName = "libsimlin.so"
	}

	searchPaths := []string{
		libName,
		filepath.Join(".", libName),
		filepath.Join("target", "release", libName),
		filepath.Join("target", "debug", libName),
	}
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		searchPaths = append(searchPaths,
			filepath.Join(execDir, libName),
			filepath.Join(execDir, "..", "lib", libName),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}

	// Let the system loader search.
	return libName
}

// initLibrary loads the dynamic library and registers every function
// pointer. Idempotent.
func initLibrary() error {
	libOnce.Do(func() {
		path := libraryPath()
		debugf("loading engine library from %s", path)

		libHandle, libErr = purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if libErr != nil {
			libErr = fmt.Errorf("load simlin engine library from %s: %w", path, libErr)
			return
		}

		registerProjectFunctions()
		registerModelFunctions()
		registerSimFunctions()
		registerErrorFunctions()
	})

	return libErr
}

func registerProjectFunctions() {
	purego.RegisterLibFunc(&fnProjectOpen, libHandle, "simlin_project_open")
	purego.RegisterLibFunc(&fnProjectRef, libHandle, "simlin_project_ref")
	purego.RegisterLibFunc(&fnProjectUnref, libHandle, "simlin_project_unref")
	purego.RegisterLibFunc(&fnProjectGetModelCount, libHandle, "simlin_project_get_model_count")
	purego.RegisterLibFunc(&fnProjectGetModelNames, libHandle, "simlin_project_get_model_names")
	purego.RegisterLibFunc(&fnProjectGetModel, libHandle, "simlin_project_get_model")
	purego.RegisterLibFunc(&fnProjectApplyPatch, libHandle, "simlin_project_apply_patch")
	purego.RegisterLibFunc(&fnProjectSerialize, libHandle, "simlin_project_serialize")
	purego.RegisterLibFunc(&fnExportXMILE, libHandle, "simlin_export_xmile")
}

func registerModelFunctions() {
	purego.RegisterLibFunc(&fnModelRef, libHandle, "simlin_model_ref")
	purego.RegisterLibFunc(&fnModelUnref, libHandle, "simlin_model_unref")
	purego.RegisterLibFunc(&fnModelGetVarCount, libHandle, "simlin_model_get_var_count")
	purego.RegisterLibFunc(&fnModelGetVarNames, libHandle, "simlin_model_get_var_names")
	purego.RegisterLibFunc(&fnModelGetLinkCount, libHandle, "simlin_model_get_incoming_link_count")
	purego.RegisterLibFunc(&fnModelGetIncomingLinks, libHandle, "simlin_model_get_incoming_links")
	purego.RegisterLibFunc(&fnModelGetLinks, libHandle, "simlin_model_get_links")
}

func registerSimFunctions() {
	purego.RegisterLibFunc(&fnSimNew, libHandle, "simlin_sim_new")
	purego.RegisterLibFunc(&fnSimRef, libHandle, "simlin_sim_ref")
	purego.RegisterLibFunc(&fnSimUnref, libHandle, "simlin_sim_unref")
	purego.RegisterLibFunc(&fnSimRunTo, libHandle, "simlin_sim_run_to")
	purego.RegisterLibFunc(&fnSimRunToEnd, libHandle, "simlin_sim_run_to_end")
	purego.RegisterLibFunc(&fnSimReset, libHandle, "simlin_sim_reset")
	purego.RegisterLibFunc(&fnSimGetStepCount, libHandle, "simlin_sim_get_stepcount")
	purego.RegisterLibFunc(&fnSimGetVarCount, libHandle, "simlin_sim_get_var_count")
	purego.RegisterLibFunc(&fnSimGetVarNames, libHandle, "simlin_sim_get_var_names")
	purego.RegisterLibFunc(&fnSimGetValue, libHandle, "simlin_sim_get_value")
	purego.RegisterLibFunc(&fnSimSetValue, libHandle, "simlin_sim_set_value")
	purego.RegisterLibFunc(&fnSimGetSeries, libHandle, "simlin_sim_get_series")
	purego.RegisterLibFunc(&fnAnalyzeGetLoops, libHandle, "simlin_analyze_get_loops")
	purego.RegisterLibFunc(&fnAnalyzeGetRelLoopScore, libHandle, "simlin_analyze_get_relative_loop_score")
}

func registerErrorFunctions() {
	purego.RegisterLibFunc(&fnErrorStr, libHandle, "simlin_error_str")
	purego.RegisterLibFunc(&fnErrorFree, libHandle, "simlin_error_free")
	purego.RegisterLibFunc(&fnFreeString, libHandle, "simlin_free_string")
	purego.RegisterLibFunc(&fnFree, libHandle, "simlin_free")
	purego.RegisterLibFunc(&fnFreeErrorDetails, libHandle, "simlin_free_error_details")
	purego.RegisterLibFunc(&fnFreeLinks, libHandle, "simlin_free_links")
	purego.RegisterLibFunc(&fnFreeLoops, libHandle, "simlin_free_loops")
}

// goString copies a NUL-terminated C string into a Go string.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	length := 0
	for {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(length)))
		if b == 0 {
			break
		}
		length++
		if length > 1<<20 { // safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	buf := make([]byte, length)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length))
	return string(buf)
}

// cString returns a NUL-terminated byte buffer for s. Callers must
// runtime.KeepAlive the returned slice past the native call.
func cString(s string) []byte {
	return append([]byte(s), 0)
}

func bytePtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
