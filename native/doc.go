// Package native implements the simlin.Engine interface against a
// native libsimlin build, loaded at runtime with purego so no C
// toolchain is needed to build or cross-compile this module.
//
// The library is located through SIMLIN_LIB_PATH or a platform search
// list; see Load. All boundary mechanics live here: C string
// conversion, out-error slots (read and freed exactly once, before any
// error value escapes), count-then-fill name array queries, and the
// two-phase buffer protocol where the engine allocates, the binding
// copies to Go memory, and the matching free runs before return.
//
// Struct overlays in this package mirror the C layouts in simlin.h and
// must change in lockstep with it.
package native
