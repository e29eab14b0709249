// Package wasmengine implements the simlin.Engine interface against a
// wasm32-wasi build of the engine, executed with wazero. No native
// library or C toolchain is involved, which makes this backend fully
// portable at the cost of running the engine inside a sandbox.
//
// The guest exports the same flat ABI as the native library plus
// simlin_malloc/simlin_free for guest-memory allocation. All pointers
// crossing the boundary are 32-bit guest offsets; this package owns the
// translation between guest structs and the Go types in the root
// package. A single mutex serializes guest calls: one instantiated
// module is not reentrant.
package wasmengine
