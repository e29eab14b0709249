// Package resource tracks live native-handle wrappers and guarantees
// each wrapper's release callback runs at most once.
//
// Correctness lives in the Releaser: an atomic already-released flag
// colocated with the callback, flipped by whichever of explicit Close or
// garbage-collector reclamation fires first. The Registry itself is a
// diagnostics-only weak observer: it holds no reference to wrappers,
// never invokes callbacks, and exists so tests and metrics can count
// live handles per kind and subscribe to lifecycle events.
//
// The registry's single mutex is held only for O(1) map operations,
// never across a native call.
package resource
