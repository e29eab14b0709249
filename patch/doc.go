// Package patch defines the structural-edit batch sent to the engine's
// apply-patch entry point and its wire encoding.
//
// A Patch is a pure value: an ordered list of typed operations grouped
// per model, plus project-level operations. Each operation variant
// declares its own tag string and payload shape at compile time; the
// wire form is a tagged-union JSON envelope
//
//	{"type": "upsert_stock", "payload": {...}}
//
// nested under the per-model operation list. Field names inside
// payloads match the engine's schema exactly, including the "from"/"to"
// keys of rename operations, and fields equal to their declared default
// are omitted.
//
// Application is all-or-nothing per call unless error-collecting mode
// is requested; see the sim package's ApplyPatch.
package patch
