// Package simlin provides Go bindings to the Simlin system-dynamics
// simulation engine through its flat C ABI.
//
// The engine itself (XMILE/MDL parsing, equation compilation, numeric
// integration, loop-dominance analysis) is an external native library;
// this module is the lifecycle, concurrency, and error-propagation layer
// on top of it: how opaque engine handles are acquired, shared, released
// exactly once, protected against concurrent misuse, and how native
// error data crosses the boundary as structured Go errors.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	simlin/          Root package with the Engine interface and raw ABI data model
//	├── sim/         High-level API: Project, Model and Sim wrappers
//	├── native/      purego-based backend loading libsimlin at runtime
//	├── wasmengine/  wazero-based backend running the engine as wasm32-wasi
//	├── enginetest/  In-memory engine fake for tests and examples
//	├── patch/       Structural-edit batch types and their wire encoding
//	├── resource/    Finalization registry (exactly-once handle release)
//	├── errors/      Structured error taxonomy for debugging
//	└── metrics/     Prometheus collector over live handle counts
//
// # Quick Start
//
// Open a project and run a simulation:
//
//	eng, err := native.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	project, err := sim.Open(eng, projectBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer project.Close()
//
//	model, err := project.Model("main")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer model.Close()
//
//	s, err := model.NewSim(false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	if err := s.RunToEnd(); err != nil {
//	    log.Fatal(err)
//	}
//	series, err := s.Series("time")
//
// # Thread Safety
//
// Every wrapper serializes its public operations behind its own mutex and
// is safe for concurrent use. Operations on different wrappers have no
// ordering guarantee relative to each other. No wrapper operation ever
// holds more than one wrapper's lock.
//
// # Resource Model
//
// Engine handles are reference counted on the native side. Each wrapper
// exclusively owns one reference and releases it exactly once, on
// whichever of explicit Close or garbage-collector reclamation fires
// first. Closing a parent does not invalidate children, which hold their
// own references.
package simlin
