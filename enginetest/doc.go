// Package enginetest provides an in-memory implementation of the
// simlin.Engine interface for tests and examples that must not depend
// on a native engine build.
//
// The fake stores each project as a JSON document and implements the
// query, patch and serialize operations against it. Simulation is a
// deliberately small fixed-step evaluator: enough to produce a time
// grid and settle constant and simple arithmetic equations, not a
// reimplementation of the engine's compiler or integrators.
//
// Beyond the Engine surface, the fake counts reference-count
// transitions and fault allocations so tests can assert the binding's
// exactly-once release and free discipline:
//
//	eng := enginetest.New()
//	...
//	if eng.FaultAllocs() != eng.FaultFrees() {
//	    t.Fatal("leaked a native error object")
//	}
package enginetest
