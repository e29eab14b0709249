// Package errors provides the structured error taxonomy for the simlin
// binding and the single place where raw engine faults become Go errors.
//
// Errors fall into a closed set of kinds: KindImport (malformed or
// unreadable input at open time), KindCompilation (invalid model
// structure, equations or units, carrying per-problem details), and
// KindRuntime (everything else: missing variable, closed handle, bad
// argument, unclassified native failure).
//
// Every engine fault funnels through Translate (or TranslateOpen at
// open/import call sites); a nonzero, null or out-error result is never
// silently swallowed:
//
//	names, fault := eng.ProjectModelNames(h)
//	if fault != nil {
//	    return nil, errors.Translate("get model names", fault)
//	}
//
// CompilationError additionally exposes the structured detail list so a
// caller can build editor-style diagnostics without string parsing.
// All errors implement the standard error interface and support
// errors.Is/As.
package errors
