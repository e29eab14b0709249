// Package sim is the high-level API for driving the simlin engine:
// Project, Model and Sim wrappers over engine handles.
//
// Each wrapper exclusively owns one native reference and moves through
// exactly two lifecycle states, open then closed. Close is idempotent
// and releases the native reference exactly once, racing disposal paths
// included; after Close every operation fails with an error matching
// errors.ErrClosed rather than touching the old handle. A wrapper that
// is never closed is released when the garbage collector reclaims it.
//
// Wrappers derived from a parent (a Model from a Project, a Sim from a
// Model) hold their own native reference: closing the parent does not
// invalidate them.
//
// All wrappers are safe for concurrent use. Every public operation
// holds its own wrapper's lock for its duration and never another
// wrapper's, so there is no lock ordering to get wrong. A long-running
// engine call (RunToEnd on a big model) blocks other operations on the
// same wrapper until it returns.
package sim
