package sim

import (
	"sync"

	"go.uber.org/zap"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/errors"
	"github.com/bpowers/simlin-sub000/resource"
)

// Sim wraps an engine simulation handle.
//
// Run calls block the calling goroutine inside the engine until the
// requested time is reached or the engine reports an error; there is no
// cancellation at this layer.
type Sim struct {
	eng      simlin.Engine
	handle   simlin.Handle
	releaser *resource.Releaser
	mu       sync.Mutex
	closed   bool
}

func newSim(eng simlin.Engine, h simlin.Handle) *Sim {
	s := &Sim{eng: eng, handle: h}
	s.releaser = resource.Default.Register(s, "sim", func() {
		eng.SimUnref(h)
	})
	return s
}

// Close releases the simulation's native reference. Safe to call more
// than once; only the first call releases.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.releaser.Release()
	return nil
}

// Closed reports whether Close has been called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RunTo advances the simulation until simulated time reaches t.
func (s *Sim) RunTo(t float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Closed("sim")
	}
	if fault := s.eng.SimRunTo(s.handle, t); fault != nil {
		return errors.Translate("run to", fault)
	}
	return nil
}

// RunToEnd advances the simulation to its configured stop time.
func (s *Sim) RunToEnd() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Closed("sim")
	}
	if fault := s.eng.SimRunToEnd(s.handle); fault != nil {
		return errors.Translate("run to end", fault)
	}
	Logger().Debug("simulation ran to end", zap.Uintptr("handle", uintptr(s.handle)))
	return nil
}

// Reset rewinds the simulation to its initial state.
func (s *Sim) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Closed("sim")
	}
	if fault := s.eng.SimReset(s.handle); fault != nil {
		return errors.Translate("reset", fault)
	}
	return nil
}

// StepCount returns the number of save steps recorded so far.
func (s *Sim) StepCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.Closed("sim")
	}
	n, fault := s.eng.SimStepCount(s.handle)
	if fault != nil {
		return 0, errors.Translate("get step count", fault)
	}
	return n, nil
}

// VarNames returns the variables visible to the simulation, including
// the built-in "time".
func (s *Sim) VarNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Closed("sim")
	}
	names, fault := s.eng.SimVarNames(s.handle)
	if fault != nil {
		return nil, errors.Translate("get variable names", fault)
	}
	return names, nil
}

// Value returns a variable's value at the current simulation time.
func (s *Sim) Value(name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.Closed("sim")
	}
	v, fault := s.eng.SimGetValue(s.handle, name)
	if fault != nil {
		return 0, errors.Translate("get value", fault)
	}
	return v, nil
}

// SetValue overrides a variable's value for subsequent steps.
func (s *Sim) SetValue(name string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Closed("sim")
	}
	if fault := s.eng.SimSetValue(s.handle, name, v); fault != nil {
		return errors.Translate("set value", fault)
	}
	return nil
}

// Series returns the saved time series for a variable, one value per
// save step. The slice is host-owned; the engine buffer backing it has
// already been copied and freed.
func (s *Sim) Series(name string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Closed("sim")
	}
	series, fault := s.eng.SimSeries(s.handle, name)
	if fault != nil {
		return nil, errors.Translate("get series", fault)
	}
	return series, nil
}

// Loops returns the model's feedback loops.
func (s *Sim) Loops() ([]simlin.Loop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Closed("sim")
	}
	loops, fault := s.eng.SimLoops(s.handle)
	if fault != nil {
		return nil, errors.Translate("get loops", fault)
	}
	return loops, nil
}

// RelativeLoopScore returns a loop's behavioral contribution over
// simulated time. The simulation must have been created with LTM
// enabled.
func (s *Sim) RelativeLoopScore(loopID string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Closed("sim")
	}
	score, fault := s.eng.SimRelativeLoopScore(s.handle, loopID)
	if fault != nil {
		return nil, errors.Translate("get relative loop score", fault)
	}
	return score, nil
}
