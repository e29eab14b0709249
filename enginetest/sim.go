package enginetest

import (
	"fmt"
	"math"

	simlin "github.com/bpowers/simlin-sub000"
)

type varDef struct {
	name     string
	typ      string
	equation string
	initial  string
	inflows  []string
	outflows []string
}

type simState struct {
	model *modelState
	ltm   bool

	vars  []varDef
	start float64
	stop  float64
	dt    float64

	step      int
	times     []float64
	series    map[string][]float64
	values    map[string]float64
	overrides map[string]bool
}

func (e *Engine) SimNew(model simlin.Handle, enableLTM bool) (simlin.Handle, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.lookup(model, kindModel)
	if !ok {
		return 0, e.newFault(simlin.ErrDoesNotExist, "invalid model handle", nil)
	}
	ms := m.(*modelState)

	s := &simState{model: ms, ltm: enableLTM}
	if err := s.loadSpecs(); err != "" {
		return 0, e.newFault(simlin.ErrBadSimSpecs, err, nil)
	}
	s.reset()

	return e.insert(kindSim, s), nil
}

// loadSpecs reads sim specs and variables from the project document,
// returning a non-empty message on invalid specs.
func (s *simState) loadSpecs() string {
	doc := s.model.project.doc

	s.start = 0
	s.stop = 10
	s.dt = 1
	if specs := jsonGet(doc, "sim_specs"); specs != nil {
		if v, ok := specs["start"]; ok {
			s.start = v
		}
		if v, ok := specs["stop"]; ok {
			s.stop = v
		}
		if v, ok := specs["dt"]; ok && v > 0 {
			s.dt = v
		}
	}
	if s.stop <= s.start {
		return "stop must be after start"
	}

	s.vars = nil
	for _, v := range modelVars(doc, s.model.name) {
		def := varDef{
			name:     v.Get("name").String(),
			typ:      v.Get("type").String(),
			equation: v.Get("equation").String(),
			initial:  v.Get("initial_value").String(),
		}
		for _, f := range v.Get("inflows").Array() {
			def.inflows = append(def.inflows, f.String())
		}
		for _, f := range v.Get("outflows").Array() {
			def.outflows = append(def.outflows, f.String())
		}
		s.vars = append(s.vars, def)
	}
	return ""
}

func (s *simState) reset() {
	s.step = 0
	s.times = nil
	s.series = make(map[string][]float64)
	s.values = make(map[string]float64)
	s.overrides = make(map[string]bool)

	// Settle auxes and flows, initialize stocks from their initial
	// equations, then settle flows that reference stocks.
	for pass := 0; pass < 3; pass++ {
		s.evalRates()
	}
	for _, v := range s.vars {
		if v.typ == "stock" {
			if val, err := evalExpr(v.initial, s.env); err == nil {
				s.values[v.name] = val
			}
		}
	}
	s.evalRates()
	s.record()
}

func (s *simState) env(name string) (float64, bool) {
	if name == "time" {
		return s.time(), true
	}
	v, ok := s.values[name]
	return v, ok
}

func (s *simState) evalRates() {
	for _, v := range s.vars {
		if v.typ == "stock" || s.overrides[v.name] {
			continue
		}
		if val, err := evalExpr(v.equation, s.env); err == nil {
			s.values[v.name] = val
		}
	}
}

func (s *simState) time() float64 {
	return s.start + float64(s.step)*s.dt
}

func (s *simState) totalSteps() int {
	return int(math.Round((s.stop - s.start) / s.dt))
}

func (s *simState) record() {
	s.times = append(s.times, s.time())
	for _, v := range s.vars {
		s.series[v.name] = append(s.series[v.name], s.values[v.name])
	}
}

func (s *simState) doStep() {
	for _, v := range s.vars {
		if v.typ != "stock" || s.overrides[v.name] {
			continue
		}
		net := 0.0
		for _, f := range v.inflows {
			net += s.values[f]
		}
		for _, f := range v.outflows {
			net -= s.values[f]
		}
		s.values[v.name] += net * s.dt
	}
	s.step++
	s.evalRates()
	s.record()
}

func (e *Engine) simFor(h simlin.Handle) (*simState, *simlin.Fault) {
	v, ok := e.lookup(h, kindSim)
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, "invalid sim handle", nil)
	}
	return v.(*simState), nil
}

func (e *Engine) SimRunTo(h simlin.Handle, t float64) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return f
	}
	for s.step < s.totalSteps() && s.time() < t {
		s.doStep()
	}
	return nil
}

func (e *Engine) SimRunToEnd(h simlin.Handle) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return f
	}
	for s.step < s.totalSteps() {
		s.doStep()
	}
	return nil
}

func (e *Engine) SimReset(h simlin.Handle) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return f
	}
	s.reset()
	return nil
}

func (e *Engine) SimStepCount(h simlin.Handle) (int, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return 0, f
	}
	return len(s.times), nil
}

func (e *Engine) SimVarNames(h simlin.Handle) ([]string, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return nil, f
	}
	names := []string{"time"}
	for _, v := range s.vars {
		names = append(names, v.name)
	}
	return names, nil
}

func (e *Engine) SimGetValue(h simlin.Handle, name string) (float64, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return 0, f
	}
	v, ok := s.env(name)
	if !ok {
		return 0, e.newFault(simlin.ErrDoesNotExist, fmt.Sprintf("no variable named %q", name), nil)
	}
	return v, nil
}

func (e *Engine) SimSetValue(h simlin.Handle, name string, val float64) *simlin.Fault {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return f
	}
	for _, v := range s.vars {
		if v.name == name {
			s.values[name] = val
			s.overrides[name] = true
			return nil
		}
	}
	return e.newFault(simlin.ErrDoesNotExist, fmt.Sprintf("no variable named %q", name), nil)
}

func (e *Engine) SimSeries(h simlin.Handle, name string) ([]float64, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return nil, f
	}
	if name == "time" {
		return append([]float64(nil), s.times...), nil
	}
	series, ok := s.series[name]
	if !ok {
		return nil, e.newFault(simlin.ErrDoesNotExist, fmt.Sprintf("no variable named %q", name), nil)
	}
	return append([]float64(nil), series...), nil
}

func (e *Engine) SimLoops(h simlin.Handle) ([]simlin.Loop, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return nil, f
	}
	return s.loops(), nil
}

// loops finds the stock/flow 2-cycles: a flow that both feeds a stock
// and references it. Inflow cycles are reinforcing, outflow balancing.
func (s *simState) loops() []simlin.Loop {
	var loops []simlin.Loop
	nr, nb := 0, 0

	refs := func(flow, stock string) bool {
		for _, v := range s.vars {
			if v.name != flow {
				continue
			}
			for _, ident := range extractIdents(v.equation) {
				if ident == stock {
					return true
				}
			}
		}
		return false
	}

	for _, v := range s.vars {
		if v.typ != "stock" {
			continue
		}
		for _, f := range v.inflows {
			if refs(f, v.name) {
				nr++
				loops = append(loops, simlin.Loop{
					ID:        fmt.Sprintf("R%d", nr),
					Variables: []string{v.name, f},
					Polarity:  simlin.LoopReinforcing,
				})
			}
		}
		for _, f := range v.outflows {
			if refs(f, v.name) {
				nb++
				loops = append(loops, simlin.Loop{
					ID:        fmt.Sprintf("B%d", nb),
					Variables: []string{v.name, f},
					Polarity:  simlin.LoopBalancing,
				})
			}
		}
	}
	return loops
}

func (e *Engine) SimRelativeLoopScore(h simlin.Handle, loopID string) ([]float64, *simlin.Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, f := e.simFor(h)
	if f != nil {
		return nil, f
	}
	if !s.ltm {
		return nil, e.newFault(simlin.ErrGeneric, "simulation was not created with LTM support", nil)
	}

	loops := s.loops()
	found := false
	for _, l := range loops {
		if l.ID == loopID {
			found = true
			break
		}
	}
	if !found {
		return nil, e.newFault(simlin.ErrDoesNotExist, fmt.Sprintf("no loop %q", loopID), nil)
	}

	score := make([]float64, len(s.times))
	for i := range score {
		score[i] = 1.0 / float64(len(loops))
	}
	return score, nil
}
