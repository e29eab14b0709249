package sim

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/enginetest"
	"github.com/bpowers/simlin-sub000/errors"
)

func demoSim(t *testing.T, eng *enginetest.Engine, ltm bool) (*Project, *Model, *Sim) {
	t.Helper()
	p, m := demoModel(t, eng)
	s, err := m.NewSim(ltm)
	require.NoError(t, err)
	return p, m, s
}

func TestSimVarNamesIncludeTime(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	names, err := s.VarNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "time", names[0])
	assert.Contains(t, names, "population")
}

func TestSimInitialValues(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	v, err := s.Value("population")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, v)

	v, err = s.Value("time")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	n, err := s.StepCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "initial state is recorded before any step")
}

func TestSimValueUnknownVariable(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	_, err := s.Value("ghost")
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, simlin.ErrDoesNotExist, e.Code)
}

func TestRunToEndTimeSeries(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	require.NoError(t, s.RunToEnd())

	series, err := s.Series("time")
	require.NoError(t, err)
	require.NotEmpty(t, series)

	assert.Equal(t, 0.0, series[0])
	assert.Equal(t, 100.0, series[len(series)-1], "final sample lands exactly on the stop time")
	for i := 1; i < len(series); i++ {
		require.Greater(t, series[i], series[i-1], "time must be strictly increasing at step %d", i)
	}

	n, err := s.StepCount()
	require.NoError(t, err)
	assert.Equal(t, n, len(series))

	pop, err := s.Series("population")
	require.NoError(t, err)
	require.Len(t, pop, n)
	assert.Greater(t, pop[len(pop)-1], pop[0], "births outpace deaths in the demo model")
}

func TestRunToPartialThenReset(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	require.NoError(t, s.RunTo(50))

	v, err := s.Value("time")
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	n, err := s.StepCount()
	require.NoError(t, err)
	assert.Equal(t, 201, n)

	require.NoError(t, s.Reset())

	n, err = s.StepCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err = s.Value("population")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, v)
}

func TestSetValueOverride(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	// Zero births: the population should only decay.
	require.NoError(t, s.SetValue("birth_rate", 0))
	require.NoError(t, s.RunToEnd())

	pop, err := s.Series("population")
	require.NoError(t, err)
	assert.Less(t, pop[len(pop)-1], pop[0])
}

func TestSetValueUnknownVariable(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	err := s.SetValue("ghost", 1)
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, simlin.ErrDoesNotExist, e.Code)
}

func TestLoops(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, true)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	loops, err := s.Loops()
	require.NoError(t, err)
	require.Len(t, loops, 2)

	assert.Equal(t, "R1", loops[0].ID)
	assert.Equal(t, simlin.LoopReinforcing, loops[0].Polarity)
	assert.Equal(t, []string{"population", "births"}, loops[0].Variables)

	assert.Equal(t, "B1", loops[1].ID)
	assert.Equal(t, simlin.LoopBalancing, loops[1].Polarity)
}

func TestRelativeLoopScore(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, true)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	require.NoError(t, s.RunToEnd())

	n, err := s.StepCount()
	require.NoError(t, err)

	score, err := s.RelativeLoopScore("R1")
	require.NoError(t, err)
	assert.Len(t, score, n)

	_, err = s.RelativeLoopScore("R99")
	require.Error(t, err)
}

func TestRelativeLoopScoreRequiresLTM(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	_, err := s.RelativeLoopScore("R1")
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errors.KindRuntime, e.Kind)
}

func TestOperationsOnClosedSim(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, eng.UnrefCount("sim"))

	assert.ErrorIs(t, s.RunToEnd(), errors.ErrClosed)
	assert.ErrorIs(t, s.RunTo(10), errors.ErrClosed)
	assert.ErrorIs(t, s.Reset(), errors.ErrClosed)
	assert.ErrorIs(t, s.SetValue("population", 1), errors.ErrClosed)

	_, err := s.StepCount()
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = s.Value("population")
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = s.Series("population")
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = s.VarNames()
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = s.Loops()
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = s.RelativeLoopScore("R1")
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestSimSurvivesModelAndProjectClose(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer s.Close()

	require.NoError(t, p.Close())
	require.NoError(t, m.Close())

	require.NoError(t, s.RunToEnd())
	n, err := s.StepCount()
	require.NoError(t, err)
	assert.Greater(t, n, 1)
}

func TestConcurrentReads(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)
	defer p.Close()
	defer m.Close()
	defer s.Close()

	require.NoError(t, s.RunToEnd())

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := s.Value("population"); err != nil {
					errs[i] = err
					return
				}
				if _, err := s.Series("time"); err != nil {
					errs[i] = err
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "goroutine %d", i)
	}
}

func TestEverythingReleasedLeavesNoLiveHandles(t *testing.T) {
	eng := enginetest.New()
	p, m, s := demoSim(t, eng, false)

	require.NoError(t, s.Close())
	require.NoError(t, m.Close())
	require.NoError(t, p.Close())

	assert.Zero(t, eng.LiveHandles())
	assert.Equal(t, eng.FaultAllocs(), eng.FaultFrees())
}
