package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/enginetest"
	"github.com/bpowers/simlin-sub000/errors"
)

func demoModel(t *testing.T, eng *enginetest.Engine) (*Project, *Model) {
	t.Helper()
	p := openDemo(t, eng)
	m, err := p.Model("")
	require.NoError(t, err)
	return p, m
}

func TestModelVarNames(t *testing.T) {
	eng := enginetest.New()
	p, m := demoModel(t, eng)
	defer p.Close()
	defer m.Close()

	names, err := m.VarNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"population", "births", "deaths", "birth_rate", "average_lifespan"}, names)
}

func TestModelIncomingLinks(t *testing.T) {
	eng := enginetest.New()
	p, m := demoModel(t, eng)
	defer p.Close()
	defer m.Close()

	tests := []struct {
		varName string
		want    []string
	}{
		{"population", []string{"births", "deaths"}},
		{"births", []string{"population", "birth_rate"}},
		{"deaths", []string{"population", "average_lifespan"}},
		{"birth_rate", nil},
	}
	for _, tt := range tests {
		t.Run(tt.varName, func(t *testing.T) {
			deps, err := m.IncomingLinks(tt.varName)
			require.NoError(t, err)
			assert.Equal(t, tt.want, deps)
		})
	}
}

func TestModelIncomingLinksUnknownVariable(t *testing.T) {
	eng := enginetest.New()
	p, m := demoModel(t, eng)
	defer p.Close()
	defer m.Close()

	_, err := m.IncomingLinks("ghost")
	require.Error(t, err)

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, simlin.ErrDoesNotExist, e.Code)
}

func TestModelLinks(t *testing.T) {
	eng := enginetest.New()
	p, m := demoModel(t, eng)
	defer p.Close()
	defer m.Close()

	links, err := m.Links()
	require.NoError(t, err)

	byTo := make(map[string][]string)
	for _, l := range links {
		byTo[l.To] = append(byTo[l.To], l.From)
	}
	assert.Equal(t, []string{"births", "deaths"}, byTo["population"])
	assert.Equal(t, []string{"population", "birth_rate"}, byTo["births"])
}

func TestModelSurvivesProjectClose(t *testing.T) {
	eng := enginetest.New()
	p, m := demoModel(t, eng)
	defer m.Close()

	require.NoError(t, p.Close())

	// The model holds its own engine reference; it keeps working after
	// the parent project wrapper is gone.
	names, err := m.VarNames()
	require.NoError(t, err)
	assert.NotEmpty(t, names)

	s, err := m.NewSim(false)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.RunToEnd())
}

func TestOperationsOnClosedModel(t *testing.T) {
	eng := enginetest.New()
	p, m := demoModel(t, eng)
	defer p.Close()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, eng.UnrefCount("model"))

	_, err := m.VarNames()
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = m.IncomingLinks("population")
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = m.Links()
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = m.NewSim(false)
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestModelName(t *testing.T) {
	eng := enginetest.New()
	p := openDemo(t, eng)
	defer p.Close()

	m, err := p.Model("main")
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "main", m.Name())
}
