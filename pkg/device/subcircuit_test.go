package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubcircuitKindAcceptsKnownNames(t *testing.T) {
	kind, err := ParseSubcircuitKind("PITCH2")
	require.NoError(t, err)
	assert.Equal(t, SubPITCH2, kind)

	_, err = ParseSubcircuitKind("NOPE")
	assert.Error(t, err)
}

func TestSubcircuitIntegratorAccumulatesInput(t *testing.T) {
	x, err := NewSubcircuit("X1", 1, 2, SubINTEGRATOR)
	require.NoError(t, err)

	v := []float64{0, 2.0, 0}
	status := &CircuitStatus{TimeStep: 0.1}
	x.UpdateHistory(v, status)
	assert.InDelta(t, 0.2, x.state, 1e-12)
	x.UpdateHistory(v, status)
	assert.InDelta(t, 0.4, x.state, 1e-12)
}

func TestSubcircuitPassThroughSlewLimitsLargeSteps(t *testing.T) {
	x, err := NewSubcircuit("X1", 1, 2, SubPITCH)
	require.NoError(t, err)

	v := []float64{0, 10.0, 0}
	status := &CircuitStatus{TimeStep: 0.01} // maxStep = 50*0.01 = 0.5V
	x.UpdateHistory(v, status)
	assert.InDelta(t, 0.5, x.state, 1e-9)
}

func TestSubcircuitStampInjectsCurrentStateAsNortonSource(t *testing.T) {
	x, err := NewSubcircuit("X1", 1, 2, SubINTEGRATOR)
	require.NoError(t, err)
	x.state = 3.0

	m := newMatrix(t, 3)
	require.NoError(t, x.Stamp(m, []float64{0, 0, 0}, &CircuitStatus{}))
	assert.Equal(t, 1.0, m.G(2, 2))
	assert.Equal(t, 3.0, m.I(2))
}

func TestSubcircuitResetClearsState(t *testing.T) {
	x, err := NewSubcircuit("X1", 1, 2, SubINTEGRATOR)
	require.NoError(t, err)
	x.state = 5.0
	x.Reset()
	assert.Equal(t, 0.0, x.state)
}
