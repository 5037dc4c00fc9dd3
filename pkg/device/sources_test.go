package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInductorShortsAtDC(t *testing.T) {
	l, err := NewInductor("L1", 1, 2, 10e-3, 0)
	require.NoError(t, err)

	m := newMatrix(t, 3)
	status := &CircuitStatus{TimeStep: 0}
	require.NoError(t, l.Stamp(m, []float64{0, 0, 0}, status))
	assert.Equal(t, dcShortConductance, m.G(1, 1))
	assert.Equal(t, -dcShortConductance, m.G(1, 2))
}

func TestInductorTrapezoidalHistoryAdvancesCurrent(t *testing.T) {
	l, err := NewInductor("L1", 1, 0, 10e-3, 0)
	require.NoError(t, err)

	dt := 1e-5
	status := &CircuitStatus{TimeStep: dt}
	v := []float64{0, 5.0}

	m := newMatrix(t, 2)
	require.NoError(t, l.Stamp(m, v, status))
	gEq := 1.0 / (2 * 10e-3 / dt)
	assert.InDelta(t, gEq, m.G(1, 1), gEq*1e-9)

	l.UpdateHistory(v, status)
	wantIPrev := (dt / (2 * 10e-3)) * (5.0 + 0.0)
	assert.InDelta(t, wantIPrev, l.iPrev, 1e-12)
	assert.Equal(t, 5.0, l.vPrev)
}

func TestInductorRejectsNonPositiveInductance(t *testing.T) {
	_, err := NewInductor("L1", 1, 2, 0, 0)
	assert.Error(t, err)
}

func TestMOSFETTriodeRegionStampsPositiveDrainConductance(t *testing.T) {
	q, err := NewMOSFET("M1", 1, 2, 3, NMOS, 2e-3, 1.0, 0, 0, 0)
	require.NoError(t, err)
	q.Prepare(&CircuitStatus{TimeStep: 1e-5})

	// Vgs=3 (above Vth=1), Vds=0.5 (< Vgs-Vth=2): triode.
	v := []float64{0, 0.5, 3.0, 0.0}
	m := newMatrix(t, 4)
	require.NoError(t, q.Stamp(m, v, &CircuitStatus{TimeStep: 1e-5}))
	assert.Greater(t, m.G(1, 1), 0.0)
}

func TestMOSFETCutoffStampsNoDrainCurrent(t *testing.T) {
	q, err := NewMOSFET("M1", 1, 2, 3, NMOS, 2e-3, 1.0, 0, 0, 0)
	require.NoError(t, err)

	// Vgs=0.5 (below Vth=1): cutoff, id should be zero contribution.
	v := []float64{0, 5.0, 0.5, 0.0}
	m := newMatrix(t, 4)
	require.NoError(t, q.Stamp(m, v, &CircuitStatus{TimeStep: 1e-5}))
	assert.Equal(t, 0.0, m.G(1, 1))
	assert.Equal(t, 0.0, m.I(1))
}

func TestVCVSSoftClampSaturatesNearVmax(t *testing.T) {
	e, err := NewVCVS("E1", 1, 0, 2, 0, 100, 9.0, 1000.0)
	require.NoError(t, err)

	m := newMatrix(t, 3)
	// Large differential input should saturate the tanh close to +-Vmax.
	require.NoError(t, e.Stamp(m, []float64{0, 0, 1.0, 0}, &CircuitStatus{}))

	g := 1.0 / 100.0
	wantI := 9.0 * math.Tanh(1000.0*1.0/9.0) * g
	assert.InDelta(t, wantI, m.I(1), math.Abs(wantI)*1e-9+1e-12)
}

func TestVCVSRejectsNonPositiveVmax(t *testing.T) {
	_, err := NewVCVS("E1", 1, 0, 2, 0, 100, 0, 1)
	assert.Error(t, err)
}

func TestOpAmpQuiescentCurrentDrawnFromSupplies(t *testing.T) {
	o, err := NewOpAmp("O1", 1, 2, 3, 4, 5, 100, 0.02, 1e5, 0)
	require.NoError(t, err)

	v := []float64{0, 0, 0, 0, 9.0, -9.0}
	m := newMatrix(t, 6)
	require.NoError(t, o.Stamp(m, v, &CircuitStatus{}))

	assert.InDelta(t, -2e-3, m.I(4), 1e-12)
	assert.InDelta(t, 2e-3, m.I(5), 1e-12)
}

func TestOpAmpClampsOutputWithinRailHeadroom(t *testing.T) {
	o, err := NewOpAmp("O1", 1, 2, 3, 4, 5, 100, 0.02, 1e5, 0)
	require.NoError(t, err)

	// Large differential drive against rails of +-9V; the unclamped linear
	// estimate is far beyond the rails, so a correction current should be
	// injected at the output node.
	v := []float64{0, 0, 5.0, -5.0, 9.0, -9.0}
	m := newMatrix(t, 6)
	require.NoError(t, o.Stamp(m, v, &CircuitStatus{}))
	assert.NotEqual(t, 0.0, m.I(1))
}

func TestDCVoltageSourceStampsNortonEquivalent(t *testing.T) {
	s, err := NewDCVoltageSource("V1", 1, 0, 5.0, 1.0)
	require.NoError(t, err)

	m := newMatrix(t, 2)
	require.NoError(t, s.Stamp(m, []float64{0, 0}, &CircuitStatus{}))
	assert.Equal(t, 1.0, m.G(1, 1))
	assert.Equal(t, 5.0, m.I(1))
}

func TestSinVoltageSourceTracksExpectedPhaseAndAmplitude(t *testing.T) {
	s, err := NewSinVoltageSource("V1", 1, 0, 0, 5, 1000, 90, 1.0)
	require.NoError(t, err)

	// At t=0 with a 90-degree phase offset, sin(phase) = 1, so the
	// open-circuit voltage should be at its positive peak.
	got := s.Voltage(0)
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestSinVoltageSourceRejectsNonPositiveRs(t *testing.T) {
	_, err := NewSinVoltageSource("V1", 1, 0, 0, 5, 1000, 0, 0)
	assert.Error(t, err)
}
