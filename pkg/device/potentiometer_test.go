package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spicepedal/spicepedal/internal/consts"
)

func TestPotentiometerLinearTaperSplitsAtMidpoint(t *testing.T) {
	getParam := func(string) float64 { return 0.5 }
	p, err := NewPotentiometer("P1", 1, 2, 3, 10e3, TaperLinear, "pos", getParam)
	require.NoError(t, err)

	m := newMatrix(t, 4)
	require.NoError(t, p.Stamp(m, []float64{0, 0, 0, 0}, &CircuitStatus{}))

	ga := 1.0 / 5e3
	assert.InDelta(t, ga, m.G(1, 1), ga*1e-9)
	assert.InDelta(t, 2*ga, m.G(3, 3), ga*1e-9) // wiper picks up both legs
}

func TestPotentiometerLogTaperBendsTowardOneEnd(t *testing.T) {
	getParam := func(string) float64 { return 0.5 }
	p, err := NewPotentiometer("P1", 1, 2, 3, 10e3, TaperLog, "pos", getParam)
	require.NoError(t, err)
	assert.Less(t, p.position(), 0.5, "a log taper at the midpoint knob position should read well below 0.5")
}

func TestPotentiometerSkipsStampWhenTotalExceedsRMax(t *testing.T) {
	getParam := func(string) float64 { return 0.5 }
	p, err := NewPotentiometer("P1", 1, 2, 3, consts.RMax*10, TaperLinear, "pos", getParam)
	require.NoError(t, err)

	m := newMatrix(t, 4)
	require.NoError(t, p.Stamp(m, []float64{0, 0, 0, 0}, &CircuitStatus{}))
	assert.Equal(t, 0.0, m.G(1, 1))
}

func TestPotentiometerRejectsNonPositiveTotal(t *testing.T) {
	_, err := NewPotentiometer("P1", 1, 2, 3, 0, TaperLinear, "pos", func(string) float64 { return 0 })
	assert.Error(t, err)
}
