package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spicepedal/spicepedal/pkg/device"
	"github.com/spicepedal/spicepedal/pkg/matrix"
	"github.com/spicepedal/spicepedal/pkg/netlist"
)

func parseAndBuild(t *testing.T, text string) *Circuit {
	t.Helper()
	nl, err := netlist.Parse(text, nil)
	require.NoError(t, err)
	ckt, err := Build(nl)
	require.NoError(t, err)
	return ckt
}

func TestBuildAssignsNodesAndGround(t *testing.T) {
	ckt := parseAndBuild(t, "R1 in out 1k\nC1 out 0 100n\n")
	assert.Equal(t, 0, ckt.Nodes["0"])
	assert.Equal(t, 0, ckt.Nodes["gnd"])
	assert.Contains(t, ckt.Nodes, "in")
	assert.Contains(t, ckt.Nodes, "out")
	require.Len(t, ckt.Devices, 2)
}

func TestInputOutputProbeDirectives(t *testing.T) {
	ckt := parseAndBuild(t, `R1 in out 1k
C1 out 0 100n
.input in
.output out
.probe V(out) I(R1)
`)
	assert.True(t, ckt.HasInput)
	assert.True(t, ckt.HasOutput)
	require.Len(t, ckt.Probes, 2)
	assert.Equal(t, "V(out)", ckt.Probes[0].Label())
	assert.Equal(t, "I(R1)", ckt.Probes[1].Label())
}

func TestInitialConditionAppliesToNamedCapacitor(t *testing.T) {
	ckt := parseAndBuild(t, `C1 out 0 100n
.ic C1 2.5
`)
	dev, ok := ckt.DeviceByName("C1")
	require.True(t, ok)
	capDev, ok := dev.(*device.Capacitor)
	require.True(t, ok)

	outIdx := ckt.Nodes["out"]
	m, err := matrix.New(ckt.NumNodes)
	require.NoError(t, err)

	status := &device.CircuitStatus{TimeStep: 1e-5}
	v := ckt.CurrentVoltages() // all zero at the first sample
	require.NoError(t, capDev.Stamp(m, v, status))

	// i_eq = gEq*vPrev; vPrev should be the .ic override (2.5 V), not the
	// zero-value default, on this very first stamp.
	gEq := 2 * 100e-9 / 1e-5
	assert.InDelta(t, -gEq*2.5, m.I(outIdx), gEq*2.5*1e-9+1e-12)
}

func TestUnknownDirectiveErrors(t *testing.T) {
	nl, err := netlist.Parse("R1 1 0 1k\n.bogus foo\n", nil)
	require.NoError(t, err) // netlist tokenising accepts any directive name
	_, err = Build(nl)
	assert.Error(t, err)
}

func TestPotentiometerDefaultsToLinearTaper(t *testing.T) {
	ckt := parseAndBuild(t, "P1 a b w 10k param=pos\n")
	dev, ok := ckt.DeviceByName("P1")
	require.True(t, ok)
	pot, ok := dev.(*device.Potentiometer)
	require.True(t, ok)
	assert.Equal(t, device.TaperLinear, pot.Taper)
}
