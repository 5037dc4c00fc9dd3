package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/netlist"
)

// integratorNetlist uses an INTEGRATOR subcircuit (pkg/device's
// Subcircuit.state) as the stateful device under test: unlike the
// capacitor/diode/BJT companion models, its Stamp reads state directly
// regardless of dt, so a dt==0 solve visibly differs depending on
// whether that state has been driven away from zero.
const integratorNetlist = `V1 in 0 1
X1 in mid kind=INTEGRATOR
R1 mid 0 1k
`

func buildIntegratorCircuit(t *testing.T) *circuit.Circuit {
	t.Helper()
	nl, err := netlist.Parse(integratorNetlist, nil)
	require.NoError(t, err)
	ckt, err := circuit.Build(nl)
	require.NoError(t, err)
	return ckt
}

// TestResetReproducesFreshOperatingPoint exercises spec.md 9's reset()
// invariant: "After reset(), every device reports zero stored state and
// the first subsequent solve() with a zero input produces V equal to the
// solution of the DC operating point with all state-variables zeroed."
// The integrator is driven away from zero by a run of transient steps,
// then Reset() is called, and the following dt==0 solve must match a
// brand-new Driver over the same netlist's own first solve exactly.
func TestResetReproducesFreshOperatingPoint(t *testing.T) {
	ckt := buildIntegratorCircuit(t)
	drv, err := New(ckt, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	for n := 0; n <= 10; n++ {
		dt := 0.01
		if n == 0 {
			dt = 0
		}
		ok, err := drv.Step(ctx, float64(n)*dt, dt, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NotZero(t, drv.SampleCount)
	chargedMid := ckt.NodeVoltage(ckt.Nodes["mid"])
	assert.NotEqual(t, 0.0, chargedMid)

	drv.Reset()
	assert.Zero(t, drv.SampleCount)
	assert.Zero(t, drv.FailedCount)
	assert.Zero(t, drv.IterCount)
	assert.Equal(t, 0.0, ckt.NodeVoltage(ckt.Nodes["mid"]))

	ok, err := drv.Step(ctx, 0, 0, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	resetMid := ckt.NodeVoltage(ckt.Nodes["mid"])

	freshCkt := buildIntegratorCircuit(t)
	freshDrv, err := New(freshCkt, Options{})
	require.NoError(t, err)
	ok, err = freshDrv.Step(ctx, 0, 0, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	freshMid := freshCkt.NodeVoltage(freshCkt.Nodes["mid"])

	assert.Equal(t, freshMid, resetMid)
	assert.NotEqual(t, chargedMid, resetMid)
}
