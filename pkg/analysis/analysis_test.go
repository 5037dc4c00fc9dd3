package analysis

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/device"
	"github.com/spicepedal/spicepedal/pkg/netlist"
	"github.com/spicepedal/spicepedal/pkg/probe"
	"github.com/spicepedal/spicepedal/pkg/solver"
)

func buildCircuit(t *testing.T, text string) *circuit.Circuit {
	t.Helper()
	nl, err := netlist.Parse(text, nil)
	require.NoError(t, err)
	ckt, err := circuit.Build(nl)
	require.NoError(t, err)
	return ckt
}

// TestRCLowPassAttenuatesPerSpec exercises the RC low-pass property named
// in spec.md 8: R=1kOhm, C=100nF, a 1kHz/1V sinusoid settles, after 5
// time constants, to an output magnitude of 1/sqrt(1+(wRC)^2) within 1%.
func TestRCLowPassAttenuatesPerSpec(t *testing.T) {
	ckt := buildCircuit(t, `* RC low-pass
R1 in out 1k
C1 out 0 100n
.input in
.output out
`)

	const r, c, freq = 1000.0, 100e-9, 1000.0
	const tau = r * c
	dt := 1.0 / (freq * 200) // 200 samples per period
	stop := tau*5 + 1/freq // 5 time constants plus one measurement period

	tr, err := NewTransient(ckt, solver.Options{}, stop, dt, nil, nil)
	require.NoError(t, err)

	samples, err := tr.Run(context.Background(), func(t float64) float64 {
		return math.Sin(2 * math.Pi * freq * t)
	})
	require.NoError(t, err)
	require.NotEmpty(t, samples)

	for _, s := range samples {
		assert.True(t, s.Converged, "sample at t=%g failed to converge", s.Time)
	}

	w := 2 * math.Pi * freq
	wantMag := 1.0 / math.Sqrt(1+(w*r*c)*(w*r*c))

	// Continue the settled run for one more period (the window starts at
	// stop - period = 5 tau, which has the same input phase as stop) and
	// track the peak output magnitude as a cheap stand-in for the
	// steady-state sinusoidal amplitude.
	peak := 0.0
	steps := int(stop/dt + 0.5)
	period := 1.0 / freq
	windowStart := stop - period
	for n := 0; n <= steps; n++ {
		tt := float64(n) * dt
		if tt < windowStart {
			continue
		}
		dtStep := dt
		if n == 0 {
			dtStep = 0
		}
		_, err := tr.Driver.Step(context.Background(), tt, dtStep, func(t float64) (float64, float64) {
			return math.Sin(2 * math.Pi * freq * t), 1
		})
		require.NoError(t, err)
		v := math.Abs(ckt.NodeVoltage(ckt.Nodes["out"]))
		if v > peak {
			peak = v
		}
	}
	assert.InDelta(t, wantMag, peak, wantMag*0.01)
}

// TestDiodeHalfWaveRectifierChargesOutput drives a diode + reservoir
// capacitor with a sine input and checks the output settles to a
// positive DC level near the peak input voltage, the classic half-wave
// rectifier behaviour.
func TestDiodeHalfWaveRectifierChargesOutput(t *testing.T) {
	ckt := buildCircuit(t, `* Half-wave rectifier
V1 in 0 0 sin=1 amp=5 freq=1000 phase=0
R1 in mid 100
D1 mid out Is=2.52e-9 N=1.752
C1 out 0 10u
RL out 0 100k
.output out
`)

	dt := 2e-6
	stop := 10e-3

	tr, err := NewTransient(ckt, solver.Options{}, stop, dt, nil, nil)
	require.NoError(t, err)

	samples, err := tr.Run(context.Background(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, samples)

	vOut := ckt.NodeVoltage(ckt.Nodes["out"])
	assert.Greater(t, vOut, 2.0)
	assert.Less(t, vOut, 5.5)
}

// TestOperatingPointZeroDt exercises the dt==0 path directly: the
// capacitor degenerates to an open circuit and the solve is a single
// resistive divider, so the output should land exactly on the divider
// ratio (within NR tolerance), with V1's default 1 ohm series resistance
// counted in the divider.
func TestOperatingPointZeroDt(t *testing.T) {
	ckt := buildCircuit(t, `R1 in mid 1k
R2 mid 0 1k
C1 mid 0 100n
V1 in 0 10
.output mid
`)

	ok, err := OperatingPoint(context.Background(), ckt, solver.Options{})
	require.NoError(t, err)
	assert.True(t, ok)

	vMid := ckt.NodeVoltage(ckt.Nodes["mid"])
	assert.InDelta(t, 10.0*1000/2001, vMid, 1e-3)
}

// TestOpAmpInvertingAmplifierGainWithinTwoPercent exercises the named
// scenario from spec.md 4.A/12: an inverting amplifier built from the "O"
// macromodel with Rf/R1 = 10 should land within 2% of the ideal -10 gain,
// even though the macromodel's capped transconductance (gmMax, matching
// original_source's gm_max=100) yields a finite open-loop gain rather than
// an ideal infinite one.
func TestOpAmpInvertingAmplifierGainWithinTwoPercent(t *testing.T) {
	ckt := buildCircuit(t, `R1 in inv 10k
Rf inv out 100k
O1 out 0 inv vcc vee
V1 in 0 0.5
Vcc vcc 0 9
Vee vee 0 -9
.output out
`)

	ok, err := OperatingPoint(context.Background(), ckt, solver.Options{})
	require.NoError(t, err)
	assert.True(t, ok)

	vOut := ckt.NodeVoltage(ckt.Nodes["out"])
	wantIdeal := -10 * 0.5
	assert.InEpsilon(t, wantIdeal, vOut, 0.02)
}

func TestTransientWritesProbeCSV(t *testing.T) {
	ckt := buildCircuit(t, `R1 in out 1k
C1 out 0 100n
.input in
.probe V(out)
`)

	targets := []probe.Target{
		{Label: "V(out)", Lookup: func() (float64, bool) { return ckt.ProbeVoltage("out") }},
	}
	var buf bytes.Buffer
	tr, err := NewTransient(ckt, solver.Options{}, 1e-4, 1e-6, targets, &buf)
	require.NoError(t, err)

	_, err = tr.Run(context.Background(), func(float64) float64 { return 1.0 })
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "time;V(out)", lines[0])
}

// TestDCSweepsVoltageDividerLinearly exercises the DC-sweep solver named
// in spec.md 7: stepping V1 over a range should re-solve the operating
// point at each step and trace out the divider's fixed ratio.
func TestDCSweepsVoltageDividerLinearly(t *testing.T) {
	ckt := buildCircuit(t, `R1 in mid 1k
R2 mid 0 1k
V1 in 0 0
.probe V(mid)
`)

	points, err := DC(context.Background(), ckt, solver.Options{}, []DCSweep{
		{Source: "V1", Start: 0, Stop: 10, Step: 5},
	})
	require.NoError(t, err)
	require.Len(t, points, 3)

	for i, p := range points {
		want := float64(i) * 5
		assert.InDelta(t, want, p.SweepValues[0], 1e-9)
		// V1's default 1 ohm series resistance is part of the divider.
		assert.InDelta(t, want*1000/2001, p.Probes["V(mid)"], 1e-3)
	}
}

func TestDCSweepRestoresSourceValueAfterward(t *testing.T) {
	ckt := buildCircuit(t, `R1 in 0 1k
V1 in 0 3
.probe V(in)
`)

	dev, ok := ckt.DeviceByName("V1")
	require.True(t, ok)

	_, err := DC(context.Background(), ckt, solver.Options{}, []DCSweep{
		{Source: "V1", Start: 0, Stop: 1, Step: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, dev.(*device.VoltageSource).DC)
}

func TestStatsMinMaxRMS(t *testing.T) {
	var s Stats
	for _, v := range []float64{-1, 0, 1, 2} {
		s.observe(v)
	}
	assert.Equal(t, -1.0, s.Min)
	assert.Equal(t, 2.0, s.Max)
	assert.InDelta(t, 0.5, s.Mean(), 1e-9)
	assert.InDelta(t, math.Sqrt((1.0+0+1.0+4.0)/4.0), s.RMS(), 1e-9)
}
