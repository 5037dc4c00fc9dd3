package device

import (
	"fmt"

	"github.com/spicepedal/spicepedal/internal/consts"
	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// OpAmp implements the VCCS macromodel described in spec.md 4.A and
// grounded on original_source/include/components/opamp.h: a
// transconductance coupling (in+, in-) to the output, 1 MOhm input
// resistance, a fixed quiescent supply current, and a nonlinear
// correction current that clamps the output within headroom of the
// supply rails. Slew-rate limiting is accepted on the type for netlist
// compatibility but left disabled, matching the spec's "optional,
// disabled by default".
type OpAmp struct {
	BaseDevice
	NopPreparer
	NopHistory
	Rout   float64
	Imax   float64
	AOpen  float64
	SlewRV float64 // V/us; unused while slew limiting is disabled

	gmMax float64
}

const opAmpInputR = 1e6
const opAmpGmMax = 100.0 // S, matches original_source's gm_max ceiling on the macromodel transconductance

func NewOpAmp(name string, out, inPos, inNeg, vPlus, vMinus int, rout, imax, aOpen, slewRate float64) (*OpAmp, error) {
	if rout <= 0 {
		return nil, fmt.Errorf("opamp %s: Rout must be positive", name)
	}
	if aOpen <= 0 {
		return nil, fmt.Errorf("opamp %s: open-loop gain must be positive", name)
	}
	return &OpAmp{
		BaseDevice: newBase(name, "O", []int{out, inPos, inNeg, vPlus, vMinus}),
		Rout:       rout,
		Imax:       imax,
		AOpen:      aOpen,
		SlewRV:     slewRate,
		gmMax:      opAmpGmMax,
	}, nil
}

func headroom(railSpan float64) float64 {
	switch {
	case railSpan > 18:
		return 1.5
	case railSpan < 12:
		return 0.3
	default:
		return 0.5
	}
}

func (o *OpAmp) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	out, inPos, inNeg, vPlus, vMinus := o.DevNodes[0], o.DevNodes[1], o.DevNodes[2], o.DevNodes[3], o.DevNodes[4]

	vHigh := nodeVoltage(v, vPlus)
	vLow := nodeVoltage(v, vMinus)
	span := vHigh - vLow
	hd := headroom(span)

	gm := o.AOpen / o.Rout
	if gm > o.gmMax {
		gm = o.gmMax
	}

	// Transconductance: output current driven by (in+, in-) differential.
	m.AddG(out, inPos, -gm)
	m.AddG(out, inNeg, gm)

	// Output conductance to ground.
	rout := o.Rout
	if rout < consts.RMin {
		rout = consts.RMin
	}
	gOut := 1.0 / rout
	m.AddG(out, out, gOut)

	// Input resistance between the two inputs.
	gIn := 1.0 / opAmpInputR
	m.AddG(inPos, inPos, gIn)
	m.AddG(inPos, inNeg, -gIn)
	m.AddG(inNeg, inPos, -gIn)
	m.AddG(inNeg, inNeg, gIn)

	// Quiescent supply current: drawn from V+ into V-, independent of
	// signal swing.
	const iq = 2e-3
	m.AddI(vPlus, -iq)
	m.AddI(vMinus, iq)

	// Nonlinear saturation correction: compute the unclamped linear
	// output estimate and inject a correction current if it would exceed
	// the rail-minus-headroom bound, pulling the node back toward the
	// bound rather than letting it run away.
	linOut := gm / gOut * (nodeVoltage(v, inPos) - nodeVoltage(v, inNeg))
	upperBound := vHigh - hd
	lowerBound := vLow + hd
	if linOut > upperBound {
		m.AddI(out, -(linOut-upperBound)*gOut)
	} else if linOut < lowerBound {
		m.AddI(out, -(linOut-lowerBound)*gOut)
	}
	return nil
}
