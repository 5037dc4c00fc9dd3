package device

import (
	"fmt"
	"math"

	"github.com/spicepedal/spicepedal/internal/consts"
	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// VCVS is a voltage-controlled voltage source with a soft (tanh) output
// clamp, grounded on original_source/include/components/vcvs.h:
//   v_target = Vmax * tanh(Gain * (Vin+ - Vin-) / Vmax)
// which keeps the output continuous and differentiable through
// saturation instead of hard-clamping it.
type VCVS struct {
	BaseDevice
	NopPreparer
	NopHistory
	Rout float64
	Vmax float64
	Gain float64
}

func NewVCVS(name string, oPos, oNeg, cPos, cNeg int, rout, vmax, gain float64) (*VCVS, error) {
	if rout <= 0 {
		return nil, fmt.Errorf("vcvs %s: Rout must be positive", name)
	}
	if vmax <= 0 {
		return nil, fmt.Errorf("vcvs %s: Vmax must be positive", name)
	}
	return &VCVS{
		BaseDevice: newBase(name, "E", []int{oPos, oNeg, cPos, cNeg}),
		Rout:       rout,
		Vmax:       vmax,
		Gain:       gain,
	}, nil
}

func (e *VCVS) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	oPos, oNeg, cPos, cNeg := e.DevNodes[0], e.DevNodes[1], e.DevNodes[2], e.DevNodes[3]
	vin := nodeVoltage(v, cPos) - nodeVoltage(v, cNeg)

	vTarget := e.Vmax * math.Tanh(e.Gain*vin/e.Vmax)

	rout := e.Rout
	if rout < consts.RMin {
		rout = consts.RMin
	}
	g := 1.0 / rout
	i := vTarget * g

	m.AddG(oPos, oPos, g)
	m.AddG(oPos, oNeg, -g)
	m.AddG(oNeg, oPos, -g)
	m.AddG(oNeg, oNeg, g)
	m.AddI(oPos, i)
	m.AddI(oNeg, -i)
	return nil
}
