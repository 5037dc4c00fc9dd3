package device

import (
	"fmt"

	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// MOSFETPolarity selects the channel type.
type MOSFETPolarity int

const (
	NMOS MOSFETPolarity = iota
	PMOS
)

// MOSFET implements a level-1 square-law model (saturation/triode
// selection, no sub-threshold or short-channel effects), deliberately
// simpler than the teacher's 4-terminal charge-conserving model: the
// spec's Non-goals exclude "full BSIM MOSFET models" and describe only
// this level, grounded on original_source/include/components/mosfet.h.
type MOSFET struct {
	BaseDevice
	Polarity MOSFETPolarity
	K        float64
	Vth      float64
	Lambda   float64
	Cgs      float64
	Cgd      float64

	vgsPrev float64
	vgdPrev float64
	dt      float64
}

func NewMOSFET(name string, nd, ng, ns int, polarity MOSFETPolarity, k, vth, lambda, cgs, cgd float64) (*MOSFET, error) {
	if k <= 0 || vth < 0 {
		return nil, fmt.Errorf("mosfet %s: invalid model parameters", name)
	}
	return &MOSFET{
		BaseDevice: newBase(name, "M", []int{nd, ng, ns}),
		Polarity:   polarity,
		K:          k,
		Vth:        vth,
		Lambda:     lambda,
		Cgs:        cgs,
		Cgd:        cgd,
	}, nil
}

func (q *MOSFET) Prepare(status *CircuitStatus) { q.dt = status.TimeStep }

func (q *MOSFET) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	nd, ng, ns := q.DevNodes[0], q.DevNodes[1], q.DevNodes[2]

	vd := nodeVoltage(v, nd)
	vg := nodeVoltage(v, ng)
	vs := nodeVoltage(v, ns)

	if q.Polarity == PMOS {
		vd, vg, vs = -vd, -vg, -vs
	}

	vgs := clamp(vg-vs, -10.0, 10.0)
	vds := clamp(vd-vs, -10.0, 10.0)

	var id, gm, gds float64
	if vgs > q.Vth {
		vgsEff := vgs - q.Vth
		if vds < vgsEff {
			id = q.K * (vgsEff*vds - 0.5*vds*vds) * (1 + q.Lambda*vds)
			gm = q.K * vds * (1 + q.Lambda*vds)
			gds = q.K*(vgsEff-vds)*(1+q.Lambda*vds) + q.K*(vgsEff*vds-0.5*vds*vds)*q.Lambda
		} else {
			id = 0.5 * q.K * vgsEff * vgsEff * (1 + q.Lambda*vds)
			gm = q.K * vgsEff * (1 + q.Lambda*vds)
			gds = 0.5 * q.K * vgsEff * vgsEff * q.Lambda
		}
	}

	idEq := id - gm*vgs - gds*vds

	m.AddG(nd, nd, gds)
	m.AddG(nd, ns, -gds)
	m.AddG(nd, ng, gm)
	m.AddI(nd, idEq)

	m.AddG(ns, ns, gds)
	m.AddG(ns, nd, -gds)
	m.AddG(ns, ng, -gm)
	m.AddI(ns, -idEq)

	if q.dt > 0 && (q.Cgs > 0 || q.Cgd > 0) {
		gCgs := q.Cgs / q.dt
		gCgd := q.Cgd / q.dt
		iCgs := gCgs * q.vgsPrev
		iCgd := gCgd * q.vgdPrev

		m.AddG(ng, ng, gCgs)
		m.AddG(ng, ns, -gCgs)
		m.AddG(ns, ng, -gCgs)
		m.AddG(ns, ns, gCgs)
		m.AddI(ng, iCgs)
		m.AddI(ns, -iCgs)

		m.AddG(ng, ng, gCgd)
		m.AddG(ng, nd, -gCgd)
		m.AddG(nd, ng, -gCgd)
		m.AddG(nd, nd, gCgd)
		m.AddI(ng, iCgd)
		m.AddI(nd, -iCgd)
	}

	return nil
}

func (q *MOSFET) UpdateHistory(v []float64, status *CircuitStatus) {
	nd, ng, ns := q.DevNodes[0], q.DevNodes[1], q.DevNodes[2]
	q.vgsPrev = nodeVoltage(v, ng) - nodeVoltage(v, ns)
	q.vgdPrev = nodeVoltage(v, ng) - nodeVoltage(v, nd)
}

func (q *MOSFET) Reset() {
	q.vgsPrev = 0
	q.vgdPrev = 0
}
