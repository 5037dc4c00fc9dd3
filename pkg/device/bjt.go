package device

import (
	"fmt"
	"math"

	"github.com/spicepedal/spicepedal/internal/consts"
	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// BJTPolarity selects the Ebers-Moll sign convention.
type BJTPolarity int

const (
	NPN BJTPolarity = iota
	PNP
)

// vLimit bounds how far a junction voltage used in the stamp may move
// from its value at the last converged sample, to help Newton-Raphson
// convergence against the exponential nonlinearity.
const vLimit = 0.5

// BJT implements the Ebers-Moll companion model with junction-voltage
// limiting, grounded on original_source/include/components/bjt.h.
type BJT struct {
	BaseDevice
	NopPreparer
	Polarity BJTPolarity
	Is       float64
	Bf       float64
	Br       float64
	Vt       float64

	vbePrev float64
	vbcPrev float64
}

func NewBJT(name string, nc, nb, ne int, polarity BJTPolarity, is, bf, br, vt float64) (*BJT, error) {
	if is <= 0 {
		return nil, fmt.Errorf("bjt %s: saturation current Is must be positive", name)
	}
	if bf <= 0 {
		return nil, fmt.Errorf("bjt %s: forward beta Bf must be positive", name)
	}
	if br <= 0 {
		return nil, fmt.Errorf("bjt %s: reverse beta Br must be positive", name)
	}
	if vt <= 0 {
		return nil, fmt.Errorf("bjt %s: thermal voltage Vt must be positive", name)
	}
	if nc == nb || nb == ne || nc == ne {
		return nil, fmt.Errorf("bjt %s: all three nodes must be distinct", name)
	}
	return &BJT{
		BaseDevice: newBase(name, "Q", []int{nc, nb, ne}),
		Polarity:   polarity,
		Is:         is,
		Bf:         bf,
		Br:         br,
		Vt:         vt,
	}, nil
}

func (q *BJT) limitJunction(vnew, vold float64) float64 {
	dv := vnew - vold
	if math.Abs(dv) > vLimit {
		return vold + math.Copysign(vLimit, dv)
	}
	if math.Abs(vnew) > 1.0 && math.Abs(vold) < 0.1 {
		return math.Copysign(0.7, vnew)
	}
	return vnew
}

func (q *BJT) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	nc, nb, ne := q.DevNodes[0], q.DevNodes[1], q.DevNodes[2]
	vc, vb, ve := nodeVoltage(v, nc), nodeVoltage(v, nb), nodeVoltage(v, ne)

	vbe := q.limitJunction(vb-ve, q.vbePrev)
	vbc := q.limitJunction(vb-vc, q.vbcPrev)

	if q.Polarity == PNP {
		vbe, vbc = -vbe, -vbc
	}

	expVbe := math.Exp(math.Min(vbe/q.Vt, 80.0))
	expVbc := math.Exp(math.Min(vbc/q.Vt, 80.0))

	ifDiode := q.Is * (expVbe - 1.0)
	irDiode := q.Is * (expVbc - 1.0)

	ib := ifDiode/q.Bf + irDiode/q.Br
	ic := ifDiode - irDiode
	ie := -(ib + ic)

	gbe := (q.Is / (q.Bf * q.Vt)) * expVbe
	gbc := (q.Is / (q.Br * q.Vt)) * expVbc
	gce := (q.Is / q.Vt) * expVbe
	gcc := -(q.Is / q.Vt) * expVbc

	ieqB := ib - (gbe*vbe + gbc*vbc)
	ieqC := ic - (gce*vbe + gcc*vbc)
	ieqE := ie - (-(gbe+gce)*vbe - (gbc+gcc)*vbc)

	sign := 1.0
	if q.Polarity == PNP {
		sign = -1.0
	}

	// Base-emitter junction
	m.AddG(nb, nb, gbe)
	m.AddG(nb, ne, -gbe)
	m.AddG(ne, nb, -gbe)
	m.AddG(ne, ne, gbe)

	// Base-collector junction
	m.AddG(nb, nb, gbc)
	m.AddG(nb, nc, -gbc)
	m.AddG(nc, nb, -gbc)
	m.AddG(nc, nc, gbc)

	// Collector-emitter controlled source (transistor action)
	m.AddG(nc, nb, gce)
	m.AddG(nc, ne, -gce)
	m.AddG(ne, nb, -gce)
	m.AddG(ne, ne, gce)

	m.AddG(nc, nb, gcc)
	m.AddG(nc, nc, -gcc)
	m.AddG(ne, nb, -gcc)
	m.AddG(ne, nc, gcc)

	m.AddI(nb, -sign*ieqB)
	m.AddI(nc, -sign*ieqC)
	m.AddI(ne, -sign*ieqE)

	m.AddG(nc, nc, consts.GMinStability)
	m.AddG(nb, nb, consts.GMinStability)
	m.AddG(ne, ne, consts.GMinStability)
	return nil
}

func (q *BJT) UpdateHistory(v []float64, status *CircuitStatus) {
	nc, nb, ne := q.DevNodes[0], q.DevNodes[1], q.DevNodes[2]
	vbe := nodeVoltage(v, nb) - nodeVoltage(v, ne)
	vbc := nodeVoltage(v, nb) - nodeVoltage(v, nc)
	if q.Polarity == PNP {
		vbe, vbc = -vbe, -vbc
	}
	q.vbePrev = vbe
	q.vbcPrev = vbc
}

func (q *BJT) Reset() {
	q.vbePrev = 0
	q.vbcPrev = 0
}

// GetCurrent returns the collector current using the full Ebers-Moll
// expression Ic = If - Ir*(1 + 1/Br), deliberately retaining the
// reverse-base-current term rather than the canonical Ic = If - Ir (see
// DESIGN.md's note on this device).
func (q *BJT) GetCurrent(v []float64, status *CircuitStatus) float64 {
	nc, nb, ne := q.DevNodes[0], q.DevNodes[1], q.DevNodes[2]
	vbe := nodeVoltage(v, nb) - nodeVoltage(v, ne)
	vbc := nodeVoltage(v, nb) - nodeVoltage(v, nc)
	if q.Polarity == PNP {
		vbe, vbc = -vbe, -vbc
	}

	expVbe := math.Exp(math.Min(vbe/q.Vt, 80.0))
	expVbc := math.Exp(math.Min(vbc/q.Vt, 80.0))

	ifDiode := q.Is * (expVbe - 1.0)
	irDiode := q.Is * (expVbc - 1.0)

	ic := ifDiode - irDiode*(1.0+1.0/q.Br)
	if q.Polarity == PNP {
		return -ic
	}
	return ic
}
