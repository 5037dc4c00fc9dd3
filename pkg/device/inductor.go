package device

import (
	"fmt"

	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// Inductor implements the trapezoidal companion model, kept purely nodal
// (no auxiliary branch-current unknown): at dt==0 it degenerates into a
// large conductance short, matching the DC-operating-point treatment in
// spec.md 4.F.
type Inductor struct {
	BaseDevice
	NopPreparer
	L    float64
	RDC  float64
	iPrev float64
	vPrev float64
}

// dcShortConductance mirrors original_source's inductor.h DC-analysis
// branch (g = 1e6) for the dt==0 short-circuit approximation.
const dcShortConductance = 1e6

func NewInductor(name string, n1, n2 int, l, rdc float64) (*Inductor, error) {
	if l <= 0 {
		return nil, fmt.Errorf("inductor %s: inductance must be positive, got %g", name, l)
	}
	if rdc < 0 {
		return nil, fmt.Errorf("inductor %s: series resistance cannot be negative", name)
	}
	if n1 == n2 {
		return nil, fmt.Errorf("inductor %s: nodes must be distinct", name)
	}
	return &Inductor{
		BaseDevice: newBase(name, "L", []int{n1, n2}),
		L:          l,
		RDC:        rdc,
	}, nil
}

func (l *Inductor) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	n1, n2 := l.DevNodes[0], l.DevNodes[1]
	dt := status.TimeStep

	if dt <= 0 {
		g := dcShortConductance
		m.AddG(n1, n1, g)
		m.AddG(n1, n2, -g)
		m.AddG(n2, n1, -g)
		m.AddG(n2, n2, g)
		return nil
	}

	rEq := 2*l.L/dt + l.RDC
	gEq := 1.0 / rEq
	vEq := (2*l.L/dt)*l.iPrev + l.vPrev + l.RDC*l.iPrev
	iEq := vEq * gEq

	m.AddG(n1, n1, gEq)
	m.AddG(n1, n2, -gEq)
	m.AddG(n2, n1, -gEq)
	m.AddG(n2, n2, gEq)
	m.AddI(n1, -iEq)
	m.AddI(n2, iEq)
	return nil
}

func (l *Inductor) UpdateHistory(v []float64, status *CircuitStatus) {
	n1, n2 := l.DevNodes[0], l.DevNodes[1]
	vNow := nodeVoltage(v, n1) - nodeVoltage(v, n2)
	dt := status.TimeStep
	if dt > 0 {
		l.iPrev = l.iPrev + (dt/(2*l.L))*(vNow+l.vPrev)
	}
	l.vPrev = vNow
}

func (l *Inductor) Reset() {
	l.iPrev = 0
	l.vPrev = 0
}

func (l *Inductor) GetCurrent(v []float64, status *CircuitStatus) float64 {
	n1, n2 := l.DevNodes[0], l.DevNodes[1]
	dt := status.TimeStep
	if dt <= 0 {
		if l.RDC > 1e-9 {
			return (nodeVoltage(v, n1) - nodeVoltage(v, n2)) / l.RDC
		}
		return 0
	}
	vNow := nodeVoltage(v, n1) - nodeVoltage(v, n2)
	return l.iPrev + (dt/(2*l.L))*(vNow+l.vPrev)
}
