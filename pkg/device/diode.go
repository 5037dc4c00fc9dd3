package device

import (
	"fmt"
	"math"

	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// Diode implements the Shockley-law companion model plus an optional
// backward-Euler junction capacitance, grounded on
// original_source/include/components/diode.h.
type Diode struct {
	BaseDevice
	Is  float64
	N   float64
	Vt  float64
	Cj0 float64
	Vj  float64
	Mj  float64

	vdPrev float64
	dt     float64
	iEqCap float64
	gCap   float64
}

func NewDiode(name string, n1, n2 int, is, n, vt, cj0, vj, mj float64) (*Diode, error) {
	if is <= 0 || n <= 0 || vt <= 0 {
		return nil, fmt.Errorf("diode %s: Is, N and Vt must be positive", name)
	}
	if n1 == n2 {
		return nil, fmt.Errorf("diode %s: nodes must be distinct", name)
	}
	return &Diode{
		BaseDevice: newBase(name, "D", []int{n1, n2}),
		Is:         is,
		N:          n,
		Vt:         vt,
		Cj0:        cj0,
		Vj:         vj,
		Mj:         mj,
	}, nil
}

// Prepare runs once at step entry: it freezes the time step and computes
// the junction-capacitance companion terms from vd_prev, before any NR
// iteration perturbs the iterate (spec.md 4.A: "Cj frozen at the start of
// the time step").
func (d *Diode) Prepare(status *CircuitStatus) {
	d.dt = status.TimeStep
	if d.dt > 0 && d.Cj0 > 0 {
		vdCapPrev := clamp(d.vdPrev, -5.0, 0.5)
		var cj float64
		if vdCapPrev < 0 {
			cj = d.Cj0 * math.Pow(1.0-vdCapPrev/d.Vj, -d.Mj)
		} else {
			cj = d.Cj0 * 2.0
		}
		d.gCap = cj / d.dt
		d.iEqCap = d.gCap * d.vdPrev
	} else {
		d.gCap = 0
		d.iEqCap = 0
	}
}

func (d *Diode) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	n1, n2 := d.DevNodes[0], d.DevNodes[1]
	vd := nodeVoltage(v, n1) - nodeVoltage(v, n2)
	vd = clamp(vd, -5.0, 1.0)

	vtTotal := d.N * d.Vt
	expTerm := math.Exp(vd / vtTotal)

	id := d.Is * (expTerm - 1.0)
	gd := (d.Is / vtTotal) * expTerm
	iEq := id - gd*vd

	m.AddG(n1, n1, gd)
	m.AddG(n1, n2, -gd)
	m.AddG(n2, n1, -gd)
	m.AddG(n2, n2, gd)
	m.AddI(n1, -iEq)
	m.AddI(n2, iEq)

	if d.dt > 0 && d.Cj0 > 0 {
		m.AddG(n1, n1, d.gCap)
		m.AddG(n1, n2, -d.gCap)
		m.AddG(n2, n1, -d.gCap)
		m.AddG(n2, n2, d.gCap)
		m.AddI(n1, d.iEqCap)
		m.AddI(n2, -d.iEqCap)
	}
	return nil
}

func (d *Diode) UpdateHistory(v []float64, status *CircuitStatus) {
	n1, n2 := d.DevNodes[0], d.DevNodes[1]
	d.vdPrev = nodeVoltage(v, n1) - nodeVoltage(v, n2)
}

func (d *Diode) Reset() {
	d.vdPrev = 0
	d.gCap = 0
	d.iEqCap = 0
}

func (d *Diode) GetCurrent(v []float64, status *CircuitStatus) float64 {
	n1, n2 := d.DevNodes[0], d.DevNodes[1]
	vd := nodeVoltage(v, n1) - nodeVoltage(v, n2)

	vtTotal := d.N * d.Vt
	id := d.Is * (math.Exp(vd/vtTotal) - 1.0)

	ic := 0.0
	if d.dt > 0 && d.Cj0 > 0 {
		vdCap := clamp(vd, -5.0, 0.5)
		var cj float64
		if vdCap < 0 {
			cj = d.Cj0 * math.Pow(1.0-vdCap/d.Vj, -d.Mj)
		} else {
			cj = d.Cj0 * 2.0
		}
		ic = cj * (vd - d.vdPrev) / d.dt
	}
	return id + ic
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
