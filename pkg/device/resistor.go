package device

import (
	"fmt"

	"github.com/spicepedal/spicepedal/internal/consts"
	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// Resistor is a linear, static two-terminal element: g = 1/R, stamped
// directly with no history.
type Resistor struct {
	BaseDevice
	NopPreparer
	NopHistory
	R float64
}

func NewResistor(name string, n1, n2 int, r float64) (*Resistor, error) {
	if r <= 0 {
		return nil, fmt.Errorf("resistor %s: resistance must be positive, got %g", name, r)
	}
	if n1 == n2 {
		return nil, fmt.Errorf("resistor %s: nodes must be distinct", name)
	}
	return &Resistor{
		BaseDevice: newBase(name, "R", []int{n1, n2}),
		R:          r,
	}, nil
}

func (r *Resistor) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	n1, n2 := r.DevNodes[0], r.DevNodes[1]
	res := r.R
	if res > consts.RMax {
		return nil // spec.md: "if R > R_MAX, skip"
	}
	if res < consts.RMin {
		res = consts.RMin
	}
	g := 1.0 / res

	m.AddG(n1, n1, g)
	m.AddG(n1, n2, -g)
	m.AddG(n2, n1, -g)
	m.AddG(n2, n2, g)
	return nil
}

func (r *Resistor) GetCurrent(v []float64, status *CircuitStatus) float64 {
	n1, n2 := r.DevNodes[0], r.DevNodes[1]
	res := r.R
	if res < consts.RMin {
		res = consts.RMin
	}
	return (nodeVoltage(v, n1) - nodeVoltage(v, n2)) / res
}

// Wire is a Resistor specialisation pinned to a small fixed resistance,
// used for zero-ohm jumper connections in a netlist (spec.md 3's "W" variant).
const WireResistance = 1e-3

func NewWire(name string, n1, n2 int) (*Resistor, error) {
	w, err := NewResistor(name, n1, n2, WireResistance)
	if err != nil {
		return nil, err
	}
	w.DevType = "W"
	return w, nil
}
