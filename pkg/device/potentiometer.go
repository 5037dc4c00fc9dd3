package device

import (
	"fmt"
	"math"

	"github.com/spicepedal/spicepedal/internal/consts"
	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// Taper selects how a normalised knob position maps to wiper fraction.
type Taper int

const (
	TaperLinear Taper = iota
	TaperLog
)

// Potentiometer stamps two virtual resistors -- (n1,wiper) and
// (n2,wiper) -- whose split is read live from the parameter registry
// every stamp, so a knob change takes effect without recompiling
// anything, grounded on
// original_source/include/components/potentiometer.h. Each leg is
// stamped inline with the same two-terminal conductance pattern the
// Resistor device uses; no Resistor values are constructed.
type Potentiometer struct {
	BaseDevice
	NopPreparer
	NopHistory
	Total float64
	Taper Taper
	Param string

	getParam func(name string) float64
}

func NewPotentiometer(name string, n1, n2, wiper int, total float64, taper Taper, param string, getParam func(string) float64) (*Potentiometer, error) {
	if total <= 0 {
		return nil, fmt.Errorf("potentiometer %s: total resistance must be positive", name)
	}
	return &Potentiometer{
		BaseDevice: newBase(name, "P", []int{n1, n2, wiper}),
		Total:      total,
		Taper:      taper,
		Param:      param,
		getParam:   getParam,
	}, nil
}

func (p *Potentiometer) position() float64 {
	pos := clamp(p.getParam(p.Param), 0, 1)
	if p.Taper == TaperLog {
		return math.Pow(pos, 5)
	}
	return pos
}

func (p *Potentiometer) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	if p.Total > consts.RMax {
		return nil // spec.md: "If R_total > R_MAX, skip entirely"
	}
	pos := p.position()
	n1, n2, wiper := p.DevNodes[0], p.DevNodes[1], p.DevNodes[2]

	ra := p.Total * (1 - pos)
	rb := p.Total * pos
	if ra < consts.RMin {
		ra = consts.RMin
	}
	if rb < consts.RMin {
		rb = consts.RMin
	}

	ga := 1.0 / ra
	m.AddG(n1, n1, ga)
	m.AddG(n1, wiper, -ga)
	m.AddG(wiper, n1, -ga)
	m.AddG(wiper, wiper, ga)

	gb := 1.0 / rb
	m.AddG(n2, n2, gb)
	m.AddG(n2, wiper, -gb)
	m.AddG(wiper, n2, -gb)
	m.AddG(wiper, wiper, gb)
	return nil
}
