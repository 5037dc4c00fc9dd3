package device

import (
	"fmt"

	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// Capacitor implements the trapezoidal-rule companion model: at dt==0
// it is an open circuit (no stamp), otherwise a conductance g_eq=2C/dt in
// parallel with a history-derived current source.
type Capacitor struct {
	BaseDevice
	NopPreparer
	C float64

	vPrev float64
	iPrev float64

	// ic0 is the optional .ic initial voltage override; applied on the
	// first dt > 0 Stamp after construction/Reset via the flag below, not
	// at construction time, since .ic is a netlist-wide directive applied
	// after every device already exists.
	ic0      float64
	hasIC    bool
	icPulled bool
}

func NewCapacitor(name string, n1, n2 int, c float64) (*Capacitor, error) {
	if c <= 0 {
		return nil, fmt.Errorf("capacitor %s: capacitance must be positive, got %g", name, c)
	}
	if n1 == n2 {
		return nil, fmt.Errorf("capacitor %s: nodes must be distinct", name)
	}
	return &Capacitor{
		BaseDevice: newBase(name, "C", []int{n1, n2}),
		C:          c,
	}, nil
}

// SetInitialCondition records a .ic override; it is used as the previous
// voltage by every dt > 0 Stamp until the first UpdateHistory with
// dt > 0 consumes it (a dt == 0 sample leaves it pending), matching the
// "charged to V via .ic" scenario in spec.md 8.
func (c *Capacitor) SetInitialCondition(volts float64) {
	c.ic0 = volts
	c.hasIC = true
	c.icPulled = false
}

func (c *Capacitor) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	n1, n2 := c.DevNodes[0], c.DevNodes[1]
	dt := status.TimeStep

	if dt <= 0 {
		return nil // DC: open circuit, no stamp
	}

	vPrev := c.vPrev
	iPrev := c.iPrev
	if c.hasIC && !c.icPulled {
		vPrev = c.ic0
	}

	gEq := 2 * c.C / dt
	iEq := gEq*vPrev + iPrev

	m.AddG(n1, n1, gEq)
	m.AddG(n1, n2, -gEq)
	m.AddG(n2, n1, -gEq)
	m.AddG(n2, n2, gEq)
	m.AddI(n1, -iEq)
	m.AddI(n2, iEq)
	return nil
}

func (c *Capacitor) UpdateHistory(v []float64, status *CircuitStatus) {
	n1, n2 := c.DevNodes[0], c.DevNodes[1]
	vNow := nodeVoltage(v, n1) - nodeVoltage(v, n2)
	dt := status.TimeStep

	// A dt == 0 operating-point sample sees the capacitor as open, so a
	// pending .ic override is kept for the first transient step.
	if dt <= 0 && c.hasIC && !c.icPulled {
		return
	}

	vPrev := c.vPrev
	if c.hasIC && !c.icPulled {
		vPrev = c.ic0
		c.icPulled = true
	}

	if dt > 0 {
		gEq := 2 * c.C / dt
		c.iPrev = gEq*(vNow-vPrev) - c.iPrev
	}
	c.vPrev = vNow
}

func (c *Capacitor) Reset() {
	c.vPrev = 0
	c.iPrev = 0
	c.icPulled = false
}

func (c *Capacitor) GetCurrent(v []float64, status *CircuitStatus) float64 {
	n1, n2 := c.DevNodes[0], c.DevNodes[1]
	vNow := nodeVoltage(v, n1) - nodeVoltage(v, n2)
	dt := status.TimeStep
	if dt <= 0 {
		return 0
	}
	return c.C * (vNow - c.vPrev) / dt
}
