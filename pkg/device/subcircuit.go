package device

import (
	"fmt"

	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// SubcircuitKind enumerates the experimental X-record variants (spec.md 6).
type SubcircuitKind int

const (
	SubINTEGRATOR SubcircuitKind = iota
	SubPITCH
	SubPITCH2
	SubFFTPITCH
)

func ParseSubcircuitKind(s string) (SubcircuitKind, error) {
	switch s {
	case "INTEGRATOR":
		return SubINTEGRATOR, nil
	case "PITCH":
		return SubPITCH, nil
	case "PITCH2":
		return SubPITCH2, nil
	case "FFTPITCH":
		return SubFFTPITCH, nil
	default:
		return 0, fmt.Errorf("unknown subcircuit kind %q", s)
	}
}

// Subcircuit is an opaque one-output Norton source reading a signal node
// and writing a control-voltage node, per spec.md 9: "specify them only
// as opaque one-output Norton sources". INTEGRATOR keeps a running
// rectangular sum of its input (state += vin*dt per converged dt > 0 step);
// PITCH/PITCH2/FFTPITCH are structurally present but pass the input
// through a slew-limited copy rather than fabricating pitch-detection
// DSP the spec never describes (see SPEC_FULL.md 12).
type Subcircuit struct {
	BaseDevice
	NopPreparer
	Kind SubcircuitKind
	Rout float64

	state float64 // integrator accumulator / pass-through slew state
}

const subcircuitSlewPerSecond = 50.0 // V/s, pass-through smoothing rate

func NewSubcircuit(name string, nIn, nOut int, kind SubcircuitKind) (*Subcircuit, error) {
	return &Subcircuit{
		BaseDevice: newBase(name, "X", []int{nIn, nOut}),
		Kind:       kind,
		Rout:       1.0,
	}, nil
}

func (x *Subcircuit) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	nOut := x.DevNodes[1]
	g := 1.0 / x.Rout
	target := x.state

	m.AddG(nOut, nOut, g)
	m.AddI(nOut, target*g)
	return nil
}

func (x *Subcircuit) UpdateHistory(v []float64, status *CircuitStatus) {
	nIn := x.DevNodes[0]
	vin := nodeVoltage(v, nIn)
	dt := status.TimeStep
	if dt <= 0 {
		return
	}

	switch x.Kind {
	case SubINTEGRATOR:
		x.state += vin * dt
	default:
		maxStep := subcircuitSlewPerSecond * dt
		delta := vin - x.state
		if delta > maxStep {
			delta = maxStep
		} else if delta < -maxStep {
			delta = -maxStep
		}
		x.state += delta
	}
}

func (x *Subcircuit) Reset() { x.state = 0 }
