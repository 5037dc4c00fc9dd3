// Package device implements the companion-model stamp library: one type
// per device variant in the circuit (resistor, capacitor, inductor,
// diode, BJT, MOSFET, sources, op-amp, potentiometer, ...), each
// contributing conductance and current terms to the shared system matrix
// for the current Newton-Raphson iterate.
package device

import "github.com/spicepedal/spicepedal/pkg/matrix"

// AnalysisMode distinguishes the kind of solve a Stamp call participates
// in; most devices ignore it, but a few (capacitor, inductor) change
// behaviour at dt == 0 regardless of Mode, and Mode alone is not
// sufficient for that decision -- status.TimeStep is authoritative.
type AnalysisMode int

const (
	OperatingPoint AnalysisMode = iota
	Transient
	ImpedanceSweep
)

// CircuitStatus threads the per-sample context through every device call:
// the current simulated time, the time step (0 for a DC operating point),
// the analysis mode, and ambient temperature (carried for every device;
// none of the current devices reads it, each uses its own Vt).
type CircuitStatus struct {
	Time     float64
	TimeStep float64
	Mode     AnalysisMode
	Temp     float64

	// Iteration is the 0-based Newton-Raphson iteration index within the
	// current sample; devices rarely need it. The BJT's voltage limiting
	// compares against its own vXXXPrev fields, which hold the last
	// converged sample, not the previous iterate; no current device reads
	// Iteration directly.
	Iteration int
}

// Device is the capability every stamped element must implement. Per
// spec.md 9 ("Open questions"), the chosen stamp contract is
// Prepare(dt) -> Stamp(G,I,V) -> UpdateHistory(V): Prepare runs once at
// step entry (before the first NR iteration), Stamp runs every NR
// iteration, UpdateHistory runs once after convergence.
type Device interface {
	Name() string
	Type() string
	Nodes() []int

	// Prepare runs once per time step, before the first NR iteration.
	// Devices with no step-entry computation (most of them) embed
	// NopPreparer to satisfy this with a no-op.
	Prepare(status *CircuitStatus)

	// Stamp accumulates this device's companion model into G and I for
	// the current iterate V. It must not allocate and must not write to
	// V. Ground (node 0) writes are silently discarded by matrix.Matrix,
	// so devices never need to special-case it themselves.
	Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error

	// UpdateHistory advances any stored state (v_prev, i_prev, ...) once
	// the sample has converged. It must not be called after a failed
	// sample.
	UpdateHistory(v []float64, status *CircuitStatus)

	// Reset restores all stored state to zero, as if the device were
	// freshly constructed.
	Reset()
}

// CurrentReader is implemented by devices that can report the current
// flowing through them given a converged voltage vector; used by probe
// logging (I(name) requests) and by getCurrent-based tests.
type CurrentReader interface {
	GetCurrent(v []float64, status *CircuitStatus) float64
}

// NopPreparer is embedded by devices whose Prepare is a no-op, matching
// the teacher's small-interface-plus-embedding style.
type NopPreparer struct{}

func (NopPreparer) Prepare(*CircuitStatus) {}

// NopHistory is embedded by devices with no state to advance.
type NopHistory struct{}

func (NopHistory) UpdateHistory([]float64, *CircuitStatus) {}
func (NopHistory) Reset()                                  {}

// BaseDevice carries the fields every device variant shares (name, type
// tag, node list), mirroring the teacher's BaseDevice embedding pattern.
type BaseDevice struct {
	DevName  string
	DevType  string
	DevNodes []int
}

func (b *BaseDevice) Name() string  { return b.DevName }
func (b *BaseDevice) Type() string  { return b.DevType }
func (b *BaseDevice) Nodes() []int  { return b.DevNodes }

func newBase(name, devType string, nodes []int) BaseDevice {
	return BaseDevice{DevName: name, DevType: devType, DevNodes: nodes}
}

// nodeVoltage reads V[n] treating node 0 (ground) as always 0, matching
// every component.h stamp in original_source which guards node reads the
// same way.
func nodeVoltage(v []float64, n int) float64 {
	if n <= 0 || n >= len(v) {
		return 0
	}
	return v[n]
}
