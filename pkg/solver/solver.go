// Package solver runs the Newton-Raphson driver (spec.md 4.F) that turns
// an assembled circuit.Circuit into a sequence of converged node-voltage
// samples: zero the matrix, stamp every device, apply the external input
// source, pin ground, factor, solve, check convergence, and advance
// device history once a sample converges.
package solver

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/spicepedal/spicepedal/internal/consts"
	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/device"
	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// Options configures one driver instance; zero-value Options uses the
// package's defaults (see New).
type Options struct {
	Tolerance float64
	MaxIter   int
	Temp      float64
	Logger    *log.Logger
}

// Driver owns the matrix and runs the NR loop against a single Circuit.
// Not safe for concurrent use from more than one goroutine, matching
// spec.md 5 ("exactly one solver owns a circuit at a time").
type Driver struct {
	ckt *circuit.Circuit
	mat *matrix.Matrix
	opt Options

	SampleCount int
	FailedCount int
	IterCount   int
}

// New builds a Driver over ckt. opt.Tolerance and opt.MaxIter default to
// consts.DefaultTolerance / consts.DefaultMaxIterations when zero.
func New(ckt *circuit.Circuit, opt Options) (*Driver, error) {
	if opt.Tolerance <= 0 {
		opt.Tolerance = consts.DefaultTolerance
	}
	if opt.MaxIter <= 0 {
		opt.MaxIter = consts.DefaultMaxIterations
	}
	if opt.Temp <= 0 {
		opt.Temp = consts.RoomTemp
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}

	m, err := matrix.New(ckt.NumNodes)
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	return &Driver{ckt: ckt, mat: m, opt: opt}, nil
}

// Reset restores the driver and its circuit to a freshly-built state,
// per spec.md 9's reset() invariant: every device's stored state is
// zeroed, the node-voltage history is cleared, and the sample/iteration
// counters restart from zero. The next Step(... dt=0 ...) with no input
// then reproduces the same DC operating point a brand-new Driver over
// the same circuit would produce.
func (d *Driver) Reset() {
	for _, dev := range d.ckt.Devices {
		dev.Reset()
	}
	d.ckt.ResetVoltages()
	d.SampleCount = 0
	d.FailedCount = 0
	d.IterCount = 0
}

// InputFunc produces the external source's open-circuit voltage and
// series conductance for the given simulated time; nil means "no input
// node configured", matching circuit.Circuit.HasInput == false.
type InputFunc func(t float64) (voltage, conductance float64)

// Step advances the circuit by one sample of size dt (dt == 0 requests a
// DC operating-point solve, per spec.md 4.F). input is applied at
// ckt.InputNode if the circuit declares one; pass nil if it does not.
// Returns whether the sample converged; a non-convergent sample is not
// an error -- the last iterate is retained and history is not advanced,
// per spec.md 4.F step 8.
func (d *Driver) Step(ctx context.Context, t, dt float64, input InputFunc) (bool, error) {
	return d.step(ctx, t, dt, input, 0)
}

// StepWithLoad is Step plus a known conductance added to the output
// node's diagonal, for the loaded pass of a Zout sweep (spec.md 4.F:
// "... then with a known load conductance added to the output-node
// diagonal inside the applySource hook").
func (d *Driver) StepWithLoad(ctx context.Context, t, dt float64, input InputFunc, loadG float64) (bool, error) {
	return d.step(ctx, t, dt, input, loadG)
}

func (d *Driver) step(ctx context.Context, t, dt float64, input InputFunc, loadG float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	status := &device.CircuitStatus{
		Time:     t,
		TimeStep: dt,
		Mode:     modeFor(dt),
		Temp:     d.opt.Temp,
	}

	// prepareTimeStep hooks (diode junction capacitance) run once at step
	// entry, before the first NR iteration.
	for _, dev := range d.ckt.Devices {
		dev.Prepare(status)
	}

	v := d.ckt.CurrentVoltages()
	converged := false

	for iter := 0; iter < d.opt.MaxIter; iter++ {
		status.Iteration = iter
		d.mat.Clear()

		for _, dev := range d.ckt.Devices {
			if err := dev.Stamp(d.mat, v, status); err != nil {
				return false, fmt.Errorf("stamping %s %q: %w", dev.Type(), dev.Name(), err)
			}
		}

		if d.ckt.HasInput && input != nil {
			vin, g := input(t)
			d.mat.AddG(d.ckt.InputNode, d.ckt.InputNode, g)
			d.mat.AddI(d.ckt.InputNode, vin*g)
		}
		if loadG != 0 && d.ckt.HasOutput {
			d.mat.AddG(d.ckt.OutputNode, d.ckt.OutputNode, loadG)
		}

		d.mat.PinGround()

		if err := d.mat.Factor(); err != nil {
			return false, fmt.Errorf("factoring at t=%g: %w", t, err)
		}
		if d.mat.Warned() {
			d.opt.Logger.Warn("floating node detected, pivot floored", "t", t, "iter", iter)
		}

		vNew := d.mat.Solve()
		converged, _ = withinTolerance(v, vNew, d.opt.Tolerance)
		copy(v, vNew) // damped update = identity, spec.md 4.F step 6
		d.IterCount++
		if converged {
			break
		}
	}

	if !converged {
		d.FailedCount++
		d.opt.Logger.Warn("sample failed to converge", "t", t, "maxIter", d.opt.MaxIter)
		return false, nil
	}

	for _, dev := range d.ckt.Devices {
		dev.UpdateHistory(v, status)
	}
	d.ckt.CommitVoltages(status)
	d.SampleCount++
	return true, nil
}

func modeFor(dt float64) device.AnalysisMode {
	if dt == 0 {
		return device.OperatingPoint
	}
	return device.Transient
}

// withinTolerance reports whether ||vNew-v||^2 < tolerance^2, per
// spec.md 4.F step 6's convergence criterion.
func withinTolerance(v, vNew []float64, tolerance float64) (bool, float64) {
	var sumSq float64
	for i := range v {
		d := vNew[i] - v[i]
		sumSq += d * d
	}
	return sumSq < tolerance*tolerance, sumSq
}
