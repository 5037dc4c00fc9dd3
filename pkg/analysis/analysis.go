// Package analysis drives pkg/solver over a whole simulation: a fixed
// time-domain run (Transient), a single dt==0 solve (OperatingPoint), a
// DC-sweep solver stepping one or two sources over a range (DC), and the
// correlation-based Zin/Zout impedance sweeps of spec.md 4.F / 12.
package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/probe"
	"github.com/spicepedal/spicepedal/pkg/solver"
)

// Sample is one logged row: simulated time plus whether it converged.
type Sample struct {
	Time      float64
	Converged bool
}

// Stats accumulates basic signal statistics over a run's output-node
// waveform, supplementing spec.md's bare pass/fail convergence counters
// with the kind of summary a pedal-tuning session actually wants (see
// SPEC_FULL.md 12).
type Stats struct {
	Min, Max, Sum, SumSq float64
	N                    int
}

func (s *Stats) observe(v float64) {
	if s.N == 0 {
		s.Min, s.Max = v, v
	} else {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Sum += v
	s.SumSq += v * v
	s.N++
}

// Mean returns the arithmetic mean of observed samples.
func (s *Stats) Mean() float64 {
	if s.N == 0 {
		return 0
	}
	return s.Sum / float64(s.N)
}

// RMS returns the root-mean-square of observed samples.
func (s *Stats) RMS() float64 {
	if s.N == 0 {
		return 0
	}
	return math.Sqrt(s.SumSq / float64(s.N))
}

// Transient steps the circuit at a fixed step dt from t = 0 up to and
// including stop, driving the .input node (if declared) with the waveform
// passed to Run, optionally writing a CSV row per sample to w via
// pkg/probe.
type Transient struct {
	Circuit *circuit.Circuit
	Driver  *solver.Driver
	Writer  *probe.Writer

	Stop float64
	Dt   float64

	OutputStats Stats
}

// NewTransient builds a Transient analysis over ckt. w may be nil to skip
// CSV logging entirely.
func NewTransient(ckt *circuit.Circuit, opt solver.Options, stop, dt float64, targets []probe.Target, w probeWriter) (*Transient, error) {
	drv, err := solver.New(ckt, opt)
	if err != nil {
		return nil, err
	}
	tr := &Transient{Circuit: ckt, Driver: drv, Stop: stop, Dt: dt}
	if w != nil {
		tr.Writer = probe.New(w, targets)
	}
	return tr, nil
}

// probeWriter is the minimal io.Writer surface NewTransient needs,
// spelled out locally so callers can pass nil without importing io just
// for that purpose.
type probeWriter interface {
	Write(p []byte) (n int, err error)
}

// Run executes the transient sweep, returning the per-sample convergence
// record. inputVoltage, if non-nil, gives the open-circuit voltage of the
// external source at the .input node; when nil, that source holds the
// node toward 0 V through its series conductance. The netlist itself
// declares no input waveform.
func (tr *Transient) Run(ctx context.Context, inputVoltage func(t float64) float64) ([]Sample, error) {
	if tr.Writer != nil {
		if err := tr.Writer.WriteHeader(); err != nil {
			return nil, fmt.Errorf("transient: writing CSV header: %w", err)
		}
	}

	ckt := tr.Circuit
	var input solver.InputFunc
	if ckt.HasInput {
		g := 1.0
		if ckt.InputZ > 0 {
			g = 1.0 / ckt.InputZ
		}
		input = func(t float64) (float64, float64) {
			if inputVoltage != nil {
				return inputVoltage(t), g
			}
			return 0, g
		}
	}

	var samples []Sample
	warmedUp := ckt.Warmup <= 0
	steps := int(tr.Stop/tr.Dt + 0.5)
	for n := 0; n <= steps; n++ {
		t := float64(n) * tr.Dt
		if t > tr.Stop {
			break
		}
		dt := tr.Dt
		if n == 0 {
			dt = 0 // first sample is the DC operating point
		}

		ok, err := tr.Driver.Step(ctx, t, dt, input)
		if err != nil {
			return samples, err
		}
		samples = append(samples, Sample{Time: t, Converged: ok})

		if !warmedUp && t >= ckt.Warmup {
			warmedUp = true
		}
		if !warmedUp {
			continue
		}

		if ckt.HasOutput {
			tr.OutputStats.observe(ckt.NodeVoltage(ckt.OutputNode))
		}
		if tr.Writer != nil {
			if err := tr.Writer.WriteSample(t); err != nil {
				return samples, fmt.Errorf("transient: writing sample at t=%g: %w", t, err)
			}
		}
	}
	return samples, nil
}

// OperatingPoint runs a single dt==0 solve, per spec.md 4.F: "DC
// operating-point analysis uses the same driver with dt = 0".
func OperatingPoint(ctx context.Context, ckt *circuit.Circuit, opt solver.Options) (bool, error) {
	drv, err := solver.New(ckt, opt)
	if err != nil {
		return false, err
	}
	var input solver.InputFunc
	if ckt.HasInput {
		g := 1.0
		if ckt.InputZ > 0 {
			g = 1.0 / ckt.InputZ
		}
		input = func(float64) (float64, float64) { return 0, g }
	}
	return drv.Step(ctx, 0, 0, input)
}
