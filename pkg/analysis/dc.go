package analysis

import (
	"context"
	"fmt"

	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/device"
	"github.com/spicepedal/spicepedal/pkg/solver"
)

// DCSweep names one independent voltage source to step from Start to
// Stop (inclusive) in increments of Step, per spec.md 7's "DC-sweep
// solvers".
type DCSweep struct {
	Source string
	Start  float64
	Stop   float64
	Step   float64
}

func (s DCSweep) values() []float64 {
	if s.Step == 0 {
		return []float64{s.Start}
	}
	var vals []float64
	for v := s.Start; (s.Step > 0 && v <= s.Stop) || (s.Step < 0 && v >= s.Stop); v += s.Step {
		vals = append(vals, v)
	}
	return vals
}

// DCPoint is one operating-point solve of a sweep: the source value(s)
// that produced it and the resulting value of every probe named on the
// netlist's .probe directives.
type DCPoint struct {
	SweepValues []float64
	Probes      map[string]float64
}

// DC re-solves the circuit's operating point once per combination of
// swept source values, grounded on the teacher's pkg/analysis/dc.go
// (DCSweep.singleSweep/nestedSweep): up to two independent voltage
// sources are stepped, the matrix is re-solved from scratch at each
// point via OperatingPoint, and every configured probe is sampled. The
// swept sources' original DC values are restored once the sweep
// completes, matching the teacher's SetValue(origVals[i]) cleanup.
func DC(ctx context.Context, ckt *circuit.Circuit, opt solver.Options, sweeps []DCSweep) ([]DCPoint, error) {
	switch len(sweeps) {
	case 1, 2:
	default:
		return nil, fmt.Errorf("analysis: DC sweep supports 1 or 2 sources, got %d", len(sweeps))
	}

	sources := make([]*device.VoltageSource, len(sweeps))
	origVals := make([]float64, len(sweeps))
	for i, sw := range sweeps {
		dev, ok := ckt.DeviceByName(sw.Source)
		if !ok {
			return nil, fmt.Errorf("analysis: DC sweep source %q not found", sw.Source)
		}
		src, ok := dev.(*device.VoltageSource)
		if !ok {
			return nil, fmt.Errorf("analysis: DC sweep source %q is not a voltage source", sw.Source)
		}
		sources[i] = src
		origVals[i] = src.DC
	}
	defer func() {
		for i, src := range sources {
			src.DC = origVals[i]
		}
	}()

	valueSets := make([][]float64, len(sweeps))
	for i, sw := range sweeps {
		valueSets[i] = sw.values()
	}

	var points []DCPoint
	var walk func(depth int, chosen []float64) error
	walk = func(depth int, chosen []float64) error {
		if depth == len(sweeps) {
			for i, v := range chosen {
				sources[i].DC = v
			}
			ok, err := OperatingPoint(ctx, ckt, opt)
			if err != nil {
				return fmt.Errorf("analysis: DC sweep at %v: %w", chosen, err)
			}
			if !ok {
				return fmt.Errorf("analysis: DC sweep at %v: failed to converge", chosen)
			}
			probes := make(map[string]float64, len(ckt.Probes))
			for _, p := range ckt.Probes {
				var v float64
				var ok bool
				switch p.Kind {
				case "V":
					v, ok = ckt.ProbeVoltage(p.Name)
				case "I":
					v, ok = ckt.ProbeCurrent(p.Name)
				}
				if ok {
					probes[p.Label()] = v
				}
			}
			points = append(points, DCPoint{
				SweepValues: append([]float64(nil), chosen...),
				Probes:      probes,
			})
			return nil
		}
		for _, v := range valueSets[depth] {
			if err := walk(depth+1, append(chosen, v)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(0, make([]float64, 0, len(sweeps))); err != nil {
		return points, err
	}
	return points, nil
}
