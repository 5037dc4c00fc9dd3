package analysis

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/solver"
)

// ImpedanceResult is one frequency point of a Zin/Zout sweep.
type ImpedanceResult struct {
	Freq float64
	Z    complex128
}

// correlationWindowFraction is the trailing fraction of the simulated
// window correlated against the reference tone, per spec.md 4.F: "...
// extract complex V and I phasors over the second half of the simulated
// window."
const correlationWindowFraction = 0.5

// Zin sweeps the circuit's input impedance at each frequency in freqs by
// driving a unit-amplitude test tone at the input node and correlating
// the resulting input-node current against cos(wt) - j*sin(wt).
// cyclesPerPoint sets how many periods of the tone are simulated before
// correlating, trading sweep time against low-frequency accuracy.
func Zin(ctx context.Context, ckt *circuit.Circuit, opt solver.Options, freqs []float64, cyclesPerPoint int) ([]ImpedanceResult, error) {
	if !ckt.HasInput {
		return nil, fmt.Errorf("analysis: Zin sweep requires a .input node")
	}
	results := make([]ImpedanceResult, 0, len(freqs))
	for _, f := range freqs {
		z, err := correlateInput(ctx, ckt, opt, f, cyclesPerPoint)
		if err != nil {
			return results, err
		}
		results = append(results, ImpedanceResult{Freq: f, Z: z})
	}
	return results, nil
}

// Zout sweeps the circuit's output impedance: one pass open-circuited at
// the output node, a second pass with loadG added to the output-node
// diagonal, and reports Z = (V_oc - V_loaded)/I_load derived from the two passes'
// correlated phasors (spec.md 4.F: "Impedance sweeps reuse the driver in
// two passes ... for Z_out: open-circuit, then with a known load
// conductance added to the output-node diagonal").
func Zout(ctx context.Context, ckt *circuit.Circuit, opt solver.Options, freqs []float64, cyclesPerPoint int, loadG float64) ([]ImpedanceResult, error) {
	if !ckt.HasOutput {
		return nil, fmt.Errorf("analysis: Zout sweep requires a .output node")
	}
	results := make([]ImpedanceResult, 0, len(freqs))
	for _, f := range freqs {
		vOpen, err := correlateOutput(ctx, ckt, opt, f, cyclesPerPoint, 0)
		if err != nil {
			return results, err
		}
		vLoaded, err := correlateOutput(ctx, ckt, opt, f, cyclesPerPoint, loadG)
		if err != nil {
			return results, err
		}
		// I_load = V_loaded * loadG (the current actually drawn by the
		// added load); Z_out = (V_open - V_loaded) / I_load, the Thevenin
		// voltage divider solved for the source impedance.
		iLoad := vLoaded * complex(loadG, 0)
		var z complex128
		if cmplx.Abs(iLoad) > 0 {
			z = (vOpen - vLoaded) / iLoad
		}
		results = append(results, ImpedanceResult{Freq: f, Z: z})
	}
	return results, nil
}

func correlateInput(ctx context.Context, ckt *circuit.Circuit, opt solver.Options, freq float64, cyclesPerPoint int) (complex128, error) {
	drv, err := solver.New(ckt, opt)
	if err != nil {
		return 0, err
	}

	period := 1.0 / freq
	dt := period / 200.0
	stop := period * float64(cyclesPerPoint)
	steps := int(stop/dt + 0.5)

	g := 1.0
	if ckt.InputZ > 0 {
		g = 1.0 / ckt.InputZ
	}

	var vSumC, vSumS, iSumC, iSumS float64
	var nWindow int
	windowStart := stop * (1 - correlationWindowFraction)

	for n := 0; n <= steps; n++ {
		t := float64(n) * dt
		sampleDt := dt
		if n == 0 {
			sampleDt = 0
		}
		vin := math.Sin(2 * math.Pi * freq * t)
		input := func(float64) (float64, float64) { return vin, g }
		if _, err := drv.Step(ctx, t, sampleDt, input); err != nil {
			return 0, err
		}
		if t < windowStart {
			continue
		}
		vNode := ckt.NodeVoltage(ckt.InputNode)
		iIn := (vin - vNode) * g
		c := math.Cos(2 * math.Pi * freq * t)
		s := math.Sin(2 * math.Pi * freq * t)
		vSumC += vNode * c
		vSumS += vNode * s
		iSumC += iIn * c
		iSumS += iIn * s
		nWindow++
	}
	if nWindow == 0 {
		return 0, fmt.Errorf("analysis: Zin correlation window was empty")
	}
	vPhasor := complex(vSumC, -vSumS) / complex(float64(nWindow)/2, 0)
	iPhasor := complex(iSumC, -iSumS) / complex(float64(nWindow)/2, 0)
	if cmplx.Abs(iPhasor) == 0 {
		return 0, nil
	}
	return vPhasor / iPhasor, nil
}

func correlateOutput(ctx context.Context, ckt *circuit.Circuit, opt solver.Options, freq float64, cyclesPerPoint int, loadG float64) (complex128, error) {
	drv, err := solver.New(ckt, opt)
	if err != nil {
		return 0, err
	}

	period := 1.0 / freq
	dt := period / 200.0
	stop := period * float64(cyclesPerPoint)
	steps := int(stop/dt + 0.5)
	windowStart := stop * (1 - correlationWindowFraction)

	var input solver.InputFunc
	if ckt.HasInput {
		g := 1.0
		if ckt.InputZ > 0 {
			g = 1.0 / ckt.InputZ
		}
		input = func(t float64) (float64, float64) {
			return math.Sin(2 * math.Pi * freq * t), g
		}
	}

	var vSumC, vSumS float64
	var nWindow int
	for n := 0; n <= steps; n++ {
		t := float64(n) * dt
		sampleDt := dt
		if n == 0 {
			sampleDt = 0
		}
		if _, err := drv.StepWithLoad(ctx, t, sampleDt, input, loadG); err != nil {
			return 0, err
		}
		if t < windowStart {
			continue
		}
		v := ckt.NodeVoltage(ckt.OutputNode)
		c := math.Cos(2 * math.Pi * freq * t)
		s := math.Sin(2 * math.Pi * freq * t)
		vSumC += v * c
		vSumS += v * s
		nWindow++
	}
	if nWindow == 0 {
		return 0, fmt.Errorf("analysis: Zout correlation window was empty")
	}
	return complex(vSumC, -vSumS) / complex(float64(nWindow)/2, 0), nil
}
