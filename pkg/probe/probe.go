// Package probe implements the solver's CSV logging contract (spec.md 6):
// one header row naming every requested probe, one data row per sample
// -- including non-converged samples, per spec.md 7/12 -- semicolon
// separated, nine fractional digits on time, literal NaN for a probe
// target that cannot be resolved.
package probe

import (
	"fmt"
	"io"
	"math"
)

// Target names one probe column: a node voltage (V(name)) or a device
// current (I(name)).
type Target struct {
	Label  string // the exact "V(node)" / "I(comp)" header text
	Lookup func() (float64, bool)
}

// Writer streams CSV rows to an underlying io.Writer.
type Writer struct {
	w       io.Writer
	targets []Target
}

func New(w io.Writer, targets []Target) *Writer {
	return &Writer{w: w, targets: targets}
}

// WriteHeader emits the "time;V(node);I(comp);..." header line.
func (p *Writer) WriteHeader() error {
	line := "time"
	for _, t := range p.targets {
		line += ";" + t.Label
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

// WriteSample emits one data row for the given simulated time, regardless
// of whether the sample converged -- the caller decides whether to call
// this for a failed sample at all (spec.md 12 says every sample is
// logged; analysis drivers that want convergence-only CSVs should filter
// upstream of this writer).
func (p *Writer) WriteSample(t float64) error {
	line := fmt.Sprintf("%.9f", t)
	for _, target := range p.targets {
		v, ok := target.Lookup()
		if !ok || math.IsNaN(v) {
			line += ";NaN"
			continue
		}
		line += fmt.Sprintf(";%g", v)
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}
