// Package circuit assembles a parsed netlist into a device list, node
// map, parameter registry, probe list and initial conditions -- the
// "Circuit assembly" component of spec.md 2 row D. It owns no solving
// logic of its own; pkg/solver drives the Newton-Raphson loop against
// the device list this package builds.
package circuit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spicepedal/spicepedal/pkg/device"
	"github.com/spicepedal/spicepedal/pkg/expr"
	"github.com/spicepedal/spicepedal/pkg/netlist"
	"github.com/spicepedal/spicepedal/pkg/paramreg"
)

// ProbeTarget names one requested probe: V(node) or I(component).
type ProbeTarget struct {
	Kind string // "V" or "I"
	Name string
}

func (p ProbeTarget) Label() string { return p.Kind + "(" + p.Name + ")" }

// Circuit is the assembled, ready-to-solve circuit: node map, device
// list, parameter registry and everything the netlist's directives
// configured.
type Circuit struct {
	Title string

	Nodes    map[string]int
	NumNodes int // includes ground (node 0)

	Devices  []device.Device
	byName   map[string]device.Device

	Registry *paramreg.Registry

	InputNode  int
	InputZ     float64
	HasInput   bool
	OutputNode int
	HasOutput  bool

	Probes []ProbeTarget
	Warmup float64

	curV  []float64
	prevV []float64

	lastStatus *device.CircuitStatus
}

// Build constructs a Circuit from a parsed netlist.
func Build(nl *netlist.Netlist) (*Circuit, error) {
	c := &Circuit{
		Title:    nl.Title,
		Nodes:    map[string]int{"0": 0, "gnd": 0},
		byName:   make(map[string]device.Device),
		Registry: paramreg.New(),
	}

	// Apply .param directives first so device construction (potentiometer
	// defaults, behavioural expressions referencing a parameter before any
	// .ctrl override) sees them.
	for _, d := range nl.Directives {
		if d.Name == "param" && len(d.Fields) >= 1 {
			name := d.Fields[0]
			if len(d.Fields) < 2 {
				return nil, fmt.Errorf(".param %s: missing value", name)
			}
			v, err := netlist.ParseValue(d.Fields[1])
			if err != nil {
				return nil, fmt.Errorf(".param %s: %w", name, err)
			}
			c.Registry.Set(name, v)
		}
	}

	c.assignNodes(nl.Elements)
	c.NumNodes = len(c.Nodes)
	c.curV = make([]float64, c.NumNodes)
	c.prevV = make([]float64, c.NumNodes)

	for _, elem := range nl.Elements {
		dev, err := c.buildDevice(elem)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", elem.Line, err)
		}
		if dev != nil {
			c.Devices = append(c.Devices, dev)
			c.byName[elem.Name] = dev
		}
	}

	if err := c.applyDirectives(nl.Directives); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Circuit) assignNodes(elements []netlist.Element) {
	for _, elem := range elements {
		for _, n := range elem.Nodes {
			if _, ok := c.Nodes[n]; !ok {
				c.Nodes[n] = len(c.Nodes)
			}
		}
	}
}

func (c *Circuit) nodeIndex(name string) int { return c.Nodes[name] }

func attrFloat(attrs map[string]string, key string, def float64) (float64, error) {
	raw, ok := attrs[key]
	if !ok {
		return def, nil
	}
	return netlist.ParseValue(raw)
}

func (c *Circuit) buildDevice(e netlist.Element) (device.Device, error) {
	switch e.Type {
	case "R":
		return device.NewResistor(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), e.Value)
	case "W":
		return device.NewWire(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]))
	case "C":
		return device.NewCapacitor(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), e.Value)
	case "L":
		rs, err := attrFloat(e.Attrs, "Rs", 100)
		if err != nil {
			return nil, err
		}
		return device.NewInductor(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), e.Value, rs)
	case "D":
		is, err := attrFloat(e.Attrs, "Is", 1e-14)
		if err != nil {
			return nil, err
		}
		n, err := attrFloat(e.Attrs, "N", 1)
		if err != nil {
			return nil, err
		}
		vt, err := attrFloat(e.Attrs, "Vt", 0.02585)
		if err != nil {
			return nil, err
		}
		cj0, err := attrFloat(e.Attrs, "Cj0", 0)
		if err != nil {
			return nil, err
		}
		vj, err := attrFloat(e.Attrs, "Vj", 1)
		if err != nil {
			return nil, err
		}
		mj, err := attrFloat(e.Attrs, "Mj", 0.5)
		if err != nil {
			return nil, err
		}
		return device.NewDiode(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), is, n, vt, cj0, vj, mj)
	case "Q":
		is, err := attrFloat(e.Attrs, "Is", 1e-14)
		if err != nil {
			return nil, err
		}
		bf, err := attrFloat(e.Attrs, "Bf", 100)
		if err != nil {
			return nil, err
		}
		br, err := attrFloat(e.Attrs, "Br", 1)
		if err != nil {
			return nil, err
		}
		vt, err := attrFloat(e.Attrs, "Vt", 0.02585)
		if err != nil {
			return nil, err
		}
		polarity := device.NPN
		if strings.EqualFold(e.Attrs["type"], "PNP") {
			polarity = device.PNP
		}
		return device.NewBJT(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), c.nodeIndex(e.Nodes[2]), polarity, is, bf, br, vt)
	case "V":
		rs, err := attrFloat(e.Attrs, "Rs", 1)
		if err != nil {
			return nil, err
		}
		wave := e.Attrs["_waveform"]
		if strings.HasPrefix(strings.ToUpper(wave), "SIN") || e.Attrs["sin"] != "" {
			amp, _ := attrFloat(e.Attrs, "amp", 1)
			freq, _ := attrFloat(e.Attrs, "freq", 1000)
			phase, _ := attrFloat(e.Attrs, "phase", 0)
			return device.NewSinVoltageSource(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), e.Value, amp, freq, phase, rs)
		}
		return device.NewDCVoltageSource(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), e.Value, rs)
	case "B":
		rs, err := attrFloat(e.Attrs, "Rs", 1e-3)
		if err != nil {
			return nil, err
		}
		return device.NewBehavioralVoltageSource(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), e.Attrs["V"], rs, c)
	case "E":
		rout, err := attrFloat(e.Attrs, "Rout", 75)
		if err != nil {
			return nil, err
		}
		vmax, err := attrFloat(e.Attrs, "Vmax", 15)
		if err != nil {
			return nil, err
		}
		gain, err := attrFloat(e.Attrs, "Gain", 1e5)
		if err != nil {
			return nil, err
		}
		return device.NewVCVS(e.Name,
			c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]),
			c.nodeIndex(e.Nodes[2]), c.nodeIndex(e.Nodes[3]),
			rout, vmax, gain)
	case "O":
		rout, err := attrFloat(e.Attrs, "Rout", 75)
		if err != nil {
			return nil, err
		}
		imax, err := attrFloat(e.Attrs, "Imax", 0.02)
		if err != nil {
			return nil, err
		}
		gain, err := attrFloat(e.Attrs, "Gain", 1e5)
		if err != nil {
			return nil, err
		}
		sr, err := attrFloat(e.Attrs, "Sr", 13)
		if err != nil {
			return nil, err
		}
		return device.NewOpAmp(e.Name,
			c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), c.nodeIndex(e.Nodes[2]),
			c.nodeIndex(e.Nodes[3]), c.nodeIndex(e.Nodes[4]),
			rout, imax, gain, sr)
	case "P":
		total := e.Value
		taper := device.TaperLinear
		if strings.EqualFold(e.Attrs["taper"], "LOG") || strings.EqualFold(e.Attrs["taper"], "B") {
			taper = device.TaperLog
		}
		param := e.Attrs["param"]
		return device.NewPotentiometer(e.Name,
			c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), c.nodeIndex(e.Nodes[2]),
			total, taper, param, c.Registry.Get)
	case "A":
		var param, expression string
		for k, v := range e.Attrs {
			param, expression = k, v
		}
		return device.NewParamEvaluator(e.Name, param, expression, c, c.Registry.Set)
	case "X":
		kind, err := device.ParseSubcircuitKind(e.Attrs["kind"])
		if err != nil {
			return nil, err
		}
		return device.NewSubcircuit(e.Name, c.nodeIndex(e.Nodes[0]), c.nodeIndex(e.Nodes[1]), kind)
	default:
		return nil, fmt.Errorf("unknown component prefix %q", e.Type)
	}
}

func (c *Circuit) applyDirectives(directives []netlist.Directive) error {
	for _, d := range directives {
		switch d.Name {
		case "input":
			if len(d.Fields) < 1 {
				return fmt.Errorf(".input: missing node")
			}
			c.InputNode = c.nodeIndex(d.Fields[0])
			c.HasInput = true
			if z, ok := d.Attrs["Z"]; ok {
				v, err := netlist.ParseValue(z)
				if err != nil {
					return fmt.Errorf(".input Z: %w", err)
				}
				c.InputZ = v
			}
		case "output":
			if len(d.Fields) < 1 {
				return fmt.Errorf(".output: missing node")
			}
			c.OutputNode = c.nodeIndex(d.Fields[0])
			c.HasOutput = true
		case "probe":
			for _, f := range d.Fields {
				target, err := parseProbeField(f)
				if err != nil {
					return err
				}
				c.Probes = append(c.Probes, target)
			}
		case "warmup":
			if len(d.Fields) < 1 {
				return fmt.Errorf(".warmup: missing seconds")
			}
			v, err := netlist.ParseValue(d.Fields[0])
			if err != nil {
				return fmt.Errorf(".warmup: %w", err)
			}
			c.Warmup = v
		case "ic":
			if len(d.Fields) < 2 {
				return fmt.Errorf(".ic: expected <cap_name> <volts>")
			}
			dev, ok := c.byName[d.Fields[0]]
			if !ok {
				return fmt.Errorf(".ic: unknown component %q", d.Fields[0])
			}
			capDev, ok := dev.(*device.Capacitor)
			if !ok {
				return fmt.Errorf(".ic: %q is not a capacitor", d.Fields[0])
			}
			v, err := netlist.ParseValue(d.Fields[1])
			if err != nil {
				return fmt.Errorf(".ic %s: %w", d.Fields[0], err)
			}
			capDev.SetInitialCondition(v)
		case "ctrl":
			if len(d.Fields) < 5 {
				return fmt.Errorf(".ctrl: expected <id> <param> <min> <max> <step>")
			}
			min, err := strconv.ParseFloat(d.Fields[2], 64)
			if err != nil {
				return fmt.Errorf(".ctrl %s: %w", d.Fields[0], err)
			}
			max, err := strconv.ParseFloat(d.Fields[3], 64)
			if err != nil {
				return fmt.Errorf(".ctrl %s: %w", d.Fields[0], err)
			}
			step, err := strconv.ParseFloat(d.Fields[4], 64)
			if err != nil {
				return fmt.Errorf(".ctrl %s: %w", d.Fields[0], err)
			}
			c.Registry.AddCtrl(paramreg.Ctrl{ID: d.Fields[0], Param: d.Fields[1], Min: min, Max: max, Step: step})
		case "param", "model", "include":
			// .param already applied before device construction; .model
			// and .include are resolved entirely at the netlist-tokenising
			// layer (see pkg/netlist), so there is nothing left to do here.
		default:
			return fmt.Errorf("unknown directive %q", d.Name)
		}
	}
	return nil
}

func parseProbeField(f string) (ProbeTarget, error) {
	if len(f) < 4 || f[1] != '(' || f[len(f)-1] != ')' {
		return ProbeTarget{}, fmt.Errorf(".probe: malformed target %q", f)
	}
	kind := string(f[0])
	if kind != "V" && kind != "I" {
		return ProbeTarget{}, fmt.Errorf(".probe: unsupported probe kind %q", kind)
	}
	return ProbeTarget{Kind: kind, Name: f[2 : len(f)-1]}, nil
}

// --- expr.Resolver -----------------------------------------------------

func (c *Circuit) NodeIndex(name string) (int, bool) {
	idx, ok := c.Nodes[name]
	return idx, ok
}

func (c *Circuit) NodeVoltage(idx int) float64 {
	if idx < 0 || idx >= len(c.curV) {
		return 0
	}
	return c.curV[idx]
}

func (c *Circuit) NodeVoltagePrev(idx int) float64 {
	if idx < 0 || idx >= len(c.prevV) {
		return 0
	}
	return c.prevV[idx]
}

func (c *Circuit) Params() map[string]float64     { return c.Registry.Params() }
func (c *Circuit) ParamsPrev() map[string]float64 { return c.Registry.ParamsPrev() }

var _ expr.Resolver = (*Circuit)(nil)

// --- solver-facing accessors --------------------------------------------

// CurrentVoltages returns the live iterate slice; the solver package
// writes into it directly between NR iterations.
func (c *Circuit) CurrentVoltages() []float64 { return c.curV }

// PreviousVoltages returns the last-converged voltage slice.
func (c *Circuit) PreviousVoltages() []float64 { return c.prevV }

// CommitVoltages copies the current iterate into the previous-step
// snapshot, advances the parameter registry, and records status as the
// context for any I(component) probe resolved before the next sample
// converges. Called once per converged sample.
func (c *Circuit) CommitVoltages(status *device.CircuitStatus) {
	copy(c.prevV, c.curV)
	c.Registry.Advance()
	c.lastStatus = status
}

// ResetVoltages zeroes the current and previous node-voltage history,
// as if the circuit had just been built (spec.md 9's reset() invariant:
// "every device reports zero stored state and the first subsequent
// solve() with a zero input produces V equal to the solution of the DC
// operating point with all state-variables zeroed"). It does not touch
// device state -- callers reset every device separately, matching the
// per-device Reset() contract in pkg/device.
func (c *Circuit) ResetVoltages() {
	for i := range c.curV {
		c.curV[i] = 0
	}
	for i := range c.prevV {
		c.prevV[i] = 0
	}
	c.lastStatus = nil
}

// DeviceByName looks up a constructed device for probe/.ic resolution.
func (c *Circuit) DeviceByName(name string) (device.Device, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// ProbeVoltage resolves a V(node) probe against the live iterate.
func (c *Circuit) ProbeVoltage(node string) (float64, bool) {
	idx, ok := c.Nodes[node]
	if !ok {
		return 0, false
	}
	return c.curV[idx], true
}

// ProbeCurrent resolves an I(component) probe via the device's
// CurrentReader capability, if it has one, against the status of the
// last converged sample.
func (c *Circuit) ProbeCurrent(name string) (float64, bool) {
	dev, ok := c.byName[name]
	if !ok || c.lastStatus == nil {
		return 0, false
	}
	reader, ok := dev.(device.CurrentReader)
	if !ok {
		return 0, false
	}
	return reader.GetCurrent(c.curV, c.lastStatus), true
}
