package device

import (
	"fmt"

	"github.com/spicepedal/spicepedal/internal/consts"
	"github.com/spicepedal/spicepedal/pkg/expr"
	"github.com/spicepedal/spicepedal/pkg/matrix"
)

// BehavioralVoltageSource is a Norton-stamped source whose target voltage
// is the value of a compiled expression rather than a fixed waveform
// (spec.md 4.A). The expression is compiled once, the first time the
// device is stamped, and re-evaluated against live node/parameter state
// on every subsequent call.
type BehavioralVoltageSource struct {
	BaseDevice
	NopPreparer
	NopHistory
	Rs         float64
	Expression string

	resolver expr.Resolver
	program  *expr.Program
}

func NewBehavioralVoltageSource(name string, n1, n2 int, expression string, rs float64, resolver expr.Resolver) (*BehavioralVoltageSource, error) {
	if rs <= 0 {
		return nil, fmt.Errorf("behavioural source %s: Rs must be positive", name)
	}
	if expression == "" {
		return nil, fmt.Errorf("behavioural source %s: missing V expression", name)
	}
	return &BehavioralVoltageSource{
		BaseDevice: newBase(name, "B", []int{n1, n2}),
		Rs:         rs,
		Expression: expression,
		resolver:   resolver,
	}, nil
}

func (b *BehavioralVoltageSource) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	if b.program == nil {
		p, err := expr.Compile(b.Expression)
		if err != nil {
			return fmt.Errorf("behavioural source %s: %w", b.Name(), err)
		}
		b.program = p
	}

	target, err := b.program.Eval(b.resolver, status.Time, status.TimeStep)
	if err != nil {
		return fmt.Errorf("behavioural source %s: %w", b.Name(), err)
	}

	n1, n2 := b.DevNodes[0], b.DevNodes[1]
	rs := b.Rs
	if rs < consts.RMin {
		rs = consts.RMin
	}
	g := 1.0 / rs
	i := target * g

	m.AddG(n1, n1, g)
	m.AddG(n1, n2, -g)
	m.AddG(n2, n1, -g)
	m.AddG(n2, n2, g)
	m.AddI(n1, i)
	m.AddI(n2, -i)
	return nil
}

// ParamEvaluator writes a registry parameter from a compiled expression
// each stamp; it contributes no matrix terms at all (spec.md 4.A: "No
// node stamps").
type ParamEvaluator struct {
	BaseDevice
	NopPreparer
	NopHistory
	Param      string
	Expression string

	resolver expr.Resolver
	setter   func(name string, v float64)
	program  *expr.Program
}

func NewParamEvaluator(name, param, expression string, resolver expr.Resolver, setter func(string, float64)) (*ParamEvaluator, error) {
	if expression == "" {
		return nil, fmt.Errorf("param evaluator %s: missing expression", name)
	}
	return &ParamEvaluator{
		BaseDevice: newBase(name, "A", nil),
		Param:      param,
		Expression: expression,
		resolver:   resolver,
		setter:     setter,
	}, nil
}

func (a *ParamEvaluator) Stamp(m *matrix.Matrix, v []float64, status *CircuitStatus) error {
	if a.program == nil {
		p, err := expr.Compile(a.Expression)
		if err != nil {
			return fmt.Errorf("param evaluator %s: %w", a.Name(), err)
		}
		a.program = p
	}
	value, err := a.program.Eval(a.resolver, status.Time, status.TimeStep)
	if err != nil {
		return fmt.Errorf("param evaluator %s: %w", a.Name(), err)
	}
	a.setter(a.Param, value)
	return nil
}
