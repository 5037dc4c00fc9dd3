// Package expr compiles and evaluates the arithmetic expressions used by
// behavioural devices (the B and A device variants):
// formulas that reference node voltages, registry parameters, t and dt.
//
// Expressions compile once per device, the first time it is stamped, and
// are re-evaluated every iteration against live values supplied by a
// Resolver -- no node voltage or parameter is ever captured by value, so
// a compiled program always sees the current iterate.
package expr

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Resolver gives a compiled expression access to everything it might
// reference, without the expression package needing to know about nodes,
// circuits or the parameter registry directly.
type Resolver interface {
	// NodeIndex maps a node name to its matrix index.
	NodeIndex(name string) (int, bool)
	// NodeVoltage returns the current NR iterate at a node index.
	NodeVoltage(idx int) float64
	// NodeVoltagePrev returns the node voltage at the last converged step.
	NodeVoltagePrev(idx int) float64
	// Params returns the live parameter registry snapshot; named
	// parameters are bound as bare identifiers in expressions.
	Params() map[string]float64
	// ParamsPrev returns the registry snapshot as of the last converged
	// step, used by the prev(name) builtin.
	ParamsPrev() map[string]float64
}

// Program is a compiled expression ready for repeated evaluation.
type Program struct {
	source string
	prog   *vm.Program
}

// Compile parses and type-checks source once. Identifiers are left
// unresolved at compile time (AllowUndefinedVariables) because the set of
// named parameters in scope is a netlist-time fact the expr package has
// no visibility into; unresolved identifiers fail at Eval time instead,
// surfaced as a normal error rather than a panic.
func Compile(source string) (*Program, error) {
	prog, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expr: compiling %q: %w", source, err)
	}
	return &Program{source: source, prog: prog}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Eval runs the compiled program against the resolver's current state
// plus the given simulation time and time step.
func (p *Program) Eval(r Resolver, t, dt float64) (float64, error) {
	params := r.Params()
	paramsPrev := r.ParamsPrev()

	env := make(map[string]any, len(params)+16)
	for name, v := range params {
		env[name] = v
	}
	env["t"] = t
	env["dt"] = dt
	env["V"] = func(node string) float64 {
		idx, ok := r.NodeIndex(node)
		if !ok {
			return math.NaN()
		}
		return r.NodeVoltage(idx)
	}
	env["Vprev"] = func(node string) float64 {
		idx, ok := r.NodeIndex(node)
		if !ok {
			return math.NaN()
		}
		return r.NodeVoltagePrev(idx)
	}
	env["prev"] = func(param string) float64 { return paramsPrev[param] }
	env["sin"] = math.Sin
	env["cos"] = math.Cos
	env["tanh"] = math.Tanh
	env["exp"] = math.Exp
	env["abs"] = math.Abs
	env["sqrt"] = math.Sqrt
	env["pow"] = math.Pow
	env["log"] = math.Log
	env["min"] = math.Min
	env["max"] = math.Max
	env["pi"] = math.Pi

	out, err := expr.Run(p.prog, env)
	if err != nil {
		return 0, fmt.Errorf("expr: evaluating %q: %w", p.source, err)
	}

	switch n := out.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expr: %q did not evaluate to a number (got %T)", p.source, out)
	}
}
