// Package netlist tokenises the line-oriented circuit description format
// (spec.md 6) into a sequence of Elements and Directives. It knows
// nothing about device stamping or circuit assembly; pkg/circuit
// consumes its output to build the simulator's device list.
package netlist

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Element is one component record: R, C, L, D, Q, V, W, P, O, E, B, A, X.
type Element struct {
	Type   string
	Name   string
	Nodes  []string
	Value  float64
	Attrs  map[string]string
	Line   int
	Raw    string
}

// Directive is one leading-dot directive line, tokenised but not yet
// interpreted (pkg/circuit does the interpretation since directives like
// .ctrl and .ic need the node/device maps to resolve against).
type Directive struct {
	Name   string // lowercased, without the leading dot
	Fields []string
	Attrs  map[string]string
	Line   int
}

// Netlist is the parsed, flattened (includes spliced, .model macros
// substituted) netlist ready for circuit assembly.
type Netlist struct {
	Title      string
	Elements   []Element
	Directives []Directive
}

// IncludeResolver reads the contents of a path named by a .include
// directive; netlist tokenising has no filesystem access of its own.
type IncludeResolver interface {
	ReadInclude(path string) (string, error)
}

var unitSuffix = map[byte]float64{
	'f': 1e-15,
	'p': 1e-12,
	'n': 1e-9,
	'u': 1e-6,
	'm': 1e-3,
	'k': 1e3,
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
}

var numericRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseValue converts a numeric field with an optional unit suffix
// (spec.md 6) into a float64. An unrecognised trailing suffix is an
// error, per spec.md 7 ("Parse errors ... unknown unit suffix: fail with
// a descriptive error at load time").
func ParseValue(field string) (float64, error) {
	loc := numericRe.FindStringIndex(field)
	if loc == nil {
		return 0, fmt.Errorf("invalid numeric value %q", field)
	}
	numPart := field[loc[0]:loc[1]]
	rest := field[loc[1]:]

	base, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value %q: %w", field, err)
	}
	if rest == "" {
		return base, nil
	}
	// "meg" spelled out, case-insensitively, ahead of the single-letter table.
	if strings.EqualFold(rest, "meg") {
		return base * 1e6, nil
	}
	mult, ok := unitSuffix[rest[0]]
	if !ok {
		return 0, fmt.Errorf("unknown unit suffix %q in value %q", rest, field)
	}
	return base * mult, nil
}

// Parse tokenises raw netlist text. include resolves .include directives
// and may be nil if the netlist is known not to use them.
func Parse(text string, include IncludeResolver) (*Netlist, error) {
	spliced, err := spliceIncludes(text, include, 0)
	if err != nil {
		return nil, err
	}

	models := collectModels(spliced)
	spliced = substituteModels(spliced, models)

	nl := &Netlist{}
	scanner := bufio.NewScanner(strings.NewReader(spliced))
	lineNo := 0
	first := true

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := stripComment(raw)
		line = strings.TrimSpace(line)

		if first {
			first = false
			if strings.HasPrefix(strings.TrimSpace(raw), "*") {
				nl.Title = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "*"))
				continue
			}
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "*") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, ".") {
			d, err := parseDirective(line, lineNo)
			if err != nil {
				return nil, err
			}
			nl.Directives = append(nl.Directives, d)
			continue
		}

		elem, err := parseElement(line, lineNo)
		if err != nil {
			return nil, err
		}
		nl.Elements = append(nl.Elements, elem)
	}
	return nl, nil
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

var modelLineRe = regexp.MustCompile(`^\.model\s+(\S+)\s+(\S+)\s*(.*)$`)

// collectModels scans for .model directives without removing them (the
// caller strips them during normal directive parsing, which simply
// ignores the "model" directive name since device construction already
// substituted its attributes inline).
func collectModels(text string) map[string]string {
	models := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(stripComment(line))
		m := modelLineRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		models[m[1]] = m[3]
	}
	return models
}

// substituteModels replaces a bare model-name token on D/Q/O lines with
// the attribute text recorded for it in a .model directive, mirroring
// original_source/include/circuit.h's preprocessNetlist regex-based
// macro substitution. Lines that already carry key=value attributes
// instead of a bare model reference are left untouched.
func substituteModels(text string, models map[string]string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(stripComment(line))
		if trimmed == "" {
			continue
		}
		prefix := trimmed[0]
		if prefix != 'D' && prefix != 'Q' && prefix != 'O' {
			continue
		}
		fields := splitFields(trimmed)
		if len(fields) == 0 {
			continue
		}
		last := fields[len(fields)-1]
		if strings.Contains(last, "=") {
			continue
		}
		if attrs, ok := models[last]; ok && attrs != "" {
			lines[i] = strings.Join(fields[:len(fields)-1], " ") + " " + attrs
		}
	}
	return strings.Join(lines, "\n")
}

// spliceIncludes inlines .include <path> directives by raw line
// replacement, recursively, before any other parsing happens.
func spliceIncludes(text string, include IncludeResolver, depth int) (string, error) {
	if depth > 16 {
		return "", fmt.Errorf(".include nesting too deep (possible cycle)")
	}
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(stripComment(line))
		if !strings.HasPrefix(trimmed, ".include") {
			out = append(out, line)
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) != 2 {
			return "", fmt.Errorf(".include requires exactly one path argument, got %q", trimmed)
		}
		if include == nil {
			return "", fmt.Errorf(".include %s: no include resolver configured", fields[1])
		}
		content, err := include.ReadInclude(fields[1])
		if err != nil {
			return "", fmt.Errorf(".include %s: %w", fields[1], err)
		}
		spliced, err := spliceIncludes(content, include, depth+1)
		if err != nil {
			return "", err
		}
		out = append(out, spliced)
	}
	return strings.Join(out, "\n"), nil
}

// splitFields tokenises a line on whitespace, keeping double-quoted
// substrings (e.g. V="sin(2*pi*440*t)") intact as a single field.
func splitFields(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			if inQuote {
				cur.WriteByte(c)
			} else {
				flush()
			}
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}

// nodeCounts gives the positional node-field count for each record type,
// per the table in spec.md 6.
var nodeCounts = map[string]int{
	"R": 2, "C": 2, "L": 2, "W": 2,
	"D": 2, "Q": 3, "V": 2,
	"P": 3, "O": 5, "E": 4, "X": 2,
	"B": 2, "A": 0,
}

func parseElement(line string, lineNo int) (Element, error) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return Element{}, fmt.Errorf("line %d: empty element line", lineNo)
	}
	prefix := fields[0][:1]
	numNodes, known := nodeCounts[prefix]
	if !known {
		return Element{}, fmt.Errorf("line %d: unknown component prefix %q", lineNo, prefix)
	}

	if len(fields) < 1+numNodes {
		return Element{}, fmt.Errorf("line %d: %s %s: expected at least %d node fields", lineNo, prefix, fields[0], numNodes)
	}

	elem := Element{
		Type:  prefix,
		Name:  fields[0],
		Nodes: append([]string(nil), fields[1:1+numNodes]...),
		Attrs: make(map[string]string),
		Line:  lineNo,
		Raw:   line,
	}

	rest := fields[1+numNodes:]
	var positional []string
	for _, f := range rest {
		if eq := strings.IndexByte(f, '='); eq >= 0 {
			key := f[:eq]
			val := f[eq+1:]
			val = strings.Trim(val, `"`)
			elem.Attrs[key] = val
		} else {
			positional = append(positional, f)
		}
	}

	// First positional field after nodes on R/C/L/V-ish records is the
	// value/model field; elements that carry it this way (R,C,L,V with a
	// bare numeric, D/Q with a bare model name already substituted away
	// by substituteModels) pick it up here.
	if len(positional) > 0 {
		if v, err := ParseValue(positional[0]); err == nil {
			elem.Value = v
		} else if prefix == "V" {
			// V's positional field may be "DC"/"SIN(...)"/etc, handled by
			// the circuit assembler, not here.
			elem.Attrs["_waveform"] = positional[0]
		} else if prefix == "X" {
			// X's third positional field is its subcircuit kind
			// (PITCH/PITCH2/FFTPITCH/INTEGRATOR), not a node or a number.
			elem.Attrs["kind"] = positional[0]
		}
	}

	return elem, nil
}

func parseDirective(line string, lineNo int) (Directive, error) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return Directive{}, fmt.Errorf("line %d: empty directive", lineNo)
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "."))
	d := Directive{Name: name, Line: lineNo, Attrs: make(map[string]string)}
	for _, f := range fields[1:] {
		if eq := strings.IndexByte(f, '='); eq >= 0 {
			d.Attrs[f[:eq]] = strings.Trim(f[eq+1:], `"`)
		} else {
			d.Fields = append(d.Fields, f)
		}
	}
	return d, nil
}
