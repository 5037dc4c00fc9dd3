// Command spicepedal loads a netlist, runs a transient analysis (or,
// with --interactive, a sample-by-sample run with live .ctrl control),
// and streams a CSV probe log to stdout or a file.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/spicepedal/spicepedal/pkg/analysis"
	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/netlist"
	"github.com/spicepedal/spicepedal/pkg/probe"
	"github.com/spicepedal/spicepedal/pkg/solver"
)

// presetConfig is the optional --config YAML file: a flat map of
// parameter names to initial values, applied over the netlist's own
// .param directives before the run starts.
type presetConfig struct {
	Params map[string]float64 `yaml:"params"`
}

type fileResolver struct{ dir string }

func (f fileResolver) ReadInclude(path string) (string, error) {
	b, err := os.ReadFile(resolveRelative(f.dir, path))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func resolveRelative(dir, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return dir + "/" + path
}

func main() {
	var (
		stop       = pflag.Float64P("stop", "s", 0.05, "simulated stop time in seconds")
		sampleRate = pflag.Float64P("rate", "r", 48000, "sample rate in Hz (sets the fixed time step)")
		configPath = pflag.StringP("config", "c", "", "optional YAML parameter preset file")
		out        = pflag.StringP("out", "o", "", "CSV output path (defaults to stdout)")
		verbose    = pflag.BoolP("verbose", "v", false, "enable debug logging")
		interact   = pflag.BoolP("interactive", "i", false, "raw-mode knob console: arrow keys cycle/nudge .ctrl parameters live")
	)
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if pflag.NArg() < 1 {
		logger.Fatal("usage: spicepedal [flags] <netlist-file>")
	}
	path := pflag.Arg(0)

	text, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("reading netlist", "path", path, "err", err)
	}

	dir := "."
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		dir = path[:idx]
	}

	nl, err := netlist.Parse(string(text), fileResolver{dir: dir})
	if err != nil {
		logger.Fatal("parsing netlist", "err", err)
	}

	ckt, err := circuit.Build(nl)
	if err != nil {
		logger.Fatal("assembling circuit", "err", err)
	}
	logger.Info("circuit assembled", "title", ckt.Title, "nodes", ckt.NumNodes, "devices", len(ckt.Devices))

	if *configPath != "" {
		cfg, err := loadPreset(*configPath)
		if err != nil {
			logger.Fatal("loading config", "path", *configPath, "err", err)
		}
		for name, v := range cfg.Params {
			ckt.Registry.Set(name, v)
		}
		logger.Info("applied parameter preset", "path", *configPath, "count", len(cfg.Params))
	}

	var w *os.File
	if *out == "" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			logger.Warn("no --out given and stdout is a terminal; CSV rows will print raw to the console")
		}
		w = os.Stdout
	} else {
		w, err = os.Create(*out)
		if err != nil {
			logger.Fatal("creating output file", "path", *out, "err", err)
		}
		defer w.Close()
	}

	targets := probeTargets(ckt)
	dt := 1.0 / *sampleRate

	if *interact {
		if err := runInteractive(context.Background(), ckt, solver.Options{Logger: logger}, *stop, dt, targets, w, logger); err != nil {
			logger.Fatal("interactive run failed", "err", err)
		}
		return
	}

	tr, err := analysis.NewTransient(ckt, solver.Options{Logger: logger}, *stop, dt, targets, w)
	if err != nil {
		logger.Fatal("setting up transient analysis", "err", err)
	}

	samples, err := tr.Run(context.Background(), nil)
	if err != nil {
		logger.Fatal("running transient analysis", "err", err)
	}

	failed := 0
	for _, s := range samples {
		if !s.Converged {
			failed++
		}
	}
	logger.Info("run complete",
		"samples", len(samples),
		"failed", failed,
		"output_min", tr.OutputStats.Min,
		"output_max", tr.OutputStats.Max,
		"output_rms", tr.OutputStats.RMS(),
	)
}

func loadPreset(path string) (presetConfig, error) {
	var cfg presetConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing yaml: %w", err)
	}
	return cfg, nil
}

// probeTargets turns the circuit's .probe directives into probe.Target
// values bound to the live circuit.
func probeTargets(ckt *circuit.Circuit) []probe.Target {
	targets := make([]probe.Target, 0, len(ckt.Probes))
	for _, p := range ckt.Probes {
		p := p
		switch p.Kind {
		case "V":
			targets = append(targets, probe.Target{
				Label: p.Label(),
				Lookup: func() (float64, bool) {
					return ckt.ProbeVoltage(p.Name)
				},
			})
		case "I":
			targets = append(targets, probe.Target{
				Label: p.Label(),
				Lookup: func() (float64, bool) {
					return ckt.ProbeCurrent(p.Name)
				},
			})
		}
	}
	return targets
}
