package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/spicepedal/spicepedal/pkg/circuit"
	"github.com/spicepedal/spicepedal/pkg/paramreg"
	"github.com/spicepedal/spicepedal/pkg/probe"
	"github.com/spicepedal/spicepedal/pkg/solver"
)

// keyEvent is one decoded keystroke from the raw-mode control surface.
type keyEvent int

const (
	keyUp keyEvent = iota
	keyDown
	keyLeft
	keyRight
)

// readKeys puts stdin into raw mode and decodes arrow-key escape
// sequences plus 'q', grounded on original_source's
// spicepedal_stream.cpp handleKeyPress: ESC '[' 'A'/'B' = up/down (step
// the current parameter), 'C'/'D' = right/left (select a parameter),
// 'q' quits. Raw mode is restored when ctx is cancelled or stdin
// closes. Returns a nil channel if stdin is not a terminal, so callers
// degrade to "no control surface" rather than erroring.
func readKeys(ctx context.Context, cancel context.CancelFunc, logger *log.Logger) <-chan keyEvent {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		logger.Warn("interactive: stdin is not a terminal, control surface disabled")
		return nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn("interactive: could not enable raw terminal mode", "err", err)
		return nil
	}

	events := make(chan keyEvent, 8)
	go func() {
		defer term.Restore(fd, old)
		defer close(events)
		buf := make([]byte, 3)
		for ctx.Err() == nil {
			if _, err := os.Stdin.Read(buf[:1]); err != nil {
				return
			}
			switch buf[0] {
			case 'q', 'Q':
				cancel()
				return
			case 0x1b: // ESC '[' <letter>
				if _, err := os.Stdin.Read(buf[1:3]); err != nil {
					return
				}
				var ev keyEvent
				switch buf[2] {
				case 'A':
					ev = keyUp
				case 'B':
					ev = keyDown
				case 'C':
					ev = keyRight
				case 'D':
					ev = keyLeft
				default:
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events
}

// applyKey updates the registry's control-surface cursor/value, mirroring
// original_source's incrementCtrlParamValue/decrementCtrlParamValue/
// nextCtrlParam/previousCtrlParam mapping (up/down nudge the selected
// parameter, left/right move the selection).
func applyKey(reg *paramreg.Registry, ev keyEvent, logger *log.Logger) {
	switch ev {
	case keyUp:
		reg.IncrementCtrlValue()
	case keyDown:
		reg.DecrementCtrlValue()
	case keyRight:
		reg.NextCtrl()
	case keyLeft:
		reg.PreviousCtrl()
	}
	if c, ok := reg.CurrentCtrl(); ok {
		logger.Info("ctrl", "id", c.ID, "param", c.Param, "value", reg.Get(c.Param))
	}
}

const interactiveBanner = `SpicePedal interactive controls:
  up / down    : adjust the selected parameter
  left / right : select a parameter
  q            : quit`

// runInteractive drives the transient loop sample by sample -- rather
// than analysis.Transient.Run's closed loop -- so the control surface's
// key events can be polled and applied between samples. Grounded on
// spec.md 6's .ctrl live-control surface and original_source's
// handleKeyPress polling loop.
func runInteractive(ctx context.Context, ckt *circuit.Circuit, opt solver.Options, stop, dt float64, targets []probe.Target, w io.Writer, logger *log.Logger) error {
	if len(ckt.Registry.Ctrls()) == 0 {
		logger.Warn("interactive: netlist declares no .ctrl entries, running without a control surface")
	}

	drv, err := solver.New(ckt, opt)
	if err != nil {
		return err
	}
	pw := probe.New(w, targets)
	if err := pw.WriteHeader(); err != nil {
		return fmt.Errorf("interactive: writing CSV header: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	keys := readKeys(ctx, cancel, logger)

	fmt.Fprintln(os.Stderr, interactiveBanner)

	steps := int(stop/dt + 0.5)
	for n := 0; n <= steps; n++ {
		select {
		case ev, ok := <-keys:
			if ok {
				applyKey(ckt.Registry, ev, logger)
			}
		default:
		}
		if ctx.Err() != nil {
			logger.Info("interactive: stopped by user")
			return nil
		}

		t := float64(n) * dt
		sampleDt := dt
		if n == 0 {
			sampleDt = 0
		}
		if _, err := drv.Step(ctx, t, sampleDt, nil); err != nil {
			return err
		}
		if err := pw.WriteSample(t); err != nil {
			return fmt.Errorf("interactive: writing sample at t=%g: %w", t, err)
		}
	}
	return nil
}
