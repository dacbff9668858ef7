// Package harness sequences the switch, the topology cache and the external
// tools into test runs: pick a chip, flash it, boot it with USB attached,
// run the conformance suite and power it down.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/stboot"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/topology"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

// Config configures an Orchestrator.
type Config struct {
	Controller usbswitch.Controller
	Topology   *topology.Cache

	// Runner defaults to ExecRunner.
	Runner Runner

	Flash       Command
	Conformance Command

	// Timing is used as given; a zero Settle disables the settle waits.
	Timing stboot.Timing

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Orchestrator owns the switch for the duration of each call.
type Orchestrator struct {
	mu sync.Mutex

	ctrl   usbswitch.Controller
	topo   *topology.Cache
	runner Runner
	flash  Command
	suite  Command
	settle time.Duration

	log logging.LeveledLogger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Controller == nil {
		return nil, errors.New("harness: controller is required")
	}
	if cfg.Topology == nil {
		return nil, errors.New("harness: topology cache is required")
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}

	o := &Orchestrator{
		ctrl:   cfg.Controller,
		topo:   cfg.Topology,
		runner: cfg.Runner,
		flash:  cfg.Flash,
		suite:  cfg.Conformance,
		settle: cfg.Timing.Settle,
	}
	if cfg.LoggerFactory != nil {
		o.log = cfg.LoggerFactory.NewLogger("harness")
	}
	return o, nil
}

// SelectChip finds the channel holding chip id, scanning the switch on
// first use, and selects it powered down. The caller controls bring-up.
func (o *Orchestrator) SelectChip(id uint16) (usbswitch.Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selectChip(id)
}

// FlashFirmware boots the selected channel into its bootloader and runs the
// flash command for example with the given cargo-style features.
func (o *Orchestrator) FlashFirmware(ctx context.Context, example string, features []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flashFirmware(ctx, example, features)
}

// RunAndConnect power cycles the selected channel into its application and
// attaches its USB port to the host.
func (o *Orchestrator) RunAndConnect() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runAndConnect()
}

// Shutdown powers the selected channel down and disconnects it.
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shutdown()
}

// RunDeviceTests runs the conformance suite against the connected target.
func (o *Orchestrator) RunDeviceTests(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runDeviceTests(ctx)
}

// ProbeChannel identifies the chip on ch without touching the topology
// table. It shares the switch lock with the other operations.
func (o *Orchestrator) ProbeChannel(ch usbswitch.Channel) (uint16, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.topo.ProbeChannel(ch)
}

// RunSuite runs a complete test: select, flash, run and connect, device
// tests. The channel is shut down afterwards even when a step fails.
func (o *Orchestrator) RunSuite(ctx context.Context, id uint16, example string, features []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.selectChip(id); err != nil {
		return err
	}

	err := o.flashFirmware(ctx, example, features)
	if err == nil {
		err = o.runAndConnect()
	}
	if err == nil {
		err = o.runDeviceTests(ctx)
	}
	if serr := o.shutdown(); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

func (o *Orchestrator) selectChip(id uint16) (usbswitch.Channel, error) {
	ch, err := o.topo.Lookup(id)
	if err != nil {
		return 0, err
	}
	if err := o.ctrl.Select(usbswitch.Selection{Channel: ch}.PoweredDown()); err != nil {
		return 0, fmt.Errorf("select channel %d: %w", ch, err)
	}
	o.infof("selected %s on channel %d", chipid.Lookup(id), ch)
	return ch, nil
}

func (o *Orchestrator) flashFirmware(ctx context.Context, example string, features []string) error {
	sel, err := o.ctrl.Selection()
	if err != nil {
		return fmt.Errorf("get selection: %w", err)
	}
	sel.Power = true
	sel.Boot0 = true
	sel.Reset = false
	if err := o.apply("enter bootloader", sel); err != nil {
		return err
	}

	port, err := o.ctrl.SerialPath(sel.Channel)
	if err != nil {
		return fmt.Errorf("serial path: %w", err)
	}
	argv := o.flash.Expand(map[string]string{
		"example":  example,
		"features": strings.Join(features, ","),
		"port":     port,
	})
	o.infof("flashing %s: %s", example, strings.Join(argv, " "))
	if err := o.runner.Run(ctx, o.flash.Dir, argv); err != nil {
		return fmt.Errorf("flash %s: %w", example, err)
	}
	return nil
}

func (o *Orchestrator) runAndConnect() error {
	sel, err := o.ctrl.Selection()
	if err != nil {
		return fmt.Errorf("get selection: %w", err)
	}

	sel = sel.PoweredDown()
	if err := o.apply("power off", sel); err != nil {
		return err
	}
	sel.Power = true
	if err := o.apply("power on", sel); err != nil {
		return err
	}
	sel.Reset = false
	if err := o.apply("release reset", sel); err != nil {
		return err
	}
	sel.USB = true
	return o.apply("connect usb", sel)
}

func (o *Orchestrator) shutdown() error {
	sel, err := o.ctrl.Selection()
	if err != nil {
		return fmt.Errorf("get selection: %w", err)
	}
	if err := o.ctrl.Select(sel.PoweredDown()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	o.debugf("channel %d powered down", sel.Channel)
	return nil
}

func (o *Orchestrator) runDeviceTests(ctx context.Context) error {
	sel, err := o.ctrl.Selection()
	if err != nil {
		return fmt.Errorf("get selection: %w", err)
	}
	port, err := o.ctrl.SerialPath(sel.Channel)
	if err != nil {
		return fmt.Errorf("serial path: %w", err)
	}
	argv := o.suite.Expand(map[string]string{"port": port})
	o.infof("running device tests: %s", strings.Join(argv, " "))
	if err := o.runner.Run(ctx, o.suite.Dir, argv); err != nil {
		return fmt.Errorf("device tests: %w", err)
	}
	return nil
}

// apply selects sel and waits for the hardware to settle.
func (o *Orchestrator) apply(step string, sel usbswitch.Selection) error {
	if err := o.ctrl.Select(sel); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	o.debugf("%s: %s", step, sel)
	if o.settle > 0 {
		time.Sleep(o.settle)
	}
	return nil
}

func (o *Orchestrator) debugf(format string, args ...interface{}) {
	if o.log != nil {
		o.log.Debugf(format, args...)
	}
}

func (o *Orchestrator) infof(format string, args ...interface{}) {
	if o.log != nil {
		o.log.Infof(format, args...)
	}
}
