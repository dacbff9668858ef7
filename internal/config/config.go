// Package config loads the harness configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/harness"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/stboot"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

// Switch drivers.
const (
	DriverUSB = "usb"
	DriverSim = "sim"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "hil.yaml"

// Config is the harness configuration.
type Config struct {
	Switch      SwitchConfig `yaml:"switch"`
	Sim         SimConfig    `yaml:"sim"`
	Timing      TimingConfig `yaml:"timing"`
	Firmware    ToolConfig   `yaml:"firmware"`
	Conformance ToolConfig   `yaml:"conformance"`
}

// SwitchConfig selects and locates the switch.
type SwitchConfig struct {
	Driver       string `yaml:"driver"`
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	SerialNumber string `yaml:"serial_number,omitempty"`
	SerialPort   string `yaml:"serial_port,omitempty"` // overrides enumeration
	Baud         int    `yaml:"baud"`
}

// SimConfig describes the simulated switch. Each entry is the chip on one
// channel, as a hex id or part name; "0" leaves the channel empty.
type SimConfig struct {
	Chips []string `yaml:"chips"`
}

// TimingConfig holds the hardware timing.
type TimingConfig struct {
	Drain    time.Duration `yaml:"drain"`
	Sync     time.Duration `yaml:"sync"`
	Response time.Duration `yaml:"response"`
	Settle   time.Duration `yaml:"settle"`
}

// ToolConfig is an external tool invocation. See harness.Command for the
// placeholders allowed in Command.
type ToolConfig struct {
	Dir     string   `yaml:"dir"`
	Command []string `yaml:"command"`
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	t := stboot.DefaultTiming()
	return &Config{
		Switch: SwitchConfig{
			Driver:    DriverUSB,
			VendorID:  usbswitch.DefaultVendorID,
			ProductID: usbswitch.DefaultProductID,
			Baud:      stboot.DefaultBaudRate,
		},
		Sim: SimConfig{
			Chips: []string{"0x410", "0x412"},
		},
		Timing: TimingConfig{
			Drain:    t.Drain,
			Sync:     t.Sync,
			Response: t.Response,
			Settle:   t.Settle,
		},
		Firmware: ToolConfig{
			Dir:     "firmware",
			Command: []string{"cargo", "run", "--release", "--example", "{example}", "--features", "{features}"},
		},
		Conformance: ToolConfig{
			Dir:     "../usb-device",
			Command: []string{"cargo", "test", "--test", "test_class_host", "--", "--test-threads", "1"},
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the harness cannot use.
func (c *Config) Validate() error {
	var errs []error

	switch c.Switch.Driver {
	case DriverUSB, DriverSim:
	default:
		errs = append(errs, fmt.Errorf("switch.driver: unknown driver %q (supported: %s, %s)",
			c.Switch.Driver, DriverUSB, DriverSim))
	}
	if c.Switch.Baud < 0 {
		errs = append(errs, fmt.Errorf("switch.baud: must not be negative"))
	}
	if _, err := c.SimChipIDs(); err != nil {
		errs = append(errs, fmt.Errorf("sim.chips: %w", err))
	}
	if len(c.Sim.Chips) > usbswitch.MaxChannels {
		errs = append(errs, fmt.Errorf("sim.chips: at most %d channels", usbswitch.MaxChannels))
	}

	for _, d := range []struct {
		name     string
		v        time.Duration
		positive bool
	}{
		{"timing.drain", c.Timing.Drain, true},
		{"timing.sync", c.Timing.Sync, true},
		{"timing.response", c.Timing.Response, true},
		{"timing.settle", c.Timing.Settle, false},
	} {
		if d.v < 0 || (d.positive && d.v == 0) {
			errs = append(errs, fmt.Errorf("%s: invalid duration %v", d.name, d.v))
		}
	}

	if len(c.Firmware.Command) == 0 {
		errs = append(errs, errors.New("firmware.command: must not be empty"))
	}
	if len(c.Conformance.Command) == 0 {
		errs = append(errs, errors.New("conformance.command: must not be empty"))
	}
	return errors.Join(errs...)
}

// SimChipIDs parses the simulated channel list.
func (c *Config) SimChipIDs() ([]uint16, error) {
	ids := make([]uint16, len(c.Sim.Chips))
	for i, s := range c.Sim.Chips {
		id, err := chipid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// StbootTiming converts the timing section.
func (c *Config) StbootTiming() stboot.Timing {
	return stboot.Timing{
		Drain:    c.Timing.Drain,
		Sync:     c.Timing.Sync,
		Response: c.Timing.Response,
		Settle:   c.Timing.Settle,
	}
}

// FlashCommand returns the build-and-flash invocation.
func (c *Config) FlashCommand() harness.Command {
	return harness.Command{Dir: c.Firmware.Dir, Args: c.Firmware.Command}
}

// ConformanceCommand returns the conformance suite invocation.
func (c *Config) ConformanceCommand() harness.Command {
	return harness.Command{Dir: c.Conformance.Dir, Args: c.Conformance.Command}
}

// USBConfig returns the switch options for usbswitch.OpenUSB.
func (c *Config) USBConfig() usbswitch.USBConfig {
	return usbswitch.USBConfig{
		VendorID:     c.Switch.VendorID,
		ProductID:    c.Switch.ProductID,
		SerialNumber: c.Switch.SerialNumber,
		SerialPort:   c.Switch.SerialPort,
	}
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
