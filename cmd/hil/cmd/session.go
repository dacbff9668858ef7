package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/pion/logging"

	"github.com/OpenTraceLab/OpenTraceHIL/internal/config"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/harness"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/stboot"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/topology"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

// session is one process's hold on the switch.
type session struct {
	cfg  *config.Config
	ctrl usbswitch.Controller
	topo *topology.Cache
	orch *harness.Orchestrator

	close func() error
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if switchDriver != "" {
		cfg.Switch.Driver = switchDriver
	}
	if len(simChips) > 0 {
		cfg.Switch.Driver = config.DriverSim
		cfg.Sim.Chips = simChips
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLoggerFactory returns the factory shared by all components. Logs go to
// stderr so command output stays parseable.
func newLoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stderr
	if verbose {
		f.DefaultLogLevel = logging.LogLevelDebug
	}
	return f
}

// openSession opens the configured switch and wires the topology cache and
// orchestrator on top of it.
func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	lf := newLoggerFactory()

	s := &session{cfg: cfg, close: func() error { return nil }}
	var open topology.OpenFunc

	switch cfg.Switch.Driver {
	case config.DriverSim:
		ids, err := cfg.SimChipIDs()
		if err != nil {
			return nil, err
		}
		if verbose {
			fmt.Printf("Using simulated switch with %d channel(s)\n", len(ids))
		}
		sim := usbswitch.NewSimSwitchWithIDs(ids...)
		s.ctrl = sim
		open = sim.Open

	case config.DriverUSB:
		usbCfg := cfg.USBConfig()
		usbCfg.LoggerFactory = lf
		sw, err := usbswitch.OpenUSB(usbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open switch: %w", err)
		}
		if verbose {
			fmt.Printf("Connected to switch %04X:%04X (serial %q)\n",
				usbCfg.VendorID, usbCfg.ProductID, sw.SerialNumber())
		}
		s.ctrl = sw
		s.close = sw.Close
		baud := cfg.Switch.Baud
		open = func(path string) (stboot.SerialPort, error) {
			return stboot.OpenSerial(path, baud)
		}

	default:
		return nil, fmt.Errorf("unknown switch driver: %s", cfg.Switch.Driver)
	}

	timing := cfg.StbootTiming()
	s.topo, err = topology.New(topology.Config{
		Controller:    s.ctrl,
		Open:          open,
		Timing:        timing,
		LoggerFactory: lf,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.orch, err = harness.New(harness.Config{
		Controller:    s.ctrl,
		Topology:      s.topo,
		Flash:         cfg.FlashCommand(),
		Conformance:   cfg.ConformanceCommand(),
		Timing:        timing,
		LoggerFactory: lf,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// withSession runs fn with an open session and closes it afterwards.
func withSession(fn func(s *session) error) (err error) {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.close())
	}()
	return fn(s)
}

// parseChipID accepts a hex id or a part name.
func parseChipID(arg string) (uint16, error) {
	id, err := chipid.Parse(arg)
	if err != nil {
		return 0, fmt.Errorf("%w (expected hex like 0x410 or a part name)", err)
	}
	return id, nil
}
