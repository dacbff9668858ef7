package usbswitch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/pion/logging"
)

const (
	// Default USB identifiers of the switch (pid.codes test range).
	DefaultVendorID  = 0x1209
	DefaultProductID = 0x0001

	DefaultControlTimeout = 1 * time.Second

	reqGetSelection = 0x01
	reqSelect       = 0x02
)

// USBConfig configures OpenUSB.
type USBConfig struct {
	VendorID  uint16
	ProductID uint16

	// SerialNumber selects one switch when several are attached.
	SerialNumber string

	// SerialPort overrides the enumerated UART path of the switch.
	SerialPort string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// USBSwitch is a Controller backed by a switch attached over USB.
type USBSwitch struct {
	ctx *gousb.Context
	dev *gousb.Device

	vid    uint16
	pid    uint16
	serial string

	mu       sync.Mutex
	portPath string

	log logging.LeveledLogger
}

// OpenUSB finds and opens the switch described by cfg.
func OpenUSB(cfg USBConfig) (*USBSwitch, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = DefaultVendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = DefaultProductID
	}

	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == cfg.VendorID && uint16(desc.Product) == cfg.ProductID
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}

	var dev *gousb.Device
	var serial string
	for _, d := range devs {
		if dev != nil {
			d.Close()
			continue
		}
		sn, _ := d.SerialNumber()
		if cfg.SerialNumber != "" && sn != cfg.SerialNumber {
			d.Close()
			continue
		}
		dev, serial = d, sn
	}
	if dev == nil {
		ctx.Close()
		if cfg.SerialNumber != "" {
			return nil, fmt.Errorf("switch with serial %s not found (VID:0x%04X PID:0x%04X)",
				cfg.SerialNumber, cfg.VendorID, cfg.ProductID)
		}
		return nil, fmt.Errorf("switch not found (VID:0x%04X PID:0x%04X)", cfg.VendorID, cfg.ProductID)
	}

	s := &USBSwitch{
		ctx:      ctx,
		dev:      dev,
		vid:      cfg.VendorID,
		pid:      cfg.ProductID,
		serial:   serial,
		portPath: cfg.SerialPort,
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("usbswitch")
	}

	// Control requests go to the default endpoint; detaching only matters on
	// platforms where a kernel driver has claimed the CDC interface.
	if err := dev.SetAutoDetach(true); err != nil && s.log != nil {
		s.log.Warnf("auto-detach not available: %v", err)
	}
	dev.ControlTimeout = DefaultControlTimeout

	if s.log != nil {
		s.log.Debugf("opened switch %04X:%04X serial %q", s.vid, s.pid, serial)
	}
	return s, nil
}

// SerialNumber returns the USB serial number of the switch.
func (s *USBSwitch) SerialNumber() string {
	return s.serial
}

// Selection reads the current selection from the device.
func (s *USBSwitch) Selection() (Selection, error) {
	buf := make([]byte, 2)
	n, err := s.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		reqGetSelection,
		0,
		0,
		buf,
	)
	if err != nil {
		return Selection{}, fmt.Errorf("get selection: %w", err)
	}
	return DecodeSelection(buf[:n])
}

// Select applies sel in one control request.
func (s *USBSwitch) Select(sel Selection) error {
	_, err := s.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		reqSelect,
		sel.Encode(),
		0,
		nil,
	)
	if errors.Is(err, gousb.ErrorPipe) {
		return fmt.Errorf("select %s: %w", sel, ErrChannelRejected)
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", sel, err)
	}
	if s.log != nil {
		s.log.Tracef("selected %s", sel)
	}
	return nil
}

// SerialPath returns the UART the switch routes the selected target to.
// All channels share it.
func (s *USBSwitch) SerialPath(_ Channel) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.portPath != "" {
		return s.portPath, nil
	}
	path, err := FindSerialPort(s.vid, s.pid, s.serial)
	if err != nil {
		return "", err
	}
	s.portPath = path
	return path, nil
}

// Close releases USB resources.
func (s *USBSwitch) Close() error {
	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
	if s.ctx != nil {
		s.ctx.Close()
		s.ctx = nil
	}
	return nil
}
