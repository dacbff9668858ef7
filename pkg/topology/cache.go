// Package topology discovers which chip sits on which switch channel.
//
// A Cache owns the channel table of one switch. The table is filled by a
// single scan the first time it is needed and then kept for the lifetime
// of the Cache; it is never invalidated or persisted.
package topology

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/stboot"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

// OpenFunc opens the serial port at path.
type OpenFunc func(path string) (stboot.SerialPort, error)

// ProbeFunc identifies the target behind port. stboot.Identify is the
// default.
type ProbeFunc func(port stboot.Port, cfg stboot.Config) (uint16, error)

// Config configures a Cache.
type Config struct {
	Controller usbswitch.Controller
	Open       OpenFunc

	// Probe defaults to stboot.Identify.
	Probe ProbeFunc

	// Timing is used as given; a zero Settle disables the settle waits.
	// Start from stboot.DefaultTiming on real hardware.
	Timing stboot.Timing

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Entry is one discovered channel.
type Entry struct {
	Channel usbswitch.Channel
	ChipID  uint16
}

// ChipNotFoundError is returned by Lookup when no channel holds the chip.
type ChipNotFoundError struct {
	ID       uint16
	Channels int
}

func (e *ChipNotFoundError) Error() string {
	return fmt.Sprintf("chip 0x%03X not found on %d scanned channels", e.ID, e.Channels)
}

// Cache is the populate-once channel table.
type Cache struct {
	ctrl    usbswitch.Controller
	open    OpenFunc
	probe   ProbeFunc
	timing  stboot.Timing
	bootCfg stboot.Config

	mu        sync.Mutex
	populated bool
	ids       []uint16 // indexed by channel
	scans     int

	log logging.LeveledLogger
}

// New creates an empty Cache. No hardware is touched until the table is
// first needed.
func New(cfg Config) (*Cache, error) {
	if cfg.Controller == nil {
		return nil, errors.New("topology: controller is required")
	}
	if cfg.Open == nil {
		return nil, errors.New("topology: port opener is required")
	}
	if cfg.Probe == nil {
		cfg.Probe = stboot.Identify
	}

	c := &Cache{
		ctrl:   cfg.Controller,
		open:   cfg.Open,
		probe:  cfg.Probe,
		timing: cfg.Timing,
	}
	c.bootCfg = stboot.Config{
		Timing:        cfg.Timing,
		LoggerFactory: cfg.LoggerFactory,
	}
	if cfg.LoggerFactory != nil {
		c.log = cfg.LoggerFactory.NewLogger("topology")
	}
	return c, nil
}

// Ensure scans the switch unless the table is already populated. The lock
// is held for the whole scan, so concurrent callers wait for the first one
// and never scan again. A scan that fails leaves the table empty and the
// next call starts over.
func (c *Cache) Ensure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked()
}

// Entries returns the discovered channels in order.
func (c *Cache) Entries() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return nil, err
	}
	entries := make([]Entry, len(c.ids))
	for i, id := range c.ids {
		entries[i] = Entry{Channel: usbswitch.Channel(i), ChipID: id}
	}
	return entries, nil
}

// Lookup returns the first channel holding chip id. The unknown id never
// matches.
func (c *Cache) Lookup(id uint16) (usbswitch.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return 0, err
	}
	if id != chipid.Unknown {
		for ch, got := range c.ids {
			if got == id {
				return usbswitch.Channel(ch), nil
			}
		}
	}
	return 0, &ChipNotFoundError{ID: id, Channels: len(c.ids)}
}

// Scans returns the number of scans started.
func (c *Cache) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

// Populated reports whether a scan has completed.
func (c *Cache) Populated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.populated
}

// ProbeChannel boots ch into its bootloader, identifies it and powers it
// down again. Unlike a scan it reports probe failures and leaves the table
// untouched. It holds only the cache lock; callers sharing the switch with
// an Orchestrator go through Orchestrator.ProbeChannel.
func (c *Cache) ProbeChannel(ch usbswitch.Channel) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterBootloader(ch); err != nil {
		return 0, err
	}
	id, probeErr := c.identify(ch)
	if err := c.ctrl.Select(usbswitch.Selection{Channel: ch}.PoweredDown()); err != nil {
		return 0, errors.Join(probeErr, fmt.Errorf("power down: %w", err))
	}
	return id, probeErr
}

func (c *Cache) ensureLocked() error {
	if c.populated {
		return nil
	}
	c.scans++
	ids, err := c.scan()
	if err != nil {
		return fmt.Errorf("topology scan: %w", err)
	}
	c.ids = ids
	c.populated = true
	return nil
}
