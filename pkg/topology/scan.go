package topology

import (
	"errors"
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

// scan walks the channels from 0 until the switch rejects one.
func (c *Cache) scan() ([]uint16, error) {
	start := time.Now()
	var ids []uint16
	for n := 0; n < usbswitch.MaxChannels; n++ {
		ch := usbswitch.Channel(n)
		id, err := c.scanChannel(ch)
		if errors.Is(err, usbswitch.ErrChannelRejected) {
			c.debugf("channel %d rejected, %d channels wired", n, n)
			break
		}
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", n, err)
		}
		c.infof("channel %d: %s", n, chipid.Lookup(id))
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		last := usbswitch.Selection{Channel: usbswitch.Channel(len(ids) - 1)}.PoweredDown()
		if err := c.ctrl.Select(last); err != nil {
			return nil, fmt.Errorf("power down: %w", err)
		}
	}
	c.debugf("scan finished in %v", time.Since(start))
	return ids, nil
}

// scanChannel power cycles ch into its bootloader and identifies it. A
// rejected selection or a switch failure is returned; probe failures are
// recorded as the unknown id.
func (c *Cache) scanChannel(ch usbswitch.Channel) (uint16, error) {
	if err := c.enterBootloader(ch); err != nil {
		return 0, err
	}
	id, err := c.identify(ch)
	if err != nil {
		c.warnf("channel %d: %v", ch, err)
		return chipid.Unknown, nil
	}
	return id, nil
}

// enterBootloader powers ch down, selects it, powers it up and releases
// reset with boot0 asserted.
func (c *Cache) enterBootloader(ch usbswitch.Channel) error {
	cur, err := c.ctrl.Selection()
	if err != nil {
		return fmt.Errorf("get selection: %w", err)
	}
	if err := c.ctrl.Select(cur.PoweredDown()); err != nil {
		return stepError("power down", err)
	}
	c.settle()

	// Only the bare channel select may report the end of the wired channels.
	off := usbswitch.Selection{Channel: ch}.PoweredDown()
	if err := c.ctrl.Select(off); err != nil {
		return err
	}

	on := off
	on.Power = true
	if err := c.ctrl.Select(on); err != nil {
		return stepError("power on", err)
	}
	got, err := c.ctrl.Selection()
	if err != nil {
		return fmt.Errorf("get selection: %w", err)
	}
	if got.Channel != ch || !got.Power {
		return fmt.Errorf("power on not applied: switch reports %s", got)
	}

	boot := on
	boot.Boot0 = true
	if err := c.ctrl.Select(boot); err != nil {
		return stepError("assert boot0", err)
	}
	boot.Reset = false
	if err := c.ctrl.Select(boot); err != nil {
		return stepError("release reset", err)
	}
	c.settle()
	return nil
}

// stepError wraps a failed bring-up selection. A rejection at this point is a
// switch failure on a wired channel, so the sentinel is not propagated.
func stepError(step string, err error) error {
	if errors.Is(err, usbswitch.ErrChannelRejected) {
		return fmt.Errorf("%s: switch refused selection: %v", step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (c *Cache) identify(ch usbswitch.Channel) (uint16, error) {
	path, err := c.ctrl.SerialPath(ch)
	if err != nil {
		return 0, err
	}
	port, err := c.open(path)
	if err != nil {
		return 0, err
	}
	defer port.Close()
	return c.probe(port, c.bootCfg)
}

func (c *Cache) settle() {
	if c.timing.Settle > 0 {
		time.Sleep(c.timing.Settle)
	}
}

func (c *Cache) debugf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Debugf(format, args...)
	}
}

func (c *Cache) infof(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Infof(format, args...)
	}
}

func (c *Cache) warnf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Warnf(format, args...)
	}
}
