package usbswitch

import (
	"errors"
	"fmt"
	"strings"
)

// Channel names one physical slot of the switch.
type Channel uint8

// MaxChannels is the number of addressable channels.
const MaxChannels = 256

// Selection flag bits as carried on the wire.
const (
	FlagPower = 1 << 0
	FlagUSB   = 1 << 1
	FlagReset = 1 << 2
	FlagBoot0 = 1 << 3

	flagMask = FlagPower | FlagUSB | FlagReset | FlagBoot0
)

// Selection is the full addressable state of the switch. Reset and Boot0
// are true when the line is asserted.
type Selection struct {
	Channel Channel
	Power   bool
	USB     bool
	Reset   bool
	Boot0   bool
}

// ErrChannelRejected is returned by Select when the channel is out of range
// or not wired.
var ErrChannelRejected = errors.New("usbswitch: channel rejected")

// Controller is the switch device as seen by the harness. Select applies a
// whole Selection per call; there is no guarantee about the order in which
// the individual lines change within one call.
type Controller interface {
	Selection() (Selection, error)
	Select(sel Selection) error
	SerialPath(ch Channel) (string, error)
}

// PoweredDown returns sel with the target held in reset, Boot0 released and
// both power and USB pass-through off. The channel is unchanged.
func (s Selection) PoweredDown() Selection {
	s.Reset = true
	s.Boot0 = false
	s.Power = false
	s.USB = false
	return s
}

// Flags returns the wire flag byte.
func (s Selection) Flags() byte {
	var f byte
	if s.Power {
		f |= FlagPower
	}
	if s.USB {
		f |= FlagUSB
	}
	if s.Reset {
		f |= FlagReset
	}
	if s.Boot0 {
		f |= FlagBoot0
	}
	return f
}

// Encode packs the selection into a control request value: the channel in
// the low byte and the flags in the high byte.
func (s Selection) Encode() uint16 {
	return uint16(s.Flags())<<8 | uint16(s.Channel)
}

// DecodeSelection parses a two-byte [channel, flags] selection report.
func DecodeSelection(data []byte) (Selection, error) {
	if len(data) != 2 {
		return Selection{}, fmt.Errorf("usbswitch: selection report must be 2 bytes, got %d", len(data))
	}
	flags := data[1]
	if flags&^flagMask != 0 {
		return Selection{}, fmt.Errorf("usbswitch: unknown selection flags 0x%02X", flags&^flagMask)
	}
	return Selection{
		Channel: Channel(data[0]),
		Power:   flags&FlagPower != 0,
		USB:     flags&FlagUSB != 0,
		Reset:   flags&FlagReset != 0,
		Boot0:   flags&FlagBoot0 != 0,
	}, nil
}

func (s Selection) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ch%d", s.Channel)
	for _, f := range []struct {
		on   bool
		name string
	}{
		{s.Power, "power"},
		{s.USB, "usb"},
		{s.Reset, "reset"},
		{s.Boot0, "boot0"},
	} {
		if f.on {
			b.WriteString(" +")
		} else {
			b.WriteString(" -")
		}
		b.WriteString(f.name)
	}
	return b.String()
}
