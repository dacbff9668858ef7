package usbswitch

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/stboot"
)

const simPathPrefix = "sim:"

// SimSwitch is an in-memory Controller. Each channel holds an optional
// simulated target; a nil target models an empty or unresponsive slot.
// Channels at or beyond len(targets) are rejected.
//
// Power, reset and boot0 are mapped onto the selected target: releasing
// reset on a powered channel boots it, into its bootloader when boot0 is
// asserted and into the application otherwise. Only the selected channel
// is powered.
type SimSwitch struct {
	mu       sync.Mutex
	targets  []*stboot.SimTarget
	sel      Selection
	history  []Selection
	rejected int
	opens    map[Channel]int

	// Hooks
	OnSelect func(sel Selection) error
}

// NewSimSwitch returns a switch with one channel per target.
func NewSimSwitch(targets ...*stboot.SimTarget) *SimSwitch {
	return &SimSwitch{
		targets: targets,
		sel:     Selection{}.PoweredDown(),
		opens:   make(map[Channel]int),
	}
}

// NewSimSwitchWithIDs returns a switch whose channels hold targets with the
// given chip ids. An id of 0 leaves the channel empty.
func NewSimSwitchWithIDs(ids ...uint16) *SimSwitch {
	targets := make([]*stboot.SimTarget, len(ids))
	for i, id := range ids {
		if id != 0 {
			targets[i] = stboot.NewSimTarget(id)
		}
	}
	return NewSimSwitch(targets...)
}

// Target returns the simulated target on ch, or nil.
func (s *SimSwitch) Target(ch Channel) *stboot.SimTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(ch) >= len(s.targets) {
		return nil
	}
	return s.targets[ch]
}

// Selection implements Controller.
func (s *SimSwitch) Selection() (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel, nil
}

// Select implements Controller.
func (s *SimSwitch) Select(sel Selection) error {
	if s.OnSelect != nil {
		if err := s.OnSelect(sel); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if int(sel.Channel) >= len(s.targets) {
		s.rejected++
		return fmt.Errorf("select %s: %w", sel, ErrChannelRejected)
	}

	prev := s.sel
	if prev.Channel != sel.Channel {
		if t := s.targetLocked(prev.Channel); t != nil {
			t.Halt()
		}
		prev = prev.PoweredDown()
	}

	if t := s.targets[sel.Channel]; t != nil {
		wasRunning := prev.Power && !prev.Reset
		switch {
		case !sel.Power || sel.Reset:
			t.Halt()
		case !wasRunning:
			t.Boot(sel.Boot0)
		}
	}

	s.sel = sel
	s.history = append(s.history, sel)
	return nil
}

// SerialPath implements Controller.
func (s *SimSwitch) SerialPath(ch Channel) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(ch) >= len(s.targets) {
		return "", fmt.Errorf("channel %d: %w", ch, ErrChannelRejected)
	}
	return simPathPrefix + strconv.Itoa(int(ch)), nil
}

// Open returns the serial port behind a path reported by SerialPath. The
// UART is only routed while its channel is selected; an empty slot opens
// as a silent line.
func (s *SimSwitch) Open(path string) (stboot.SerialPort, error) {
	if !strings.HasPrefix(path, simPathPrefix) {
		return nil, fmt.Errorf("not a simulated port: %q", path)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(path, simPathPrefix))
	if err != nil || n < 0 || n >= MaxChannels {
		return nil, fmt.Errorf("not a simulated port: %q", path)
	}
	ch := Channel(n)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sel.Channel != ch {
		return nil, fmt.Errorf("open %s: channel %d is not selected", path, ch)
	}
	s.opens[ch]++
	if t := s.targetLocked(ch); t != nil {
		return t, nil
	}
	return silentPort{}, nil
}

// Opens returns how many times the serial port of ch was opened.
func (s *SimSwitch) Opens(ch Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[ch]
}

// TotalOpens returns the number of serial port opens across all channels.
func (s *SimSwitch) TotalOpens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.opens {
		total += n
	}
	return total
}

// History returns every accepted selection in order.
func (s *SimSwitch) History() []Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Selection(nil), s.history...)
}

// Rejected returns the number of rejected Select calls.
func (s *SimSwitch) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

func (s *SimSwitch) targetLocked(ch Channel) *stboot.SimTarget {
	if int(ch) >= len(s.targets) {
		return nil
	}
	return s.targets[ch]
}

// silentPort is a UART with nothing attached.
type silentPort struct{}

func (silentPort) Read(p []byte) (int, error) { return 0, nil }
func (silentPort) Write(p []byte) (int, error) { return len(p), nil }
func (silentPort) SetReadTimeout(time.Duration) error { return nil }
func (silentPort) ResetInputBuffer() error { return nil }
func (silentPort) Close() error { return nil }
