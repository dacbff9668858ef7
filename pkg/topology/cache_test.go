package topology

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/stboot"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

func newSimCache(t *testing.T, ids ...uint16) (*Cache, *usbswitch.SimSwitch) {
	t.Helper()
	sw := usbswitch.NewSimSwitchWithIDs(ids...)
	c, err := New(Config{Controller: sw, Open: sw.Open})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, sw
}

func TestNewRequiresCollaborators(t *testing.T) {
	sw := usbswitch.NewSimSwitchWithIDs(0x410)
	if _, err := New(Config{Open: sw.Open}); err == nil {
		t.Error("New() without controller succeeded")
	}
	if _, err := New(Config{Controller: sw}); err == nil {
		t.Error("New() without opener succeeded")
	}
}

func TestNewDoesNotTouchHardware(t *testing.T) {
	c, sw := newSimCache(t, 0x410)
	if c.Populated() || c.Scans() != 0 {
		t.Fatal("cache populated before first use")
	}
	if len(sw.History()) != 0 {
		t.Errorf("New() issued %d selections", len(sw.History()))
	}
}

func TestDeterministicDiscovery(t *testing.T) {
	c, sw := newSimCache(t, 0x410, 0x412, 0x413)

	entries, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	want := []Entry{
		{Channel: 0, ChipID: 0x410},
		{Channel: 1, ChipID: 0x412},
		{Channel: 2, ChipID: 0x413},
	}
	if len(entries) != len(want) {
		t.Fatalf("Entries() = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}

	for ch := usbswitch.Channel(0); ch < 3; ch++ {
		if n := sw.Opens(ch); n != 1 {
			t.Errorf("channel %d opened %d times, want 1", ch, n)
		}
	}
	if sw.Opens(3) != 0 {
		t.Error("rejected channel was probed")
	}
	if sw.Rejected() != 1 {
		t.Errorf("Rejected() = %d, want 1", sw.Rejected())
	}
	for _, sel := range sw.History() {
		if sel.Channel >= 3 {
			t.Errorf("selection %v beyond the wired channels", sel)
		}
	}
}

func TestScanSelectionSequence(t *testing.T) {
	c, sw := newSimCache(t, 0x410)
	if err := c.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	off := usbswitch.Selection{Reset: true}
	want := []usbswitch.Selection{
		off,
		off,
		{Power: true, Reset: true},
		{Power: true, Reset: true, Boot0: true},
		{Power: true, Boot0: true},
		// channel 1: power down channel 0, then rejected
		off,
		// scan finished: last channel powered down
		off,
	}
	got := sw.History()
	if len(got) != len(want) {
		t.Fatalf("History() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("selection %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUnknownIDFallback(t *testing.T) {
	sw := usbswitch.NewSimSwitchWithIDs(0x410, 0x412, 0x413)
	calls := 0
	c, err := New(Config{
		Controller: sw,
		Open:       sw.Open,
		Probe: func(port stboot.Port, cfg stboot.Config) (uint16, error) {
			calls++
			if calls == 2 {
				return 0, stboot.ErrTimeout
			}
			return stboot.Identify(port, cfg)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entries, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	ids := make([]uint16, len(entries))
	for i, e := range entries {
		ids[i] = e.ChipID
	}
	if len(ids) != 3 || ids[0] != 0x410 || ids[1] != 0 || ids[2] != 0x413 {
		t.Errorf("ids = %X, want [410 0 413]", ids)
	}
}

func TestEmptySlotRecordedAsUnknown(t *testing.T) {
	c, _ := newSimCache(t, 0x410, 0, 0x412)

	entries, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 || entries[1].ChipID != 0 {
		t.Fatalf("Entries() = %v, want unknown id on channel 1", entries)
	}
	ch, err := c.Lookup(0x412)
	if err != nil || ch != 2 {
		t.Errorf("Lookup(0x412) = %d, %v; want 2", ch, err)
	}
}

func TestOpenFailureRecordedAsUnknown(t *testing.T) {
	sw := usbswitch.NewSimSwitchWithIDs(0x410, 0x412)
	c, err := New(Config{
		Controller: sw,
		Open: func(path string) (stboot.SerialPort, error) {
			if path == "sim:0" {
				return nil, errors.New("device busy")
			}
			return sw.Open(path)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entries, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ChipID != 0 || entries[1].ChipID != 0x412 {
		t.Errorf("Entries() = %v", entries)
	}
}

func TestLookupEndToEnd(t *testing.T) {
	c, sw := newSimCache(t, 0x410, 0x412)

	ch, err := c.Lookup(0x412)
	if err != nil {
		t.Fatalf("Lookup(0x412) error = %v", err)
	}
	if ch != 1 {
		t.Errorf("Lookup(0x412) = %d, want 1", ch)
	}

	_, err = c.Lookup(0x999)
	var nf *ChipNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Lookup(0x999) error = %v, want ChipNotFoundError", err)
	}
	if nf.ID != 0x999 || nf.Channels != 2 {
		t.Errorf("ChipNotFoundError = %+v", nf)
	}
	if c.Scans() != 1 {
		t.Errorf("Scans() = %d, want 1", c.Scans())
	}
	if sw.Opens(0) != 1 || sw.Opens(1) != 1 || sw.Opens(2) != 0 {
		t.Errorf("opens = [%d %d %d], want [1 1 0]", sw.Opens(0), sw.Opens(1), sw.Opens(2))
	}
}

func TestLookupUnknownNeverMatches(t *testing.T) {
	c, _ := newSimCache(t, 0, 0x410)

	var nf *ChipNotFoundError
	if _, err := c.Lookup(0); !errors.As(err, &nf) {
		t.Fatalf("Lookup(0) error = %v, want ChipNotFoundError", err)
	}
}

func TestConcurrentLookupScansOnce(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	lim := test.TimeOut(5 * time.Second)
	defer lim.Stop()

	c, sw := newSimCache(t, 0x410, 0x412)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uint16(0x410)
			if i%2 == 1 {
				id = 0x412
			}
			if _, err := c.Lookup(id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Lookup() error = %v", err)
	}
	if c.Scans() != 1 {
		t.Errorf("Scans() = %d, want 1", c.Scans())
	}
	if sw.TotalOpens() != 2 {
		t.Errorf("TotalOpens() = %d, want 2", sw.TotalOpens())
	}
}

func TestFailedScanRestarts(t *testing.T) {
	c, sw := newSimCache(t, 0x410, 0x412)

	failure := errors.New("control transfer timed out")
	sw.OnSelect = func(sel usbswitch.Selection) error {
		if sel.Channel == 1 && sel.Power {
			return failure
		}
		return nil
	}

	if err := c.Ensure(); !errors.Is(err, failure) {
		t.Fatalf("Ensure() error = %v, want switch failure", err)
	}
	if c.Populated() {
		t.Fatal("cache populated after failed scan")
	}

	sw.OnSelect = nil
	ch, err := c.Lookup(0x412)
	if err != nil {
		t.Fatalf("Lookup() after restart error = %v", err)
	}
	if ch != 1 {
		t.Errorf("Lookup() = %d, want 1", ch)
	}
	if c.Scans() != 2 {
		t.Errorf("Scans() = %d, want 2", c.Scans())
	}
	if sw.Opens(0) != 2 {
		t.Errorf("channel 0 opened %d times, want 2", sw.Opens(0))
	}
}

func TestRejectionDuringBringUpIsFatal(t *testing.T) {
	steps := []struct {
		name  string
		match func(sel usbswitch.Selection) bool
	}{
		{"power on", func(sel usbswitch.Selection) bool { return sel.Power && sel.Reset && !sel.Boot0 }},
		{"assert boot0", func(sel usbswitch.Selection) bool { return sel.Power && sel.Reset && sel.Boot0 }},
		{"release reset", func(sel usbswitch.Selection) bool { return sel.Power && !sel.Reset }},
	}

	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			c, sw := newSimCache(t, 0x410, 0x412, 0x413)
			sw.OnSelect = func(sel usbswitch.Selection) error {
				if sel.Channel == 1 && tt.match(sel) {
					return usbswitch.ErrChannelRejected
				}
				return nil
			}

			err := c.Ensure()
			if err == nil {
				t.Fatal("Ensure() succeeded although channel 1 failed to come up")
			}
			if errors.Is(err, usbswitch.ErrChannelRejected) {
				t.Errorf("Ensure() error = %v, must not read as end of channels", err)
			}
			if c.Populated() {
				t.Error("cache populated after failed bring-up")
			}
			if sw.Opens(2) != 0 {
				t.Error("scan continued past the failed channel")
			}
		})
	}
}

// deafController accepts selections but never reports power.
type deafController struct {
	*usbswitch.SimSwitch
}

func (d deafController) Selection() (usbswitch.Selection, error) {
	sel, err := d.SimSwitch.Selection()
	sel.Power = false
	return sel, err
}

func TestPowerOnMustBeConfirmed(t *testing.T) {
	sw := usbswitch.NewSimSwitchWithIDs(0x410)
	c, err := New(Config{Controller: deafController{sw}, Open: sw.Open})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Ensure(); err == nil {
		t.Fatal("Ensure() succeeded although power was never confirmed")
	}
	if sw.TotalOpens() != 0 {
		t.Error("unpowered channel was probed")
	}
}

func TestReport(t *testing.T) {
	c, _ := newSimCache(t, 0x410, 0)

	r, err := c.Report()
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	data, err := r.YAML()
	if err != nil {
		t.Fatalf("YAML() error = %v", err)
	}

	var got Report
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v\n%s", err, data)
	}
	if len(got.Channels) != 2 {
		t.Fatalf("report has %d channels, want 2", len(got.Channels))
	}
	first := got.Channels[0]
	if first.ChipID != "0x410" || first.Family != "STM32F1" || first.Name != "STM32F10x (Medium-density)" {
		t.Errorf("channel 0 = %+v", first)
	}
	if got.Channels[1].ChipID != "0x000" || got.Channels[1].Name != "Unresponsive" {
		t.Errorf("channel 1 = %+v", got.Channels[1])
	}
}

func TestProbeChannel(t *testing.T) {
	c, sw := newSimCache(t, 0x410, 0)

	id, err := c.ProbeChannel(0)
	if err != nil {
		t.Fatalf("ProbeChannel(0) error = %v", err)
	}
	if id != 0x410 {
		t.Errorf("ProbeChannel(0) = 0x%X, want 0x410", id)
	}
	if c.Populated() || c.Scans() != 0 {
		t.Error("ProbeChannel() populated the table")
	}

	if _, err := c.ProbeChannel(1); !errors.Is(err, stboot.ErrTimeout) {
		t.Errorf("ProbeChannel(1) error = %v, want ErrTimeout", err)
	}
	if _, err := c.ProbeChannel(2); !errors.Is(err, usbswitch.ErrChannelRejected) {
		t.Errorf("ProbeChannel(2) error = %v, want ErrChannelRejected", err)
	}

	sel, _ := sw.Selection()
	if sel.Power {
		t.Errorf("selection after probe = %v, want powered down", sel)
	}
}
