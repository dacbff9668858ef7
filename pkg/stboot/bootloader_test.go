package stboot

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// scriptPort answers the n-th write with replies[n]. A nil reply is silence,
// which the driver sees as a timeout. Reads before any reply time out too.
type scriptPort struct {
	replies [][]byte
	late    []byte // bytes still in flight when the input buffer is reset
	readErr error

	writes   [][]byte
	out      []byte
	timeouts []time.Duration
	resets   int
}

func (p *scriptPort) Write(b []byte) (int, error) {
	idx := len(p.writes)
	p.writes = append(p.writes, append([]byte(nil), b...))
	if idx < len(p.replies) {
		p.out = append(p.out, p.replies[idx]...)
	}
	return len(b), nil
}

func (p *scriptPort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.out) == 0 {
		return 0, nil
	}
	b[0] = p.out[0]
	p.out = p.out[1:]
	return 1, nil
}

func (p *scriptPort) SetReadTimeout(t time.Duration) error {
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *scriptPort) ResetInputBuffer() error {
	p.resets++
	p.out = append(p.out[:0], p.late...)
	p.late = nil
	return nil
}

func getReply(version byte, cmds ...byte) []byte {
	out := []byte{ACK, byte(len(cmds)), version}
	out = append(out, cmds...)
	return append(out, ACK)
}

func idReply(payload ...byte) []byte {
	out := []byte{ACK, byte(len(payload) - 1)}
	out = append(out, payload...)
	return append(out, ACK)
}

func TestInitHandshakeMatrix(t *testing.T) {
	tests := []struct {
		name      string
		replies   [][]byte
		wantErr   error
		wantSyncs int
	}{
		{name: "ack", replies: [][]byte{{ACK}}, wantSyncs: 1},
		{name: "nack", replies: [][]byte{{NACK}}, wantSyncs: 1},
		{name: "timeout then nack", replies: [][]byte{nil, {NACK}}, wantSyncs: 2},
		{name: "timeout then ack", replies: [][]byte{nil, {ACK}}, wantErr: ErrProtocol, wantSyncs: 2},
		{name: "timeout then garbage", replies: [][]byte{nil, {0x00}}, wantErr: ErrProtocol, wantSyncs: 2},
		{name: "two timeouts", replies: [][]byte{nil, nil}, wantErr: ErrTimeout, wantSyncs: 2},
		{name: "garbage", replies: [][]byte{{0x42}}, wantErr: ErrProtocol, wantSyncs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &scriptPort{replies: tt.replies}
			err := New(port, Config{}).Init()

			if tt.wantErr == nil && err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Init() error = %v, want %v", err, tt.wantErr)
			}
			if len(port.writes) != tt.wantSyncs {
				t.Fatalf("wrote %d frames, want %d", len(port.writes), tt.wantSyncs)
			}
			for i, w := range port.writes {
				if !bytes.Equal(w, []byte{SyncByte}) {
					t.Errorf("write %d = % X, want 7F", i, w)
				}
			}
		})
	}
}

func TestInitGarbageCarriesValue(t *testing.T) {
	port := &scriptPort{replies: [][]byte{{0x42}}}
	err := New(port, Config{}).Init()

	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("Init() error = %v, want *ResponseError", err)
	}
	if respErr.Value != 0x42 {
		t.Errorf("ResponseError.Value = 0x%02X, want 0x42", respErr.Value)
	}
}

func TestInitDrainsStaleInput(t *testing.T) {
	port := &scriptPort{
		replies: [][]byte{{ACK}},
		late:    []byte{0x00, 0x11, ACK},
	}
	if err := New(port, Config{}).Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if port.resets != 1 {
		t.Errorf("input buffer reset %d times, want 1", port.resets)
	}
	if len(port.out) != 0 {
		t.Errorf("unread bytes after Init: % X", port.out)
	}
}

func TestInitTimeouts(t *testing.T) {
	port := &scriptPort{replies: [][]byte{{ACK}}}
	if err := New(port, Config{}).Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	want := []time.Duration{DefaultDrainTimeout, DefaultSyncTimeout}
	if len(port.timeouts) != len(want) {
		t.Fatalf("timeouts = %v, want %v", port.timeouts, want)
	}
	for i := range want {
		if port.timeouts[i] != want[i] {
			t.Errorf("timeout %d = %v, want %v", i, port.timeouts[i], want[i])
		}
	}
}

func TestInitTransportError(t *testing.T) {
	boom := errors.New("unplugged")
	port := &scriptPort{replies: [][]byte{{ACK}}}
	b := New(port, Config{})
	port.readErr = boom

	// The drain swallows read errors; the sync read reports them.
	err := b.Init()
	var tErr *TransportError
	if !errors.As(err, &tErr) || !errors.Is(err, boom) {
		t.Fatalf("Init() error = %v, want TransportError wrapping %v", err, boom)
	}
}

func TestFetchCommandSet(t *testing.T) {
	port := &scriptPort{replies: [][]byte{getReply(0x22, 0x00, 0x01, 0x02, 0x11)}}
	b := New(port, Config{})

	if err := b.FetchCommandSet(); err != nil {
		t.Fatalf("FetchCommandSet() error = %v", err)
	}
	if !bytes.Equal(port.writes[0], []byte{0x00, 0xFF}) {
		t.Errorf("GET frame = % X, want 00 FF", port.writes[0])
	}
	if got := b.Commands(); !bytes.Equal(got, []byte{0x00, 0x01, 0x02, 0x11}) {
		t.Errorf("Commands() = % X", got)
	}
	if b.Version() != 0x22 {
		t.Errorf("Version() = 0x%02X, want 0x22", b.Version())
	}
	if !b.Supports(CmdGetID) {
		t.Error("Supports(GET_ID) = false after GET")
	}
	if port.timeouts[len(port.timeouts)-1] != DefaultResponseTimeout {
		t.Errorf("status timeout = %v, want %v", port.timeouts[len(port.timeouts)-1], DefaultResponseTimeout)
	}
}

func TestFetchCommandSetErrors(t *testing.T) {
	tests := []struct {
		name    string
		reply   []byte
		wantErr error
	}{
		{"nack", []byte{NACK}, ErrNACK},
		{"unexpected status", []byte{0x55}, ErrProtocol},
		{"silent", nil, ErrTimeout},
		{"truncated payload", []byte{ACK, 3, 0x22, 0x00}, ErrTimeout},
		{"missing trailing ack", []byte{ACK, 1, 0x22, 0x00}, ErrTimeout},
		{"trailing nack", []byte{ACK, 1, 0x22, 0x00, NACK}, ErrNACK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &scriptPort{replies: [][]byte{tt.reply}}
			b := New(port, Config{})
			err := b.FetchCommandSet()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchCommandSet() error = %v, want %v", err, tt.wantErr)
			}
			if !bytes.Equal(b.Commands(), []byte{CmdGet}) {
				t.Errorf("command set changed on failure: % X", b.Commands())
			}
		})
	}
}

func TestFetchChipIDRequiresGet(t *testing.T) {
	port := &scriptPort{}
	_, err := New(port, Config{}).FetchChipID()

	var unsupported *UnsupportedCommandError
	if !errors.As(err, &unsupported) {
		t.Fatalf("FetchChipID() error = %v, want *UnsupportedCommandError", err)
	}
	if unsupported.Command != CmdGetID {
		t.Errorf("Command = 0x%02X, want 0x02", unsupported.Command)
	}
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Error("error does not match ErrUnsupportedCommand")
	}
	if len(port.writes) != 0 {
		t.Errorf("transport written %d times, want 0", len(port.writes))
	}
}

func TestFetchChipIDNotInCommandSet(t *testing.T) {
	port := &scriptPort{replies: [][]byte{getReply(0x22, 0x00, 0x01, 0x11)}}
	b := New(port, Config{})
	if err := b.FetchCommandSet(); err != nil {
		t.Fatalf("FetchCommandSet() error = %v", err)
	}

	if _, err := b.FetchChipID(); !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("FetchChipID() error = %v, want ErrUnsupportedCommand", err)
	}
	if len(port.writes) != 1 {
		t.Errorf("transport written %d times, want 1 (GET only)", len(port.writes))
	}
}

func TestFetchChipID(t *testing.T) {
	port := &scriptPort{replies: [][]byte{
		getReply(0x22, 0x00, 0x02),
		idReply(0x04, 0x10),
	}}
	b := New(port, Config{})
	if err := b.FetchCommandSet(); err != nil {
		t.Fatalf("FetchCommandSet() error = %v", err)
	}

	id, err := b.FetchChipID()
	if err != nil {
		t.Fatalf("FetchChipID() error = %v", err)
	}
	if id != 0x410 {
		t.Errorf("FetchChipID() = 0x%X, want 0x410", id)
	}
	if !bytes.Equal(port.writes[1], []byte{0x02, 0xFD}) {
		t.Errorf("GET_ID frame = % X, want 02 FD", port.writes[1])
	}
}

func TestFetchChipIDLengthValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"one byte", []byte{0x04}},
		{"three bytes", []byte{0x00, 0x04, 0x10}},
		{"four bytes", []byte{0x00, 0x00, 0x04, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &scriptPort{replies: [][]byte{
				getReply(0x22, 0x00, 0x02),
				idReply(tt.payload...),
			}}
			b := New(port, Config{})
			if err := b.FetchCommandSet(); err != nil {
				t.Fatalf("FetchCommandSet() error = %v", err)
			}

			id, err := b.FetchChipID()
			var lenErr *LengthError
			if !errors.As(err, &lenErr) {
				t.Fatalf("FetchChipID() = 0x%X, %v; want *LengthError", id, err)
			}
			if lenErr.Got != len(tt.payload) {
				t.Errorf("LengthError.Got = %d, want %d", lenErr.Got, len(tt.payload))
			}
			if !errors.Is(err, ErrProtocol) {
				t.Error("length error does not match ErrProtocol")
			}
		})
	}
}

func TestIdentifyWrapsStage(t *testing.T) {
	port := &scriptPort{replies: [][]byte{{ACK}, {NACK}}}
	_, err := Identify(port, Config{})
	if !errors.Is(err, ErrNACK) {
		t.Fatalf("Identify() error = %v, want ErrNACK", err)
	}
}
