package stboot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/logging"
)

// Port is the byte transport a Bootloader talks through. A Read that returns
// (0, nil) is treated as a timeout, which is how go.bug.st/serial reports an
// expired read deadline.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Timing holds the physical timing assumptions of the harness. They belong
// to the hardware revision, not to the protocol, so every field can be
// overridden from configuration.
type Timing struct {
	Drain    time.Duration // quiet period that ends the input drain
	Sync     time.Duration // wait for the answer to a sync byte
	Response time.Duration // wait for any other status or data byte
	Settle   time.Duration // wait after a power, reset or USB transition
}

// Default timings.
const (
	DefaultDrainTimeout    = 10 * time.Millisecond
	DefaultSyncTimeout     = 100 * time.Millisecond
	DefaultResponseTimeout = 1 * time.Second
	DefaultSettleDelay     = 500 * time.Millisecond
)

// DefaultTiming returns the timings the harness was characterised with.
func DefaultTiming() Timing {
	return Timing{
		Drain:    DefaultDrainTimeout,
		Sync:     DefaultSyncTimeout,
		Response: DefaultResponseTimeout,
		Settle:   DefaultSettleDelay,
	}
}

// maxDrain bounds the drain loop so a babbling line cannot hang Init.
const maxDrain = 64 * 1024

// Config configures a Bootloader.
type Config struct {
	// Timing overrides the read timeouts. Zero fields use the defaults.
	Timing Timing

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Bootloader drives one session with an STM32 system-memory bootloader.
// A Bootloader is scoped to a single connection attempt and should be
// discarded afterwards; its command set is session-local.
type Bootloader struct {
	port     Port
	timing   Timing
	commands []byte
	version  byte
	log      logging.LeveledLogger
}

// New creates a driver on top of port.
func New(port Port, cfg Config) *Bootloader {
	t := cfg.Timing
	if t.Drain <= 0 {
		t.Drain = DefaultDrainTimeout
	}
	if t.Sync <= 0 {
		t.Sync = DefaultSyncTimeout
	}
	if t.Response <= 0 {
		t.Response = DefaultResponseTimeout
	}

	b := &Bootloader{
		port:     port,
		timing:   t,
		commands: []byte{CmdGet},
	}
	if cfg.LoggerFactory != nil {
		b.log = cfg.LoggerFactory.NewLogger("stboot")
	}
	return b
}

// Commands returns a copy of the command set reported by the last GET.
func (b *Bootloader) Commands() []byte {
	return append([]byte(nil), b.commands...)
}

// Version returns the protocol version reported by the last GET, or 0.
func (b *Bootloader) Version() byte {
	return b.version
}

// Supports reports whether cmd is in the current command set.
func (b *Bootloader) Supports(cmd byte) bool {
	for _, c := range b.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// Init synchronizes with the bootloader. A freshly reset target answers the
// first sync byte with ACK. A target left synchronized by an earlier session
// either answers NACK right away or stays silent, in which case a second
// sync byte must be rejected with NACK.
func (b *Bootloader) Init() error {
	if err := b.drain(); err != nil {
		return err
	}

	if err := b.setTimeout(b.timing.Sync); err != nil {
		return err
	}
	if err := b.write("sync", []byte{SyncByte}); err != nil {
		return err
	}

	v, err := b.recvByte("sync")
	switch {
	case err == nil && (v == ACK || v == NACK):
		b.debugf("synchronized (0x%02X)", v)
		return nil
	case err == nil:
		return &ResponseError{Op: "sync", Value: v}
	case !errors.Is(err, ErrTimeout):
		return err
	}

	b.debugf("no answer to sync byte, retrying")
	if err := b.write("resync", []byte{SyncByte}); err != nil {
		return err
	}
	v, err = b.recvByte("resync")
	if err != nil {
		return err
	}
	if v != NACK {
		return &ResponseError{Op: "resync", Value: v}
	}
	b.debugf("target was already synchronized")
	return nil
}

// FetchCommandSet issues GET and replaces the session's command set with
// the ids the target reports.
func (b *Bootloader) FetchCommandSet() error {
	const op = "GET"
	if err := b.send(op, CmdGet); err != nil {
		return err
	}
	data, err := b.readPayload(op)
	if err != nil {
		return err
	}

	b.version = data[0]
	b.commands = append(b.commands[:0], data[1:]...)
	b.debugf("bootloader v%d.%d supports % X", b.version>>4, b.version&0x0F, b.commands)
	return nil
}

// FetchChipID issues GET_ID and returns the product ID. The command must be
// in the set reported by FetchCommandSet; otherwise the port is not touched.
func (b *Bootloader) FetchChipID() (uint16, error) {
	const op = "GET_ID"
	if !b.Supports(CmdGetID) {
		return 0, &UnsupportedCommandError{Command: CmdGetID}
	}
	if err := b.send(op, CmdGetID); err != nil {
		return 0, err
	}
	data, err := b.readPayload(op)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, &LengthError{Op: op, Got: len(data), Want: 2}
	}

	id := binary.BigEndian.Uint16(data)
	b.debugf("chip id 0x%03X", id)
	return id, nil
}

// Identify runs a complete identification session on port: Init, GET and
// GET_ID on a fresh driver.
func Identify(port Port, cfg Config) (uint16, error) {
	b := New(port, cfg)
	if err := b.Init(); err != nil {
		return 0, fmt.Errorf("init: %w", err)
	}
	if err := b.FetchCommandSet(); err != nil {
		return 0, fmt.Errorf("get: %w", err)
	}
	id, err := b.FetchChipID()
	if err != nil {
		return 0, fmt.Errorf("get id: %w", err)
	}
	return id, nil
}

// send writes a command frame and waits for its acknowledgment.
func (b *Bootloader) send(op string, cmd byte) error {
	if err := b.write(op, EncodeCommand(cmd)); err != nil {
		return err
	}
	return b.checkResult(op)
}

// checkResult reads one status byte with the response timeout.
func (b *Bootloader) checkResult(op string) error {
	if err := b.setTimeout(b.timing.Response); err != nil {
		return err
	}
	v, err := b.recvByte(op)
	if err != nil {
		return err
	}
	switch v {
	case ACK:
		return nil
	case NACK:
		return fmt.Errorf("%s: %w", op, ErrNACK)
	default:
		return &ResponseError{Op: op, Value: v}
	}
}

// readPayload reads a length byte N, N+1 data bytes and the trailing ACK.
func (b *Bootloader) readPayload(op string) ([]byte, error) {
	n, err := b.recvByte(op)
	if err != nil {
		return nil, err
	}
	data := make([]byte, int(n)+1)
	for i := range data {
		if data[i], err = b.recvByte(op); err != nil {
			return nil, err
		}
	}
	if err := b.checkResult(op); err != nil {
		return nil, err
	}
	return data, nil
}

func (b *Bootloader) drain() error {
	if err := b.port.ResetInputBuffer(); err != nil {
		return &TransportError{Op: "reset input", Err: err}
	}
	if err := b.setTimeout(b.timing.Drain); err != nil {
		return err
	}
	for i := 0; i < maxDrain; i++ {
		if _, err := b.recvByte("drain"); err != nil {
			return nil
		}
	}
	return fmt.Errorf("stboot: input did not go quiet after %d bytes", maxDrain)
}

func (b *Bootloader) recvByte(op string) (byte, error) {
	var buf [1]byte
	n, err := b.port.Read(buf[:])
	if err != nil {
		return 0, &TransportError{Op: op, Err: err}
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return buf[0], nil
}

func (b *Bootloader) write(op string, data []byte) error {
	n, err := b.port.Write(data)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if n != len(data) {
		return &TransportError{Op: op, Err: io.ErrShortWrite}
	}
	return nil
}

func (b *Bootloader) setTimeout(d time.Duration) error {
	if err := b.port.SetReadTimeout(d); err != nil {
		return &TransportError{Op: "set timeout", Err: err}
	}
	return nil
}

func (b *Bootloader) debugf(format string, args ...interface{}) {
	if b.log != nil {
		b.log.Debugf(format, args...)
	}
}
