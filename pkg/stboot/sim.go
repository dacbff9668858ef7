package stboot

import (
	"sync"
	"time"
)

// DefaultSimCommands is the command set reported by an STM32F1 bootloader.
var DefaultSimCommands = []byte{0x00, 0x01, 0x02, 0x11, 0x21, 0x31, 0x43, 0x63, 0x73, 0x82, 0x92}

// SimTarget is an in-memory bootloader that implements Port. It follows the
// target-side state machine closely enough to exercise the handshake: the
// first sync byte is acknowledged, afterwards bytes are collected in
// two-byte command frames and a frame with a bad checksum (such as a
// duplicate sync byte) is answered with NACK.
//
// Reads never block; an empty output queue reads as a timeout.
type SimTarget struct {
	ID       uint16
	Version  byte
	Commands []byte

	// IDPayload, if set, replaces the two-byte GET_ID payload.
	IDPayload []byte

	mu       sync.Mutex
	running  bool // executing the system-memory bootloader
	synced   bool
	pending  []byte
	out      []byte
	written  []byte
	timeouts []time.Duration
}

// NewSimTarget returns a target that has just been reset into its
// bootloader.
func NewSimTarget(id uint16) *SimTarget {
	return &SimTarget{
		ID:       id,
		Version:  0x22,
		Commands: append([]byte(nil), DefaultSimCommands...),
		running:  true,
	}
}

// Boot models a reset release. With bootloader set the target enters its
// system-memory bootloader unsynchronized; otherwise it runs the
// application and ignores the UART.
func (s *SimTarget) Boot(bootloader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = bootloader
	s.synced = false
	s.pending = nil
	s.out = nil
}

// Halt models loss of power or an asserted reset.
func (s *SimTarget) Halt() {
	s.Boot(false)
}

// Synced reports whether the target has accepted a sync byte.
func (s *SimTarget) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// Written returns every byte the host has written.
func (s *SimTarget) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

func (s *SimTarget) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.written = append(s.written, p...)
	if !s.running {
		return len(p), nil
	}
	for _, b := range p {
		if !s.synced {
			if b == SyncByte {
				s.synced = true
				s.out = append(s.out, ACK)
			}
			continue
		}
		s.pending = append(s.pending, b)
		if len(s.pending) == 2 {
			s.handleFrame(s.pending)
			s.pending = nil
		}
	}
	return len(p), nil
}

func (s *SimTarget) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func (s *SimTarget) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	s.timeouts = append(s.timeouts, t)
	s.mu.Unlock()
	return nil
}

// Timeouts returns the read timeouts the host has set, in order.
func (s *SimTarget) Timeouts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.timeouts...)
}

func (s *SimTarget) ResetInputBuffer() error {
	s.mu.Lock()
	s.out = nil
	s.mu.Unlock()
	return nil
}

// Close implements SerialPort.
func (s *SimTarget) Close() error {
	return nil
}

func (s *SimTarget) handleFrame(frame []byte) {
	cmd, err := DecodeCommand(frame)
	if err != nil || !s.supports(cmd) {
		s.out = append(s.out, NACK)
		return
	}

	switch cmd {
	case CmdGet:
		s.out = append(s.out, ACK, byte(len(s.Commands)), s.Version)
		s.out = append(s.out, s.Commands...)
		s.out = append(s.out, ACK)
	case CmdGetID:
		payload := s.IDPayload
		if payload == nil {
			payload = []byte{byte(s.ID >> 8), byte(s.ID)}
		}
		s.out = append(s.out, ACK, byte(len(payload)-1))
		s.out = append(s.out, payload...)
		s.out = append(s.out, ACK)
	default:
		s.out = append(s.out, NACK)
	}
}

func (s *SimTarget) supports(cmd byte) bool {
	for _, c := range s.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}
