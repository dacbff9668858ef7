package stboot

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the target does not answer within the
	// read timeout.
	ErrTimeout = errors.New("stboot: timeout waiting for response")

	// ErrNACK is returned when the target answers with a negative
	// acknowledgment.
	ErrNACK = errors.New("stboot: negative acknowledge")

	// ErrProtocol is the parent of every unexpected byte or length error.
	ErrProtocol = errors.New("stboot: protocol violation")

	// ErrUnsupportedCommand is the parent of UnsupportedCommandError.
	ErrUnsupportedCommand = errors.New("stboot: unsupported command")
)

// ResponseError reports a status byte that was neither ACK nor NACK.
type ResponseError struct {
	Op    string
	Value byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("stboot: %s: unexpected response 0x%02X", e.Op, e.Value)
}

func (e *ResponseError) Unwrap() error { return ErrProtocol }

// LengthError reports a payload whose size does not match the command.
type LengthError struct {
	Op   string
	Got  int
	Want int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("stboot: %s: unsupported response length %d (want %d)", e.Op, e.Got, e.Want)
}

func (e *LengthError) Unwrap() error { return ErrProtocol }

// UnsupportedCommandError is returned when a command is not in the set the
// target reported during GET.
type UnsupportedCommandError struct {
	Command byte
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("stboot: unsupported command 0x%02X (%s)", e.Command, CommandName(e.Command))
}

func (e *UnsupportedCommandError) Unwrap() error { return ErrUnsupportedCommand }

// TransportError wraps a failure of the underlying port.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stboot: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
