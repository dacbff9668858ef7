package stboot

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate used when none is configured. The bootloader
// auto-detects the rate from the sync byte.
const DefaultBaudRate = 115200

// SerialPort is a Port that can be closed.
type SerialPort interface {
	Port
	Close() error
}

// OpenSerial opens a UART with the framing the bootloader expects:
// 8 data bits, even parity, one stop bit.
func OpenSerial(path string, baud int) (SerialPort, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: false,
			DTR: false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
