package stboot

import "fmt"

// Bootloader wire constants (ST AN3155).
const (
	SyncByte = 0x7F
	ACK      = 0x79
	NACK     = 0x1F
)

// Command IDs
const (
	CmdGet   = 0x00
	CmdGetID = 0x02
)

// Checksum returns the one's-complement checksum byte sent after a command.
func Checksum(cmd byte) byte {
	return 0xFF - cmd
}

// EncodeCommand builds a command frame: the command byte followed by its
// checksum.
func EncodeCommand(cmd byte) []byte {
	return []byte{cmd, Checksum(cmd)}
}

// DecodeCommand validates a command frame and returns the command byte.
func DecodeCommand(frame []byte) (byte, error) {
	if len(frame) != 2 {
		return 0, fmt.Errorf("stboot: command frame must be 2 bytes, got %d", len(frame))
	}
	if frame[1] != Checksum(frame[0]) {
		return 0, fmt.Errorf("stboot: bad checksum 0x%02X for command 0x%02X (want 0x%02X)",
			frame[1], frame[0], Checksum(frame[0]))
	}
	return frame[0], nil
}

// CommandName returns a human-readable name for a bootloader command.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdGet:
		return "GET"
	case 0x01:
		return "GET_VERSION"
	case CmdGetID:
		return "GET_ID"
	case 0x11:
		return "READ_MEMORY"
	case 0x21:
		return "GO"
	case 0x31:
		return "WRITE_MEMORY"
	case 0x43:
		return "ERASE"
	case 0x44:
		return "EXTENDED_ERASE"
	case 0x63:
		return "WRITE_PROTECT"
	case 0x73:
		return "WRITE_UNPROTECT"
	case 0x82:
		return "READOUT_PROTECT"
	case 0x92:
		return "READOUT_UNPROTECT"
	default:
		return fmt.Sprintf("0x%02X", cmd)
	}
}
