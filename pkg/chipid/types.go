// Package chipid maps the product IDs reported by the STM32 system-memory
// bootloader to part descriptions.
package chipid

import "fmt"

// Unknown is the ID recorded for a channel that did not identify.
const Unknown uint16 = 0

// ChipInfo describes one product ID.
type ChipInfo struct {
	ID uint16

	// Human-friendly
	Name   string // "STM32F10x (Medium-density)"
	Family string // "STM32F1"
	Core   string // "Cortex-M3"

	// Known is false for IDs missing from the database.
	Known bool
}

// String returns "0x410 STM32F10x (Medium-density)".
func (c ChipInfo) String() string {
	if c.ID == Unknown {
		return "unknown"
	}
	return fmt.Sprintf("0x%03X %s", c.ID, c.Name)
}
