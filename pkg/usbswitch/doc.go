// Package usbswitch controls the multi-channel USB switch that powers,
// resets and connects the target boards of a test harness.
//
// # Overview
//
// A switch has up to 256 channels. Exactly one channel is selected at a
// time; the selection carries four lines for that channel:
//
//   - Power: target supply
//   - USB:   USB data pass-through from the target to the host
//   - Reset: target NRST (true = asserted)
//   - Boot0: target BOOT0 (true = asserted, system bootloader on reset)
//
// The target UART is routed through the switch to a single host serial
// port, so every channel reports the same serial path on real hardware.
//
// # Wire format
//
// USBSwitch talks to the device with vendor control requests on the
// default endpoint:
//
//	GET_SELECTION  IN   bRequest=0x01  wLength=2       -> [channel, flags]
//	SELECT         OUT  bRequest=0x02  wValue=flags<<8|channel
//
// flags: bit0 power, bit1 usb, bit2 reset, bit3 boot0. The device stalls
// SELECT for a channel that is out of range or not wired; that stall is
// reported as ErrChannelRejected.
//
// # Simulation
//
// SimSwitch implements Controller in memory with a stboot.SimTarget per
// channel, so discovery and orchestration can run without hardware.
package usbswitch
