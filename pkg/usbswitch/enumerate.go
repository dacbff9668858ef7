package usbswitch

import (
	"fmt"
	"strings"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

// DeviceInfo describes a switch found on the bus.
type DeviceInfo struct {
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Manufacturer string
	Product      string
}

// Label returns a user-friendly description.
func (d DeviceInfo) Label() string {
	name := strings.TrimSpace(d.Manufacturer + " " + d.Product)
	if name == "" {
		name = "USB switch"
	}
	return fmt.Sprintf("%s (%04X:%04X)", name, d.VendorID, d.ProductID)
}

// ListDevices enumerates attached switches with the given VID/PID.
func ListDevices(vid, pid uint16) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	defer func() {
		for _, dev := range devs {
			dev.Close()
		}
	}()
	if err != nil && err != gousb.ErrorAccess && len(devs) == 0 {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	infos := make([]DeviceInfo, 0, len(devs))
	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		infos = append(infos, DeviceInfo{
			VendorID:     uint16(dev.Desc.Vendor),
			ProductID:    uint16(dev.Desc.Product),
			SerialNumber: serial,
			Manufacturer: manufacturer,
			Product:      product,
		})
	}
	return infos, nil
}

// PortInfo describes a host serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListSerialPorts enumerates host serial ports with their USB details.
func ListSerialPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return infos, nil
}

// FindSerialPort returns the serial port exposed by the USB device with the
// given identifiers. An empty serial number matches any device.
func FindSerialPort(vid, pid uint16, serial string) (string, error) {
	ports, err := ListSerialPorts()
	if err != nil {
		return "", err
	}
	return matchSerialPort(ports, vid, pid, serial)
}

func matchSerialPort(ports []PortInfo, vid, pid uint16, serial string) (string, error) {
	wantVID := fmt.Sprintf("%04X", vid)
	wantPID := fmt.Sprintf("%04X", pid)
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if !strings.EqualFold(p.VID, wantVID) || !strings.EqualFold(p.PID, wantPID) {
			continue
		}
		if serial != "" && p.SerialNumber != serial {
			continue
		}
		return p.Name, nil
	}
	return "", fmt.Errorf("no serial port for switch %s:%s (serial %q)", wantVID, wantPID, serial)
}
