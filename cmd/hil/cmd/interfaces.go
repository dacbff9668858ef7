package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List attached switches and serial ports",
	Long: `Scan the host for USB switches with the configured VID/PID and list the
serial ports with their USB details. Use this to verify connectivity or to
find the serial number and UART of a switch before writing the configuration.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	devs, err := usbswitch.ListDevices(cfg.Switch.VendorID, cfg.Switch.ProductID)
	if err != nil {
		return fmt.Errorf("discover switches: %w", err)
	}
	if len(devs) == 0 {
		fmt.Printf("No switches found (VID:PID %04X:%04X).\n", cfg.Switch.VendorID, cfg.Switch.ProductID)
	} else {
		fmt.Println("Detected switches:")
		for _, d := range devs {
			fmt.Printf("  - %s serial %q\n", d.Label(), d.SerialNumber)
		}
	}

	ports, err := usbswitch.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}
	fmt.Println("Serial ports:")
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("  - %s (USB %s:%s serial %q %s)\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
		} else {
			fmt.Printf("  - %s\n", p.Name)
		}
	}
	return nil
}
