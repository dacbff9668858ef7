package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/stboot"
	"github.com/OpenTraceLab/OpenTraceHIL/pkg/usbswitch"
)

var (
	probeChannel int
	probeBaud    int
)

var probeCmd = &cobra.Command{
	Use:   "probe [port]",
	Short: "Identify a target through its UART bootloader",
	Long: `Run the bootloader handshake (sync, GET, GET_ID) and print the chip id,
bootloader version and supported commands.

With a port argument the target must already be in its bootloader. With
--channel the switch boots that channel into its bootloader first and powers
it down afterwards.

Examples:
  hil probe /dev/ttyUSB0
  hil probe --channel 1
  hil probe --channel 0 --switch sim --sim-chips 0x410`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().IntVar(&probeChannel, "channel", -1,
		"switch channel to boot into the bootloader and probe")
	probeCmd.Flags().IntVar(&probeBaud, "baud", stboot.DefaultBaudRate,
		"baud rate for a port argument")
}

func runProbe(cmd *cobra.Command, args []string) error {
	switch {
	case len(args) == 1 && probeChannel >= 0:
		return fmt.Errorf("give either a port or --channel, not both")
	case len(args) == 1:
		return probePort(args[0])
	case probeChannel >= 0:
		return probeSwitchChannel(probeChannel)
	default:
		return fmt.Errorf("a port or --channel is required")
	}
}

func probePort(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	port, err := stboot.OpenSerial(path, probeBaud)
	if err != nil {
		return err
	}
	defer port.Close()

	b := stboot.New(port, stboot.Config{
		Timing:        cfg.StbootTiming(),
		LoggerFactory: newLoggerFactory(),
	})
	if err := b.Init(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if err := b.FetchCommandSet(); err != nil {
		return fmt.Errorf("GET failed: %w", err)
	}
	id, err := b.FetchChipID()
	if err != nil {
		return fmt.Errorf("GET_ID failed: %w", err)
	}

	version := b.Version()
	fmt.Printf("Port:       %s\n", path)
	fmt.Printf("Bootloader: v%d.%d\n", version>>4, version&0x0F)
	fmt.Printf("Commands:   ")
	for i, c := range b.Commands() {
		if i > 0 {
			fmt.Print(" ")
		}
		fmt.Print(stboot.CommandName(c))
	}
	fmt.Println()
	printChip(id)
	return nil
}

func probeSwitchChannel(n int) error {
	if n >= usbswitch.MaxChannels {
		return fmt.Errorf("channel %d out of range (0-%d)", n, usbswitch.MaxChannels-1)
	}
	return withSession(func(s *session) error {
		id, err := s.orch.ProbeChannel(usbswitch.Channel(n))
		if err != nil {
			return fmt.Errorf("probe channel %d: %w", n, err)
		}
		fmt.Printf("Channel:    %d\n", n)
		printChip(id)
		return nil
	})
}

func printChip(id uint16) {
	info := chipid.Lookup(id)
	fmt.Printf("Chip ID:    0x%03X\n", id)
	fmt.Printf("Name:       %s\n", info.Name)
	if info.Known {
		fmt.Printf("Family:     %s (%s)\n", info.Family, info.Core)
	}
}
