package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanYAML bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover the chip on every switch channel",
	Long: `Power cycle every wired channel into its bootloader and identify the chip.
Channels that do not answer are listed as unresponsive. The scan stops at the
first channel the switch rejects.

Examples:
  hil scan
  hil scan --yaml > topology.yaml
  hil scan --switch sim --sim-chips 0x410,0,0x413`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().BoolVar(&scanYAML, "yaml", false, "print the topology as YAML")
}

func runScan(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		if !scanYAML {
			fmt.Println("Scanning switch channels...")
		}
		report, err := s.topo.Report()
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		if scanYAML {
			data, err := report.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		}

		fmt.Printf("\nFound %d channel(s)\n\n", len(report.Channels))
		fmt.Printf("  %-7s  %-7s  %-38s  %s\n", "CHANNEL", "CHIP ID", "NAME", "FAMILY")
		for _, ch := range report.Channels {
			fmt.Printf("  %-7d  %-7s  %-38s  %s\n", ch.Channel, ch.ChipID, ch.Name, ch.Family)
		}
		return nil
	})
}
