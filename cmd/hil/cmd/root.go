package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	switchDriver string
	simChips     []string
)

var rootCmd = &cobra.Command{
	Use:   "hil",
	Short: "Hardware-in-the-loop test harness controller",
	Long: `Drive a multi-channel USB switch that powers, resets and connects STM32
target boards, identify the chip on every channel through the UART system
bootloader, and run firmware test suites against a chosen chip.

Examples:
  hil scan                                   # Discover which chip sits on which channel
  hil scan --switch sim --sim-chips 0x410,0x412
  hil select 0x410                           # Select the STM32F1 medium-density board
  hil suite 0x410 test_class                 # Select, flash, boot, test, power down
  hil probe /dev/ttyUSB0                     # Identify a target on a plain UART`,
	Version:       "0.4.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "hil.yaml",
		"harness configuration file")
	rootCmd.PersistentFlags().StringVar(&switchDriver, "switch", "",
		"switch driver (usb, sim); overrides the configuration")
	rootCmd.PersistentFlags().StringSliceVar(&simChips, "sim-chips", nil,
		"simulator: chip id per channel (hex, e.g. 0x410,0x412; 0 = empty)")
}
