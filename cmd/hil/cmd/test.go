package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the USB device conformance suite",
	Long: `Run the configured conformance command against the connected target.
The command runs in the conformance directory with {port} substituted.`,
	Args: cobra.NoArgs,
	RunE: runTest,
}

var suiteFeatures []string

var suiteCmd = &cobra.Command{
	Use:   "suite <chip-id> <example>",
	Short: "Select, flash, run and test a chip, then power it down",
	Long: `Run a complete hardware test: select the channel holding the chip, flash
the example, boot it with USB connected, run the conformance suite and power
the channel down. The channel is powered down even when a step fails.

Examples:
  hil suite 0x410 test_class
  hil suite 0x410 test_class --features ram_disk`,
	Args: cobra.ExactArgs(2),
	RunE: runSuite,
}

func init() {
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(suiteCmd)

	suiteCmd.Flags().StringSliceVar(&suiteFeatures, "features", nil,
		"firmware features (comma separated)")
}

func runTest(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		if err := s.orch.RunDeviceTests(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Device tests passed")
		return nil
	})
}

func runSuite(cmd *cobra.Command, args []string) error {
	id, err := parseChipID(args[0])
	if err != nil {
		return err
	}
	return withSession(func(s *session) error {
		fmt.Printf("Running %s on %s\n", args[1], chipid.Lookup(id))
		if err := s.orch.RunSuite(cmd.Context(), id, args[1], suiteFeatures); err != nil {
			return fmt.Errorf("suite failed: %w", err)
		}
		fmt.Println("Suite passed")
		return nil
	})
}
