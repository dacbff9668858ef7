package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flashFeatures []string

var flashCmd = &cobra.Command{
	Use:   "flash <example>",
	Short: "Boot the selected channel into its bootloader and flash an example",
	Long: `Power the selected channel with boot0 asserted, release reset and run the
configured flash command for the example. The command runs in the firmware
directory with {example}, {features} and {port} substituted.

Examples:
  hil flash test_class
  hil flash test_class --features ram_disk,serial`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)

	flashCmd.Flags().StringSliceVar(&flashFeatures, "features", nil,
		"firmware features (comma separated)")
}

func runFlash(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		if err := s.orch.FlashFirmware(cmd.Context(), args[0], flashFeatures); err != nil {
			return err
		}
		fmt.Printf("Flashed %s\n", args[0])
		return nil
	})
}
