package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceHIL/pkg/chipid"
)

var selectCmd = &cobra.Command{
	Use:   "select <chip-id>",
	Short: "Select the channel holding a chip",
	Long: `Scan the switch, find the channel holding the given chip and select it
powered down, in reset and disconnected.

Examples:
  hil select 0x410
  hil select "STM32F40x/41x"`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

func init() {
	rootCmd.AddCommand(selectCmd)
}

func runSelect(cmd *cobra.Command, args []string) error {
	id, err := parseChipID(args[0])
	if err != nil {
		return err
	}
	return withSession(func(s *session) error {
		ch, err := s.orch.SelectChip(id)
		if err != nil {
			return err
		}
		fmt.Printf("Selected %s on channel %d\n", chipid.Lookup(id), ch)
		return nil
	})
}
