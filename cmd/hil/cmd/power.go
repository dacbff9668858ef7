package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the selected channel and connect its USB port",
	Long: `Power cycle the selected channel with boot0 released so it runs the
flashed application, then enable USB pass-through to the host.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Power down and disconnect the selected channel",
	Args:  cobra.NoArgs,
	RunE:  runShutdown,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current switch selection",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(statusCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		if err := s.orch.RunAndConnect(); err != nil {
			return err
		}
		fmt.Println("Target running, USB connected")
		return nil
	})
}

func runShutdown(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		if err := s.orch.Shutdown(); err != nil {
			return err
		}
		fmt.Println("Target powered down")
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withSession(func(s *session) error {
		sel, err := s.ctrl.Selection()
		if err != nil {
			return fmt.Errorf("get selection: %w", err)
		}
		fmt.Printf("Selection: %s\n", sel)
		return nil
	})
}
