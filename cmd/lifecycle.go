package cmd

import (
	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start all stopped instances",
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		if err := ctl.StartStopped(cmd.Context()); err != nil {
			logging.Logger().Fatal("Failed to start instances", zap.Error(err))
		}
	},
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop all running instances",
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		if err := ctl.StopRunning(cmd.Context()); err != nil {
			logging.Logger().Fatal("Failed to stop instances", zap.Error(err))
		}
	},
}

// terminateCmd represents the terminate command
var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Terminate every instance in the fleet",
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		if err := ctl.TerminateAll(cmd.Context()); err != nil {
			logging.Logger().Fatal("Failed to terminate instances", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(terminateCmd)
}
