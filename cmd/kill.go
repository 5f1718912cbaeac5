package cmd

import (
	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// killCmd represents the kill command
var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Kill tmux sessions on every running instance",
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		if err := ctl.KillAllSessions(cmd.Context()); err != nil {
			logging.Logger().Fatal("Failed to kill sessions", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
