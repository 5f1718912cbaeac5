package cmd

import (
	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var spawnTotal int

// spawnCmd represents the spawn command
var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Launch instances up to a total fleet size",
	Long: `Launch new instances until the fleet holds the requested total. Counts
every non-terminated instance, so stopped machines reduce how many get
launched.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		if err := ctl.Spawn(cmd.Context(), spawnTotal); err != nil {
			logging.Logger().Fatal("Failed to spawn instances", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(spawnCmd)

	spawnCmd.Flags().IntVarP(&spawnTotal, "total", "n", 1, "Desired total number of instances")
}
