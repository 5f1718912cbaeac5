package cmd

import (
	"gpufleet/internal/logging"
	"gpufleet/internal/manifest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	syncStoppedManifestRef string
	syncStoppedBatches     int
)

// syncStoppedCmd represents the sync-stopped command
var syncStoppedCmd = &cobra.Command{
	Use:   "sync-stopped",
	Short: "Recover results from stopped instances",
	Long: `Start stopped instances in batches, pull their results and stop them
again. Each batch is stopped even when its sync fails, so no machine is
left running by accident.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		var m *manifest.Manifest
		if syncStoppedManifestRef != "" {
			m = mustManifest(syncStoppedManifestRef)
		}

		if err := ctl.SyncStopped(cmd.Context(), m, syncStoppedBatches); err != nil {
			logging.Logger().Fatal("Failed to sync stopped instances", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncStoppedCmd)

	syncStoppedCmd.Flags().StringVarP(&syncStoppedManifestRef, "manifest", "f", "", "Manifest whose sync sources and target override the config")
	syncStoppedCmd.Flags().IntVar(&syncStoppedBatches, "batches", 5, "Number of start/sync/stop batches")
}
