package cmd

import (
	"gpufleet/internal/logging"
	"gpufleet/internal/manifest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncManifestRef string

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull results from every running instance",
	Long: `Run one sync sweep: pull each configured source path from each running
instance to the sync target. Failures on one instance never block the rest.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctl, _ := mustController(cmd.Context())

		var m *manifest.Manifest
		if syncManifestRef != "" {
			m = mustManifest(syncManifestRef)
		}

		if err := ctl.SyncOnce(cmd.Context(), m, nil); err != nil {
			logging.Logger().Fatal("Sync sweep failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncManifestRef, "manifest", "f", "", "Manifest whose sync sources and target override the config")
}
