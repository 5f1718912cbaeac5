package cmd

import (
	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	manageManifestRef string
	manageSpawnTotal  int
	manageKill        bool
)

// manageCmd represents the manage command
var manageCmd = &cobra.Command{
	Use:   "manage [manifest]",
	Short: "Run the full fleet lifecycle for a manifest",
	Long: `Start stopped instances, optionally grow the fleet, wait until everything
is running, dispatch the manifest, then sync results and power off finished
machines on a timer until the fleet drains.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if manageManifestRef == "" {
			if len(args) > 0 {
				manageManifestRef = args[0]
			} else {
				logging.Logger().Fatal("Manifest file or URL is required")
			}
		}

		ctl, _ := mustController(cmd.Context())
		m := mustManifest(manageManifestRef)

		if err := ctl.Manage(cmd.Context(), m, manageSpawnTotal, manageKill); err != nil {
			logging.Logger().Fatal("Control loop failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(manageCmd)

	manageCmd.Flags().StringVarP(&manageManifestRef, "manifest", "f", "", "Path or URL of the manifest YAML")
	manageCmd.Flags().IntVarP(&manageSpawnTotal, "total", "n", 0, "Grow the fleet to this total before dispatching (0 keeps the current size)")
	manageCmd.Flags().BoolVar(&manageKill, "kill", false, "Kill existing tmux sessions before dispatching")
}
