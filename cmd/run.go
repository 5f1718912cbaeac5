package cmd

import (
	"errors"

	"gpufleet/internal/dispatch"
	"gpufleet/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runManifestRef string
	runKill        bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [manifest]",
	Short: "Dispatch a manifest's experiments across the running fleet",
	Long: `Split the manifest's command batch across every running instance and
start each share inside a tmux experiment session, with the idle-shutdown
monitor armed alongside.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if runManifestRef == "" {
			if len(args) > 0 {
				runManifestRef = args[0]
			} else {
				logging.Logger().Fatal("Manifest file or URL is required")
			}
		}

		ctl, _ := mustController(cmd.Context())
		m := mustManifest(runManifestRef)

		if runKill {
			if err := ctl.KillAllSessions(cmd.Context()); err != nil {
				logging.Logger().Fatal("Failed to kill sessions", zap.Error(err))
			}
		}

		if err := ctl.RunExperiments(cmd.Context(), m); err != nil {
			var capErr *dispatch.InsufficientCapacityError
			if errors.As(err, &capErr) {
				logging.Logger().Fatal("Not enough running instances",
					zap.Int("requested", capErr.Requested),
					zap.Int("available", capErr.Available))
			}
			logging.Logger().Fatal("Failed to dispatch experiments", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runManifestRef, "manifest", "f", "", "Path or URL of the manifest YAML")
	runCmd.Flags().BoolVar(&runKill, "kill", false, "Kill existing tmux sessions before dispatching")
}
